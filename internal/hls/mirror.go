package hls

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// WriteVariantMirror rewrites a variant manifest with segment URIs replaced
// by their local file names. Tag lines, recognized or not, pass through
// verbatim so the mirror stays playable by any HLS-capable player.
func WriteVariantMirror(w io.Writer, manifest string, segments []SegmentDescriptor) error {
	locals := make(map[int]string, len(segments))
	for _, seg := range segments {
		locals[seg.Index] = seg.LocalName
	}
	return rewriteURILines(w, manifest, locals)
}

// WriteMasterMirror rewrites a master manifest preserving the original
// ordering: downloaded variants point at their local playlist names, the
// rest keep their absolute remote URLs so relative source URIs do not turn
// into dangling local references.
func WriteMasterMirror(w io.Writer, manifest string, variants, downloaded []VariantPlaylist) error {
	names := make(map[int]string, len(variants))
	for _, v := range variants {
		names[v.Index] = v.URL
	}
	for _, v := range downloaded {
		names[v.Index] = v.LocalName
	}
	return rewriteURILines(w, manifest, names)
}

func rewriteURILines(w io.Writer, manifest string, locals map[int]string) error {
	index := 0
	scanner := bufio.NewScanner(strings.NewReader(manifest))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			if local, ok := locals[index]; ok {
				line = local
			}
			index++
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("error writing manifest mirror: %v", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error scanning manifest: %v", err)
	}
	return nil
}
