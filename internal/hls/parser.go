package hls

import (
	"bufio"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	tagStreamInf = "#EXT-X-STREAM-INF"
	tagExtInf    = "#EXTINF"
)

// ManifestParseError is terminal for the whole target and never retried.
type ManifestParseError struct {
	URL    string
	Reason string
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("manifest parse error for %s: %s", e.URL, e.Reason)
}

// VariantPlaylist describes one rendition from a master playlist.
type VariantPlaylist struct {
	URL        string
	LocalName  string
	Bandwidth  int64
	Resolution string
	Index      int // position in the source manifest
}

// SegmentDescriptor describes one media segment from a variant playlist.
// Index is the playback order and also drives scheduling priority.
type SegmentDescriptor struct {
	URL       string
	LocalName string
	Duration  float64
	Index     int
}

// ParseMaster extracts the variant list from a master manifest. Relative
// variant URIs resolve against the manifest's own URL. The result is sorted
// by descending bandwidth so callers can default to the best rendition.
func ParseMaster(manifest string, baseURL *url.URL) ([]VariantPlaylist, error) {
	var variants []VariantPlaylist
	var pending *VariantPlaylist
	index := 0
	scanner := bufio.NewScanner(strings.NewReader(manifest))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, tagStreamInf) {
			attrs := parseAttributes(strings.TrimPrefix(line, tagStreamInf+":"))
			v := VariantPlaylist{Resolution: attrs["RESOLUTION"]}
			if bw, err := strconv.ParseInt(attrs["BANDWIDTH"], 10, 64); err == nil {
				v.Bandwidth = bw
			}
			pending = &v
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		// A URI line consumes the metadata of the preceding stream-inf tag
		if pending != nil {
			resolved, err := resolveURL(baseURL, line)
			if err != nil {
				return nil, fmt.Errorf("error resolving variant URL %q: %v", line, err)
			}
			pending.URL = resolved
			pending.Index = index
			pending.LocalName = fmt.Sprintf("variant_%d.m3u8", index)
			variants = append(variants, *pending)
			pending = nil
			index++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning manifest: %v", err)
	}
	if len(variants) == 0 {
		return nil, &ManifestParseError{URL: baseURL.String(), Reason: "no variants found"}
	}
	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].Bandwidth > variants[j].Bandwidth
	})
	return variants, nil
}

// ParseVariant extracts the ordered segment list from a variant manifest.
// Segment local names are namespaced by variantName so multiple variants can
// share one output directory without collisions.
func ParseVariant(manifest string, baseURL *url.URL, variantName string) ([]SegmentDescriptor, error) {
	var segments []SegmentDescriptor
	duration := float64(-1)
	index := 0
	scanner := bufio.NewScanner(strings.NewReader(manifest))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, tagExtInf) {
			value := strings.TrimPrefix(line, tagExtInf+":")
			if comma := strings.Index(value, ","); comma >= 0 {
				value = value[:comma]
			}
			if d, err := strconv.ParseFloat(value, 64); err == nil {
				duration = d
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		resolved, err := resolveURL(baseURL, line)
		if err != nil {
			return nil, fmt.Errorf("error resolving segment URL %q: %v", line, err)
		}
		segments = append(segments, SegmentDescriptor{
			URL:       resolved,
			LocalName: fmt.Sprintf("%s_seg%05d.ts", variantName, index),
			Duration:  duration,
			Index:     index,
		})
		duration = -1
		index++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning manifest: %v", err)
	}
	if len(segments) == 0 {
		return nil, &ManifestParseError{URL: baseURL.String(), Reason: "no segments found"}
	}
	return segments, nil
}

// IsMaster reports whether the manifest declares variant streams.
func IsMaster(manifest string) bool {
	return strings.Contains(manifest, tagStreamInf)
}

func resolveURL(baseURL *url.URL, urlStr string) (string, error) {
	if strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://") {
		return urlStr, nil // Already an absolute URL
	}
	relURL, err := url.Parse(urlStr)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(relURL).String(), nil
}

// parseAttributes splits an attribute list like BANDWIDTH=2000000,CODECS="a,b"
// respecting quoted values.
func parseAttributes(list string) map[string]string {
	attrs := make(map[string]string)
	var key, value strings.Builder
	inKey := true
	inQuotes := false
	flush := func() {
		if key.Len() > 0 {
			attrs[strings.TrimSpace(key.String())] = value.String()
		}
		key.Reset()
		value.Reset()
		inKey = true
	}
	for _, r := range list {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == '=' && inKey && !inQuotes:
			inKey = false
		case r == ',' && !inQuotes:
			flush()
		case inKey:
			key.WriteRune(r)
		default:
			value.WriteRune(r)
		}
	}
	flush()
	return attrs
}
