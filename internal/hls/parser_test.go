package hls

import (
	"errors"
	"net/url"
	"strings"
	"testing"
)

const masterManifest = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360,CODECS="avc1.4d401e,mp4a.40.2"
v2.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1280x720
v1.m3u8
`

const variantManifest = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:5
#EXTINF:4.5,
seg0.ts
#EXTINF:4.0,
seg1.ts
#EXTINF:2.25,
https://cdn.example.com/seg2.ts
#EXT-X-ENDLIST
`

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing %q: %v", raw, err)
	}
	return u
}

func TestParseMasterOrdersByBandwidth(t *testing.T) {
	base := mustParseURL(t, "https://media.example.com/hls/master.m3u8")
	variants, err := ParseMaster(masterManifest, base)
	if err != nil {
		t.Fatalf("ParseMaster: %v", err)
	}
	if len(variants) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(variants))
	}
	if variants[0].Bandwidth != 2000000 || variants[1].Bandwidth != 800000 {
		t.Errorf("variants not sorted by descending bandwidth: %d, %d", variants[0].Bandwidth, variants[1].Bandwidth)
	}
	if variants[0].URL != "https://media.example.com/hls/v1.m3u8" {
		t.Errorf("unexpected best variant URL: %s", variants[0].URL)
	}
	if variants[0].Resolution != "1280x720" {
		t.Errorf("unexpected resolution: %s", variants[0].Resolution)
	}
	// Index keeps the source manifest position for mirror rewriting
	if variants[0].Index != 1 || variants[1].Index != 0 {
		t.Errorf("unexpected source indices: %d, %d", variants[0].Index, variants[1].Index)
	}
}

func TestParseMasterNoVariants(t *testing.T) {
	base := mustParseURL(t, "https://media.example.com/hls/master.m3u8")
	_, err := ParseMaster("#EXTM3U\n#EXT-X-VERSION:3\n", base)
	var perr *ManifestParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ManifestParseError, got %T: %v", err, err)
	}
}

func TestParseVariant(t *testing.T) {
	base := mustParseURL(t, "https://media.example.com/hls/720p/index.m3u8")
	segments, err := ParseVariant(variantManifest, base, "720p")
	if err != nil {
		t.Fatalf("ParseVariant: %v", err)
	}
	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segments))
	}
	want := []struct {
		url      string
		local    string
		duration float64
	}{
		{"https://media.example.com/hls/720p/seg0.ts", "720p_seg00000.ts", 4.5},
		{"https://media.example.com/hls/720p/seg1.ts", "720p_seg00001.ts", 4.0},
		{"https://cdn.example.com/seg2.ts", "720p_seg00002.ts", 2.25},
	}
	for i, w := range want {
		if segments[i].URL != w.url {
			t.Errorf("segment %d URL = %s, want %s", i, segments[i].URL, w.url)
		}
		if segments[i].LocalName != w.local {
			t.Errorf("segment %d local name = %s, want %s", i, segments[i].LocalName, w.local)
		}
		if segments[i].Duration != w.duration {
			t.Errorf("segment %d duration = %v, want %v", i, segments[i].Duration, w.duration)
		}
		if segments[i].Index != i {
			t.Errorf("segment %d index = %d", i, segments[i].Index)
		}
	}
}

func TestParseVariantNoSegments(t *testing.T) {
	base := mustParseURL(t, "https://media.example.com/hls/index.m3u8")
	_, err := ParseVariant("#EXTM3U\n#EXT-X-ENDLIST\n", base, "v")
	var perr *ManifestParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ManifestParseError, got %v", err)
	}
}

func TestIsMaster(t *testing.T) {
	if !IsMaster(masterManifest) {
		t.Error("master manifest not detected")
	}
	if IsMaster(variantManifest) {
		t.Error("variant manifest misdetected as master")
	}
}

func TestWriteVariantMirror(t *testing.T) {
	base := mustParseURL(t, "https://media.example.com/hls/720p/index.m3u8")
	segments, err := ParseVariant(variantManifest, base, "720p")
	if err != nil {
		t.Fatalf("ParseVariant: %v", err)
	}
	var sb strings.Builder
	if err := WriteVariantMirror(&sb, variantManifest, segments); err != nil {
		t.Fatalf("WriteVariantMirror: %v", err)
	}
	mirror := sb.String()
	for _, line := range []string{"#EXT-X-TARGETDURATION:5", "#EXTINF:4.5,", "#EXT-X-ENDLIST"} {
		if !strings.Contains(mirror, line) {
			t.Errorf("mirror lost tag line %q", line)
		}
	}
	for _, local := range []string{"720p_seg00000.ts", "720p_seg00001.ts", "720p_seg00002.ts"} {
		if !strings.Contains(mirror, local) {
			t.Errorf("mirror missing local name %q", local)
		}
	}
	if strings.Contains(mirror, "https://cdn.example.com/seg2.ts") {
		t.Error("mirror still references a remote segment URL")
	}
}

func TestWriteMasterMirrorKeepsOrder(t *testing.T) {
	base := mustParseURL(t, "https://media.example.com/hls/master.m3u8")
	variants, err := ParseMaster(masterManifest, base)
	if err != nil {
		t.Fatalf("ParseMaster: %v", err)
	}
	var sb strings.Builder
	if err := WriteMasterMirror(&sb, masterManifest, variants, variants); err != nil {
		t.Fatalf("WriteMasterMirror: %v", err)
	}
	mirror := sb.String()
	// v2.m3u8 came first in the source, so variant_0 must appear first
	first := strings.Index(mirror, "variant_0.m3u8")
	second := strings.Index(mirror, "variant_1.m3u8")
	if first < 0 || second < 0 || first > second {
		t.Errorf("master mirror lost source ordering:\n%s", mirror)
	}
}

func TestWriteMasterMirrorKeepsRemoteVariants(t *testing.T) {
	base := mustParseURL(t, "https://media.example.com/hls/master.m3u8")
	variants, err := ParseMaster(masterManifest, base)
	if err != nil {
		t.Fatalf("ParseMaster: %v", err)
	}
	// Only the best variant (v1, source index 1) was downloaded
	var sb strings.Builder
	if err := WriteMasterMirror(&sb, masterManifest, variants, variants[:1]); err != nil {
		t.Fatalf("WriteMasterMirror: %v", err)
	}
	mirror := sb.String()
	if !strings.Contains(mirror, "variant_1.m3u8") {
		t.Error("downloaded variant not rewritten to its local name")
	}
	// The undownloaded variant's relative URI must become an absolute
	// remote URL instead of a dangling local-looking name
	if !strings.Contains(mirror, "https://media.example.com/hls/v2.m3u8") {
		t.Errorf("undownloaded variant not absolutized:\n%s", mirror)
	}
	if strings.Contains(mirror, "\nv2.m3u8\n") {
		t.Error("undownloaded variant left as a relative URI")
	}
}
