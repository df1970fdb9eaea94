package engine

import (
	"testing"
)

func TestClassifyTarget(t *testing.T) {
	cases := []struct {
		link string
		want Kind
	}{
		{"https://example.com/video/master.m3u8", KindHLSManifest},
		{"https://example.com/stream.M3U8?token=abc", KindHLSManifest},
		{"s3://bucket/path/to/object.bin", KindS3Object},
		{"https://example.com/file.iso", KindWholeFile},
		{"https://example.com/download?id=42", KindWholeFile},
		{"https://example.com/file.mp4?src=v.m3u8", KindWholeFile},
	}
	for _, tc := range cases {
		if got := classifyTarget(tc.link); got != tc.want {
			t.Errorf("classifyTarget(%q) = %s, want %s", tc.link, got, tc.want)
		}
	}
}

func TestMergeSpans(t *testing.T) {
	merged := mergeSpans([]span{{50, 99}, {0, 49}, {200, 299}, {100, 150}})
	want := []span{{0, 150}, {200, 299}}
	if len(merged) != len(want) {
		t.Fatalf("merged = %v, want %v", merged, want)
	}
	for i := range want {
		if merged[i] != want[i] {
			t.Fatalf("merged = %v, want %v", merged, want)
		}
	}
}

func TestRemainingSpansCoverComplement(t *testing.T) {
	const total = 1000
	done := []span{{0, 99}, {300, 499}, {900, 999}}
	gaps := remainingSpans(done, total)
	want := []span{{100, 299}, {500, 899}}
	if len(gaps) != len(want) {
		t.Fatalf("gaps = %v, want %v", gaps, want)
	}
	for i := range want {
		if gaps[i] != want[i] {
			t.Fatalf("gaps = %v, want %v", gaps, want)
		}
	}
	if coveredBytes(done)+coveredBytes(gaps) != total {
		t.Error("done and remaining spans do not partition the object")
	}
}

func TestRemainingSpansEmptyWhenComplete(t *testing.T) {
	if gaps := remainingSpans([]span{{0, 499}, {500, 999}}, 1000); len(gaps) != 0 {
		t.Errorf("gaps = %v, want none", gaps)
	}
	if gaps := remainingSpans(nil, 100); len(gaps) != 1 || gaps[0] != (span{0, 99}) {
		t.Errorf("gaps for nothing done = %v", gaps)
	}
}

func TestDeriveFileName(t *testing.T) {
	if got := deriveFileName("https://example.com/a/b/file.bin?x=1", ""); got != "file.bin" {
		t.Errorf("got %q", got)
	}
	if got := deriveFileName("https://example.com/a/file.bin", "server name.pdf"); got != "server name.pdf" {
		t.Errorf("server-suggested name ignored: %q", got)
	}
	if got := deriveFileName("https://example.com/", ""); got != "download" {
		t.Errorf("got %q", got)
	}
}
