package s3

import "testing"

func TestParseURL(t *testing.T) {
	cases := []struct {
		link    string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://mybucket/path/to/file.txt", "mybucket", "path/to/file.txt", false},
		{"s3://mybucket/folder/", "mybucket", "folder/", false},
		{"s3://mybucket", "", "", true},
		{"s3://mybucket/", "", "", true},
		{"s3:///key", "", "", true},
		{"https://example.com/file", "", "", true},
	}
	for _, c := range cases {
		bucket, key, err := ParseURL(c.link)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseURL(%q): expected error, got %q/%q", c.link, bucket, key)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseURL(%q): %v", c.link, err)
			continue
		}
		if bucket != c.bucket || key != c.key {
			t.Errorf("ParseURL(%q) = %q/%q, want %q/%q", c.link, bucket, key, c.bucket, c.key)
		}
	}
}
