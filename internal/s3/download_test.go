package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 serves objects from memory and counts GetObject calls per key.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    map[string]int
}

func newFakeS3(objects map[string][]byte) *fakeS3 {
	return &fakeS3{objects: objects, gets: make(map[string]int)}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	f.gets[*in.Key]++
	data, ok := f.objects[*in.Key]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no such key: %s", *in.Key)
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
		ContentRange:  aws.String(fmt.Sprintf("bytes 0-%d/%d", len(data)-1, len(data))),
	}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var contents []types.Object
	for _, key := range keys {
		contents = append(contents, types.Object{
			Key:  aws.String(key),
			Size: aws.Int64(int64(len(f.objects[key]))),
		})
	}
	return &s3.ListObjectsV2Output{Contents: contents, IsTruncated: aws.Bool(false)}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, fmt.Errorf("no such key: %s", *in.Key)
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) getCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets[key]
}

func TestDownloadPrefixSkipsCompletedObjects(t *testing.T) {
	aData := bytes.Repeat([]byte{0x11}, 100)
	bData := bytes.Repeat([]byte{0x22}, 200)
	fake := newFakeS3(map[string][]byte{
		"media/a.bin": aData,
		"media/b.bin": bData,
	})
	c := &Client{api: fake}

	dir := t.TempDir()
	// a.bin already fully on disk from an earlier run
	if err := os.WriteFile(filepath.Join(dir, "a.bin"), aData, 0644); err != nil {
		t.Fatal(err)
	}

	progressCh := make(chan int64, 64)
	total, err := c.DownloadPrefix(context.Background(), "bucket", "media", dir, 0, 2, progressCh)
	if err != nil {
		t.Fatalf("DownloadPrefix: %v", err)
	}
	if total != 300 {
		t.Errorf("total = %d, want 300", total)
	}
	if n := fake.getCount("media/a.bin"); n != 0 {
		t.Errorf("completed object was re-fetched %d times", n)
	}
	if n := fake.getCount("media/b.bin"); n != 1 {
		t.Errorf("missing object fetched %d times, want 1", n)
	}
	got, err := os.ReadFile(filepath.Join(dir, "b.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, bData) {
		t.Error("downloaded object content mismatch")
	}
	// Skipped objects still count toward progress, so a resumed folder
	// converges on the full total
	var sum int64
	for {
		select {
		case delta := <-progressCh:
			sum += delta
			continue
		default:
		}
		break
	}
	if sum != 300 {
		t.Errorf("progress sum = %d, want 300", sum)
	}
}

func TestObjectComplete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "obj.bin")
	if err := os.WriteFile(path, make([]byte, 64), 0644); err != nil {
		t.Fatal(err)
	}
	if !objectComplete(path, 64) {
		t.Error("exact size match not detected as complete")
	}
	if objectComplete(path, 128) {
		t.Error("size mismatch treated as complete")
	}
	if objectComplete(filepath.Join(dir, "missing"), 64) {
		t.Error("missing file treated as complete")
	}
	if objectComplete(dir, 64) {
		t.Error("directory treated as complete")
	}
}
