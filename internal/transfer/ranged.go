package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/riptidehq/riptide/internal/utils"
)

// PresizeDestination opens (or creates) the destination and extends it to
// the full object size before any chunk writes begin, so concurrent chunk
// writers contend only on disjoint offset ranges, never on file length.
func PresizeDestination(path string, size int64) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening destination file: %v", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("error pre-sizing destination file: %v", err)
	}
	return f, nil
}

// DownloadRange fetches bytes [start, end] and writes them at their offset
// in the pre-sized destination. A 200 answer to the ranged request means
// the server ignored the range; that is an invariant violation, not data.
// One call is one attempt.
func DownloadRange(ctx context.Context, link string, dest *os.File, start, end int64, client utils.HTTPDoer, bufferSize int, progressCh chan<- int64) error {
	if bufferSize <= 0 {
		bufferSize = utils.DefaultBufferSize
	}
	req, err := http.NewRequestWithContext(ctx, "GET", link, nil)
	if err != nil {
		return fmt.Errorf("error creating GET request: %v", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	req.Header.Set("Connection", "keep-alive")
	resp, err := client.Do(req)
	if err != nil {
		return &TransferError{URL: link, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return &InvariantViolation{URL: link, Reason: "server ignored Range header (status 200 for ranged request)"}
	}
	if resp.StatusCode != http.StatusPartialContent {
		return &TransferError{URL: link, StatusCode: resp.StatusCode}
	}
	if resp.Header.Get("Content-Range") == "" {
		return &InvariantViolation{URL: link, Reason: "missing Content-Range header on 206 response"}
	}

	expected := end - start + 1
	var written int64
	buffer := make([]byte, bufferSize)
	for {
		bytesRead, readErr := resp.Body.Read(buffer)
		if bytesRead > 0 {
			if _, writeErr := dest.WriteAt(buffer[:bytesRead], start+written); writeErr != nil {
				return fmt.Errorf("error writing chunk at offset %d: %v", start+written, writeErr)
			}
			written += int64(bytesRead)
			if written > expected {
				return &InvariantViolation{URL: link, Reason: fmt.Sprintf("server sent %d bytes for a %d byte range", written, expected)}
			}
			if progressCh != nil {
				progressCh <- int64(bytesRead)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			// Roll back the partial chunk's progress before the retry
			if progressCh != nil && written > 0 {
				progressCh <- -written
			}
			return &TransferError{URL: link, Err: readErr}
		}
	}
	if written != expected {
		if progressCh != nil && written > 0 {
			progressCh <- -written
		}
		return &TransferError{URL: link, Err: fmt.Errorf("size mismatch: expected %d bytes, got %d", expected, written)}
	}
	return nil
}
