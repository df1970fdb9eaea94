package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/riptidehq/riptide/internal/utils"
)

// SimpleDownload streams a whole object to outputPath in one connection.
// An existing partial file becomes the resume point via a Range header; if
// the server ignores the range the partial is discarded (with a negative
// progress delta) and the transfer restarts from zero. One call is one
// attempt; the retry controller handles repetition.
func SimpleDownload(ctx context.Context, link, outputPath string, client utils.HTTPDoer, bufferSize int, progressCh chan<- int64) error {
	if bufferSize <= 0 {
		bufferSize = utils.DefaultBufferSize
	}
	var resumeOffset int64
	fileMode := os.O_CREATE | os.O_WRONLY
	if fileInfo, err := os.Stat(outputPath); err == nil {
		resumeOffset = fileInfo.Size()
		fileMode |= os.O_APPEND
	} else {
		fileMode |= os.O_TRUNC
	}
	outFile, err := os.OpenFile(outputPath, fileMode, 0644)
	if err != nil {
		return fmt.Errorf("error opening output file: %v", err)
	}
	// The restart path below rebinds outFile, so the deferred close must
	// resolve it late rather than capture the first handle
	defer func() { outFile.Close() }()

	req, err := http.NewRequestWithContext(ctx, "GET", link, nil)
	if err != nil {
		return fmt.Errorf("error creating GET request: %v", err)
	}
	if resumeOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeOffset))
	}
	req.Header.Set("Connection", "keep-alive")
	resp, err := client.Do(req)
	if err != nil {
		return &TransferError{URL: link, Err: err}
	}
	defer resp.Body.Close()

	if resumeOffset > 0 {
		if resp.StatusCode != http.StatusPartialContent {
			if resp.StatusCode != http.StatusOK {
				return &TransferError{URL: link, StatusCode: resp.StatusCode}
			}
			// Server ignored the range; drop the partial and start over
			outFile.Close()
			outFile, err = os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
			if err != nil {
				return fmt.Errorf("error reopening output file: %v", err)
			}
			if progressCh != nil {
				progressCh <- -resumeOffset
			}
			resumeOffset = 0
		}
	} else if resp.StatusCode != http.StatusOK {
		return &TransferError{URL: link, StatusCode: resp.StatusCode}
	}

	buffer := make([]byte, bufferSize)
	for {
		bytesRead, readErr := resp.Body.Read(buffer)
		if bytesRead > 0 {
			if _, writeErr := outFile.Write(buffer[:bytesRead]); writeErr != nil {
				return fmt.Errorf("error writing to output file: %v", writeErr)
			}
			if progressCh != nil {
				progressCh <- int64(bytesRead)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return &TransferError{URL: link, Err: readErr}
		}
	}
	return outFile.Sync()
}
