package transfer

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/riptidehq/riptide/internal/utils"
)

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// ObjectInfo is the result of the submission-time HEAD probe.
type ObjectInfo struct {
	Size           int64 // -1 when the server gave no usable Content-Length
	FileName       string
	RangeSupported bool
}

// Probe issues a HEAD request to learn the object size, range-capability
// and a server-suggested file name.
func Probe(link string, client utils.HTTPDoer) (ObjectInfo, error) {
	info := ObjectInfo{Size: -1}
	req, err := http.NewRequest("HEAD", link, nil)
	if err != nil {
		return info, fmt.Errorf("error creating HEAD request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return info, &TransferError{URL: link, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return info, &TransferError{URL: link, StatusCode: resp.StatusCode}
	}
	info.FileName = fileNameFromDisposition(resp.Header.Get("Content-Disposition"))
	info.RangeSupported = resp.Header.Get("Accept-Ranges") == "bytes"
	if contentLength := resp.Header.Get("Content-Length"); contentLength != "" {
		if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil && size > 0 {
			info.Size = size
		}
	}
	return info, nil
}

func fileNameFromDisposition(contentDisposition string) string {
	if contentDisposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename"]; ok && fn != "" {
		return filenameRegex.ReplaceAllString(fn, "_")
	}
	if fn, ok := params["filename*"]; ok && strings.HasPrefix(fn, "UTF-8''") {
		unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
		return filenameRegex.ReplaceAllString(unescaped, "_")
	}
	return ""
}
