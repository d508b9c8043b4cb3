package transport

import (
	"errors"
	"fmt"
	"strings"
)

var ErrMissingResultURL = errors.New("upload response missing url")

// UploadFailedError is a non-2xx answer to an upload.
type UploadFailedError struct {
	Status     int
	StatusText string
	Body       string
}

func (e *UploadFailedError) Error() string {
	return strings.TrimSpace(fmt.Sprintf("upload failed: %d %s %s", e.Status, e.StatusText, e.Body))
}

// DownloadFailedError is a non-2xx answer to a transform or download GET.
type DownloadFailedError struct {
	Status     int
	StatusText string
	Body       string
}

func (e *DownloadFailedError) Error() string {
	return strings.TrimSpace(fmt.Sprintf("download failed: %d %s %s", e.Status, e.StatusText, e.Body))
}
