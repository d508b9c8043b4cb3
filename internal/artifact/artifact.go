package artifact

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"
)

var ErrReleased = errors.New("artifact released")

// Meta describes the content being saved. Name is a hint (usually the source
// URL) used to pick a file extension.
type Meta struct {
	Name        string
	ContentType string
}

// Store persists a stream as an Artifact. Save consumes r to EOF and leaves
// nothing behind when it fails.
type Store interface {
	Save(ctx context.Context, meta Meta, r io.Reader) (*Artifact, error)
}

// Artifact is a handle to transformed image bytes. The caller owns it and must
// call Release once the bytes are no longer needed; nothing releases it
// implicitly.
type Artifact struct {
	Location    string
	ContentType string
	Size        int64

	open    func(ctx context.Context) (io.ReadCloser, error)
	release func(ctx context.Context) error

	mu       sync.Mutex
	released bool
}

func (a *Artifact) Open(ctx context.Context) (io.ReadCloser, error) {
	a.mu.Lock()
	released := a.released
	a.mu.Unlock()
	if released {
		return nil, ErrReleased
	}
	return a.open(ctx)
}

// Release removes the underlying bytes. Calling it more than once is a no-op.
func (a *Artifact) Release(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil
	}
	a.released = true
	if a.release == nil {
		return nil
	}
	return a.release(ctx)
}

// ReadAll returns the full artifact content.
func ReadAll(ctx context.Context, a *Artifact) ([]byte, error) {
	rc, err := a.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Extension picks a file extension for meta: the content type when it names a
// known image format, then the extension of the name hint, then ".img".
func Extension(meta Meta) string {
	if ext := extensionForContentType(meta.ContentType); ext != "" {
		return ext
	}
	if ext := extensionFromName(meta.Name); ext != "" {
		return ext
	}
	return ".img"
}

func extensionForContentType(contentType string) string {
	mediaType, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(contentType)), ";")
	switch strings.TrimSpace(mediaType) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/avif":
		return ".avif"
	case "image/svg+xml":
		return ".svg"
	case "image/tiff":
		return ".tiff"
	case "image/bmp":
		return ".bmp"
	case "application/pdf":
		return ".pdf"
	default:
		return ""
	}
}

func extensionFromName(name string) string {
	if name == "" {
		return ""
	}
	p := name
	if u, err := url.Parse(name); err == nil {
		p = u.Path
	}
	ext := path.Ext(p)
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	letters := 0
	for _, r := range ext[1:] {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			letters++
		case r >= '0' && r <= '9':
		default:
			return ""
		}
	}
	if letters == 0 {
		return ""
	}
	return strings.ToLower(ext)
}

// contextReader stops a copy once ctx is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
