package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// FileStore writes artifacts as temporary files. An empty Dir uses the OS
// temp directory.
type FileStore struct {
	Dir    string
	Prefix string
}

func (s FileStore) Save(ctx context.Context, meta Meta, r io.Reader) (*Artifact, error) {
	dir := strings.TrimSpace(s.Dir)
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	prefix := s.Prefix
	if prefix == "" {
		prefix = "flyimg-"
	}
	f, err := os.CreateTemp(dir, prefix+"*"+Extension(meta))
	if err != nil {
		return nil, fmt.Errorf("create artifact file: %w", err)
	}
	fullPath := f.Name()

	written, err := io.Copy(f, contextReader{ctx: ctx, r: r})
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(fullPath)
		return nil, fmt.Errorf("write artifact file: %w", err)
	}

	return &Artifact{
		Location:    fullPath,
		ContentType: meta.ContentType,
		Size:        written,
		open: func(context.Context) (io.ReadCloser, error) {
			return os.Open(fullPath)
		},
		release: func(context.Context) error {
			if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("remove artifact %s: %w", fullPath, err)
			}
			return nil
		},
	}, nil
}
