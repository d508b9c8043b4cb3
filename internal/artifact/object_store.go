package artifact

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/dunamismax/flyimg/internal/id"
)

// ObjectBackend is the subset of storage.Client used for artifacts.
type ObjectBackend interface {
	PutStream(ctx context.Context, objectKey string, r io.Reader, size int64, contentType string) (int64, error)
	OpenObject(ctx context.Context, objectKey string) (io.ReadCloser, error)
	RemoveObject(ctx context.Context, objectKey string) error
}

// ObjectStore streams artifacts into an object storage bucket under Prefix.
type ObjectStore struct {
	Backend ObjectBackend
	Prefix  string
}

func (s ObjectStore) Save(ctx context.Context, meta Meta, r io.Reader) (*Artifact, error) {
	if s.Backend == nil {
		return nil, errors.New("object storage backend is required")
	}

	prefix := strings.Trim(strings.TrimSpace(s.Prefix), "/")
	if prefix == "" {
		prefix = "artifacts"
	}
	objectKey := path.Join(prefix, id.New()+Extension(meta))

	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	size, err := s.Backend.PutStream(ctx, objectKey, contextReader{ctx: ctx, r: r}, -1, contentType)
	if err != nil {
		return nil, err
	}

	backend := s.Backend
	return &Artifact{
		Location:    objectKey,
		ContentType: meta.ContentType,
		Size:        size,
		open: func(ctx context.Context) (io.ReadCloser, error) {
			return backend.OpenObject(ctx, objectKey)
		},
		release: func(ctx context.Context) error {
			return backend.RemoveObject(ctx, objectKey)
		},
	}, nil
}
