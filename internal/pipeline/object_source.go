package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/flyimg/internal/input"
)

// ObjectReader reads whole objects from the object store.
type ObjectReader interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, string, error)
}

// ObjectSource turns an object-store key into an upload payload, for sources
// the remote instance cannot reach directly.
type ObjectSource struct {
	Storage ObjectReader
}

func (s ObjectSource) Load(ctx context.Context, objectKey string) (input.Binary, error) {
	if s.Storage == nil {
		return input.Binary{}, errors.New("storage client is required")
	}
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return input.Binary{}, errors.New("object key is required")
	}

	data, contentType, err := s.Storage.ReadObject(ctx, objectKey)
	if err != nil {
		return input.Binary{}, fmt.Errorf("read source object %s: %w", objectKey, err)
	}
	if len(data) == 0 {
		return input.Binary{}, fmt.Errorf("source object %s is empty", objectKey)
	}
	return input.Binary{Data: data, ContentType: contentType}, nil
}
