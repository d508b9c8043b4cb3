package pipeline

import (
	"context"
	"errors"
	"testing"
)

type mapReader map[string][]byte

func (m mapReader) ReadObject(_ context.Context, key string) ([]byte, string, error) {
	data, ok := m[key]
	if !ok {
		return nil, "", errors.New("not found")
	}
	return data, "image/png", nil
}

func TestObjectSourceLoad(t *testing.T) {
	src := ObjectSource{Storage: mapReader{"uploads/job-1/source": []byte("png"), "empty": {}}}

	bin, err := src.Load(context.Background(), "uploads/job-1/source")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(bin.Data) != "png" || bin.ContentType != "image/png" {
		t.Fatalf("unexpected payload %+v", bin)
	}

	for _, key := range []string{"", "missing", "empty"} {
		if _, err := src.Load(context.Background(), key); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
	if _, err := (ObjectSource{}).Load(context.Background(), "a"); err == nil {
		t.Fatal("expected error without storage")
	}
}
