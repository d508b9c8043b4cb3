package artifact

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Dimensions is the decoded header of an image artifact.
type Dimensions struct {
	Width  int
	Height int
	Format string
}

// Probe decodes only the image header of a.
func Probe(ctx context.Context, a *Artifact) (Dimensions, error) {
	rc, err := a.Open(ctx)
	if err != nil {
		return Dimensions{}, err
	}
	defer rc.Close()

	cfg, format, err := image.DecodeConfig(rc)
	if err != nil {
		return Dimensions{}, fmt.Errorf("decode image header: %w", err)
	}
	return Dimensions{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}
