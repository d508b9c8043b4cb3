package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dunamismax/flyimg/internal/artifact"
)

// Open issues a GET against rawURL and returns the body for streaming.
func (c *Client) Open(ctx context.Context, rawURL string) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Stream{}, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Accept", "image/*, */*;q=0.8")

	resp, err := c.do(req)
	if err != nil {
		return Stream{}, fmt.Errorf("download request failed: %w", err)
	}
	if !isSuccess(resp.StatusCode) {
		defer resp.Body.Close()
		return Stream{}, &DownloadFailedError{
			Status:     resp.StatusCode,
			StatusText: statusText(resp),
			Body:       readErrorBody(resp.Body),
		}
	}

	return Stream{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Name:          rawURL,
	}, nil
}

// Download fetches rawURL into store.
func (c *Client) Download(ctx context.Context, rawURL string, store artifact.Store, onProgress func(DownloadProgress)) (*artifact.Artifact, error) {
	stream, err := c.Open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return Save(ctx, stream, store, onProgress)
}

// Save drains s into store chunk by chunk, reporting progress after every
// chunk, and always closes s.Body.
func Save(ctx context.Context, s Stream, store artifact.Store, onProgress func(DownloadProgress)) (*artifact.Artifact, error) {
	defer s.Body.Close()

	reader := &countingReader{r: s.Body, total: s.ContentLength}
	if onProgress != nil {
		reader.report = func(n, total int64) {
			onProgress(DownloadProgress{ReceivedBytes: n, TotalBytes: total})
		}
	}

	a, err := store.Save(ctx, artifact.Meta{Name: s.Name, ContentType: s.ContentType}, reader)
	if err != nil {
		return nil, fmt.Errorf("save artifact: %w", err)
	}
	return a, nil
}
