package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/flyimg/internal/input"
	"github.com/dunamismax/flyimg/internal/urlbuild"
)

type OutcomeKind int

const (
	// OutcomeBinary means the upload response already is the final image.
	OutcomeBinary OutcomeKind = iota + 1
	// OutcomePointer means the response named a URL to fetch next.
	OutcomePointer
)

// Stream is an open response body. The receiver must close Body.
type Stream struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	Name          string
}

// Outcome is the interpreted upload response: Stream is set for
// OutcomeBinary, URL for OutcomePointer.
type Outcome struct {
	Kind   OutcomeKind
	Stream Stream
	URL    string
}

type UploadRequest struct {
	InstanceURL string
	Input       input.Input
	// Segment is the serialized options segment, appended to the upload path
	// when non-empty.
	Segment    string
	OnProgress func(UploadProgress)
}

type pointerResponse struct {
	URL string `json:"url"`
}

// Upload posts a non-remote input to <instance>/upload[/<segment>]. Local
// files and raw bytes go as multipart or raw bodies, base64 and data URIs as
// a JSON envelope after they have been validated locally.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (Outcome, error) {
	body, contentType, err := c.uploadBody(req.Input)
	if err != nil {
		return Outcome{}, err
	}

	total := int64(len(body))
	reader := &countingReader{r: bytes.NewReader(body), total: total}
	if req.OnProgress != nil {
		reader.report = func(n, total int64) {
			req.OnProgress(UploadProgress{SentBytes: n, TotalBytes: total})
		}
	}

	endpoint := urlbuild.UploadEndpoint(req.InstanceURL, req.Segment)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return Outcome{}, fmt.Errorf("build upload request: %w", err)
	}
	httpReq.ContentLength = total
	if total == 0 {
		httpReq.Body = http.NoBody
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "image/*, application/json")

	resp, err := c.do(httpReq)
	if err != nil {
		return Outcome{}, fmt.Errorf("upload request failed: %w", err)
	}

	if !isSuccess(resp.StatusCode) {
		defer resp.Body.Close()
		return Outcome{}, &UploadFailedError{
			Status:     resp.StatusCode,
			StatusText: statusText(resp),
			Body:       readErrorBody(resp.Body),
		}
	}

	return interpretUploadResponse(resp, endpoint)
}

func interpretUploadResponse(resp *http.Response, endpoint string) (Outcome, error) {
	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/") {
		return Outcome{
			Kind: OutcomeBinary,
			Stream: Stream{
				Body:          resp.Body,
				ContentType:   contentType,
				ContentLength: resp.ContentLength,
				Name:          endpoint,
			},
		}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPointerBytes))
	if err != nil {
		return Outcome{}, fmt.Errorf("read upload response: %w", err)
	}
	var pointer pointerResponse
	if err := json.Unmarshal(raw, &pointer); err != nil {
		return Outcome{}, fmt.Errorf("%w: decode response: %v", ErrMissingResultURL, err)
	}
	if strings.TrimSpace(pointer.URL) == "" {
		return Outcome{}, ErrMissingResultURL
	}
	return Outcome{Kind: OutcomePointer, URL: strings.TrimSpace(pointer.URL)}, nil
}

func (c *Client) uploadBody(in input.Input) ([]byte, string, error) {
	switch in.Kind {
	case input.KindLocalPath:
		data, err := os.ReadFile(in.Ref)
		if err != nil {
			return nil, "", fmt.Errorf("read input file %s: %w", in.Ref, err)
		}
		return c.multipartBody(filepath.Base(in.Ref), data)
	case input.KindBinary:
		contentType := in.ContentType
		if contentType == "" {
			contentType = http.DetectContentType(in.Data)
		}
		return in.Data, contentType, nil
	case input.KindBase64, input.KindDataURI:
		if _, _, err := input.Decode(in); err != nil {
			return nil, "", err
		}
		envelope := map[string]string{"base64": in.Encoded}
		if in.Kind == input.KindDataURI {
			envelope = map[string]string{"dataUri": in.Encoded}
		}
		body, err := json.Marshal(envelope)
		if err != nil {
			return nil, "", fmt.Errorf("marshal upload envelope: %w", err)
		}
		return body, "application/json", nil
	default:
		return nil, "", fmt.Errorf("%w: %s cannot be uploaded", input.ErrUnsupportedInputKind, in.Kind)
	}
}

func (c *Client) multipartBody(filename string, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(c.uploadField, filename)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write multipart file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}
