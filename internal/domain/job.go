package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/flyimg/internal/input"
	"github.com/dunamismax/flyimg/internal/options"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeRemoteURL   = "remote_url"
	SourceTypeBase64      = "base64"
	SourceTypeDataURI     = "data_uri"
	SourceTypeS3Presigned = "s3_presigned"

	// ModeTransform uploads when needed, then requests the transform URL.
	ModeTransform = "transform"
	// ModeUpload posts the payload to /upload/<options> in one exchange.
	ModeUpload = "upload"
)

type CreateJobRequest struct {
	SourceType string          `json:"source_type"`
	SourceURL  string          `json:"source_url,omitempty"`
	Payload    string          `json:"payload,omitempty"`
	Mode       string          `json:"mode,omitempty"`
	WebhookURL string          `json:"webhook_url,omitempty"`
	Options    options.Options `json:"options"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	SourceURL  string
	Payload    string
	Mode       string
	WebhookURL string
	Options    options.Options
	ObjectKey  string
	Output     Output
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Output describes the stored transform result of a finished job.
type Output struct {
	ObjectKey   string `json:"object_key,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Bytes       int64  `json:"bytes,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

func (r CreateJobRequest) Validate() error {
	sourceType := NormalizeSourceType(r.SourceType)
	switch sourceType {
	case "":
		return errors.New("source_type is required")
	case SourceTypeRemoteURL:
		if !input.IsRemoteURL(strings.TrimSpace(r.SourceURL)) {
			return errors.New("source_url must be an absolute http(s) url for source_type=remote_url")
		}
	case SourceTypeBase64, SourceTypeDataURI:
		if strings.TrimSpace(r.Payload) == "" {
			return fmt.Errorf("payload is required for source_type=%s", sourceType)
		}
		if sourceType == SourceTypeDataURI && !strings.HasPrefix(strings.TrimSpace(r.Payload), "data:") {
			return errors.New("payload must be a data: uri for source_type=data_uri")
		}
	case SourceTypeS3Presigned:
	default:
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}

	switch NormalizeMode(r.Mode) {
	case ModeTransform:
	case ModeUpload:
		if sourceType == SourceTypeRemoteURL {
			return errors.New("mode=upload requires an uploaded source, not remote_url")
		}
	default:
		return fmt.Errorf("unsupported mode: %s", r.Mode)
	}
	return nil
}

func NormalizeSourceType(in string) string {
	return strings.ToLower(strings.TrimSpace(in))
}

// NormalizeMode defaults an empty mode to ModeTransform.
func NormalizeMode(in string) string {
	mode := strings.ToLower(strings.TrimSpace(in))
	if mode == "" {
		return ModeTransform
	}
	return mode
}

// Input returns the pipeline input for sources that carry their data in the
// job itself. Object-store sources are loaded by the worker.
func (j Job) Input() (any, error) {
	switch j.SourceType {
	case SourceTypeRemoteURL:
		return j.SourceURL, nil
	case SourceTypeBase64:
		return input.Base64(strings.TrimSpace(j.Payload)), nil
	case SourceTypeDataURI:
		return input.DataURI(strings.TrimSpace(j.Payload)), nil
	default:
		return nil, fmt.Errorf("%w: source_type=%s", input.ErrUnsupportedInputKind, j.SourceType)
	}
}
