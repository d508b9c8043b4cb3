package input

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

const defaultMediaType = "application/octet-stream"

// Decode returns the raw bytes and content type of a base64 or data URI input.
// Other kinds are returned as-is.
func Decode(in Input) ([]byte, string, error) {
	switch in.Kind {
	case KindBase64:
		data, err := decodeBase64(in.Encoded)
		if err != nil {
			return nil, "", err
		}
		return data, in.ContentType, nil
	case KindDataURI:
		return decodeDataURI(in.Encoded)
	default:
		return in.Data, in.ContentType, nil
	}
}

func decodeBase64(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty base64 payload", ErrInvalidEncodedPayload)
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		if alt, altErr := base64.RawStdEncoding.DecodeString(raw); altErr == nil {
			return alt, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncodedPayload, err)
	}
	return data, nil
}

func decodeDataURI(raw string) ([]byte, string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(strings.ToLower(raw), "data:") {
		return nil, "", fmt.Errorf("%w: missing data: scheme", ErrInvalidEncodedPayload)
	}
	meta, payload, ok := strings.Cut(raw[len("data:"):], ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: data uri has no payload", ErrInvalidEncodedPayload)
	}

	mediaType := defaultMediaType
	encoded := false
	for _, segment := range strings.Split(meta, ";") {
		segment = strings.TrimSpace(segment)
		switch {
		case segment == "":
		case strings.EqualFold(segment, "base64"):
			encoded = true
		case strings.Contains(segment, "/"):
			mediaType = segment
		}
	}

	if encoded {
		data, err := decodeBase64(payload)
		if err != nil {
			return nil, "", err
		}
		return data, mediaType, nil
	}

	text, err := url.PathUnescape(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidEncodedPayload, err)
	}
	return []byte(text), mediaType, nil
}
