package input

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrUnsupportedInputKind  = errors.New("unsupported input kind")
	ErrInvalidEncodedPayload = errors.New("invalid encoded payload")
)

type Kind int

const (
	KindRemoteURL Kind = iota + 1
	KindLocalPath
	KindBinary
	KindBase64
	KindDataURI
)

func (k Kind) String() string {
	switch k {
	case KindRemoteURL:
		return "remote_url"
	case KindLocalPath:
		return "local_path"
	case KindBinary:
		return "binary"
	case KindBase64:
		return "base64"
	case KindDataURI:
		return "data_uri"
	default:
		return "unknown"
	}
}

// Binary is a raw in-memory image with an optional content type.
type Binary struct {
	Data        []byte
	ContentType string
}

// Base64 is a standard base64 encoded image payload.
type Base64 string

// DataURI is a data: URI carrying an image payload.
type DataURI string

// LocalPath forces a string to be treated as a filesystem reference.
type LocalPath string

// Input is a classified caller input. Ref holds the URL or path, Data the raw
// bytes and Encoded the base64 or data URI text, depending on Kind.
type Input struct {
	Kind        Kind
	Ref         string
	Data        []byte
	Encoded     string
	ContentType string
}

// NeedsUpload reports whether the input has to be uploaded before it can be
// transformed.
func (in Input) NeedsUpload() bool {
	return in.Kind != KindRemoteURL
}

// Classify accepts URL strings, local paths and in-memory payloads.
func Classify(v any) (Input, error) {
	return classify(v, true)
}

// ClassifyPayload is Classify for entry points that only accept remote URLs
// or in-memory payloads.
func ClassifyPayload(v any) (Input, error) {
	return classify(v, false)
}

func classify(v any, allowLocal bool) (Input, error) {
	switch in := v.(type) {
	case string:
		if IsRemoteURL(in) {
			return Input{Kind: KindRemoteURL, Ref: in}, nil
		}
		if !allowLocal || strings.TrimSpace(in) == "" {
			return Input{}, fmt.Errorf("%w: string %q is not an http(s) url", ErrUnsupportedInputKind, in)
		}
		return Input{Kind: KindLocalPath, Ref: in}, nil
	case LocalPath:
		if !allowLocal || strings.TrimSpace(string(in)) == "" {
			return Input{}, fmt.Errorf("%w: local path", ErrUnsupportedInputKind)
		}
		return Input{Kind: KindLocalPath, Ref: string(in)}, nil
	case []byte:
		if in == nil {
			return Input{}, fmt.Errorf("%w: nil byte slice", ErrUnsupportedInputKind)
		}
		return Input{Kind: KindBinary, Data: in}, nil
	case Binary:
		if in.Data == nil {
			return Input{}, fmt.Errorf("%w: binary without data", ErrUnsupportedInputKind)
		}
		return Input{Kind: KindBinary, Data: in.Data, ContentType: in.ContentType}, nil
	case *Binary:
		if in == nil || in.Data == nil {
			return Input{}, fmt.Errorf("%w: binary without data", ErrUnsupportedInputKind)
		}
		return Input{Kind: KindBinary, Data: in.Data, ContentType: in.ContentType}, nil
	case Base64:
		return Input{Kind: KindBase64, Encoded: string(in)}, nil
	case DataURI:
		return Input{Kind: KindDataURI, Encoded: string(in)}, nil
	default:
		return Input{}, fmt.Errorf("%w: %T", ErrUnsupportedInputKind, v)
	}
}

// IsRemoteURL reports whether s is an absolute http or https URL.
func IsRemoteURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}
