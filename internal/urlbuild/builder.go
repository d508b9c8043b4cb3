package urlbuild

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dunamismax/flyimg/internal/options"
)

const (
	UploadPrefix   = "/upload"
	SignatureParam = "s"
)

// Signer returns a signature for the host-less request path. An empty result
// leaves the URL unsigned.
type Signer func(pathWithoutHost string) string

type Params struct {
	BaseURL   string
	ImagePath string
	Options   options.Options
	Sign      Signer
}

// Build assembles <base>/upload/<options>/<image> and, when Sign yields a
// signature, attaches it as the s query parameter. Errors only come from
// parsing the draft URL for signing.
func Build(p Params, cfg options.Config) (string, error) {
	segment := options.Serialize(p.Options, cfg)
	pathWithoutHost := "/" + segment + "/" + options.EscapeURI(p.ImagePath)
	draft := WithUploadPrefix(p.BaseURL) + pathWithoutHost

	if p.Sign == nil {
		return draft, nil
	}
	signature := p.Sign(pathWithoutHost)
	if signature == "" {
		return draft, nil
	}

	u, err := url.Parse(draft)
	if err != nil {
		return "", fmt.Errorf("parse url for signing: %w", err)
	}
	u.RawQuery = setSignature(u.RawQuery, signature)
	return u.String(), nil
}

// setSignature sets the s parameter on a raw query. Other pairs keep their
// order and encoding; the first existing s is replaced in place and any later
// ones are dropped, otherwise s is appended.
func setSignature(rawQuery, signature string) string {
	pair := SignatureParam + "=" + url.QueryEscape(signature)
	if rawQuery == "" {
		return pair
	}

	parts := strings.Split(rawQuery, "&")
	kept := make([]string, 0, len(parts)+1)
	replaced := false
	for _, part := range parts {
		key, _, _ := strings.Cut(part, "=")
		if key != SignatureParam {
			kept = append(kept, part)
			continue
		}
		if !replaced {
			kept = append(kept, pair)
			replaced = true
		}
	}
	if !replaced {
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

// WithUploadPrefix strips one trailing slash and makes sure the base ends with
// exactly one /upload segment.
func WithUploadPrefix(base string) string {
	base = strings.TrimSuffix(base, "/")
	if strings.HasSuffix(base, UploadPrefix) {
		return base
	}
	return base + UploadPrefix
}

// UploadEndpoint is the POST target for uploads, with the options segment
// appended when there is one.
func UploadEndpoint(base, segment string) string {
	endpoint := WithUploadPrefix(base)
	if segment == "" {
		return endpoint
	}
	return endpoint + "/" + segment
}

// IsTransformURL reports whether u already addresses a transform result.
func IsTransformURL(u string) bool {
	return strings.Contains(u, UploadPrefix+"/")
}
