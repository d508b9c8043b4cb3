package urlbuild

import (
	"net/url"
	"strings"
	"testing"

	"github.com/dunamismax/flyimg/internal/options"
	"github.com/dunamismax/flyimg/internal/signing"
)

func testConfig() options.Config {
	return options.Config{
		Separator: ",",
		Keys: options.NewKeyMapping(
			options.KeyPair{Short: "q", Long: "quality"},
			options.KeyPair{Short: "w", Long: "width"},
			options.KeyPair{Short: "h", Long: "height"},
			options.KeyPair{Short: "o", Long: "output"},
		),
		Defaults: options.Of("output", "auto"),
	}
}

func TestBuildFullURL(t *testing.T) {
	got, err := Build(Params{
		BaseURL:   "https://img.example.com",
		ImagePath: "https://example.com/a.jpg",
		Options:   options.Of("quality", 70),
	}, testConfig())
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}

	if !strings.HasPrefix(got, "https://img.example.com/upload/") {
		t.Fatalf("expected upload prefix, got %s", got)
	}
	if !strings.Contains(got, "q_70") || !strings.Contains(got, ",") {
		t.Fatalf("expected q_70 and separator in %s", got)
	}
	if got != "https://img.example.com/upload/o_auto,q_70/https://example.com/a.jpg" {
		t.Fatalf("unexpected url %s", got)
	}
}

func TestBuildUploadPrefixIdempotent(t *testing.T) {
	cfg := options.Config{Separator: ",", Keys: options.DefaultKeys()}
	for _, base := range []string{
		"https://img.example.com",
		"https://img.example.com/",
		"https://img.example.com/upload",
		"https://img.example.com/upload/",
	} {
		got, err := Build(Params{BaseURL: base, ImagePath: "a.jpg", Options: options.Of("width", 1)}, cfg)
		if err != nil {
			t.Fatalf("build returned error: %v", err)
		}
		if got != "https://img.example.com/upload/w_1/a.jpg" {
			t.Fatalf("base %q: unexpected url %s", base, got)
		}
	}

	once := WithUploadPrefix("https://img.example.com")
	if twice := WithUploadPrefix(once); twice != once {
		t.Fatalf("expected %s, got %s", once, twice)
	}
}

func TestBuildSignsPathWithoutHost(t *testing.T) {
	var signed string
	got, err := Build(Params{
		BaseURL:   "https://img.example.com/",
		ImagePath: "https://example.com/a b.jpg",
		Options:   options.Of("width", 200),
		Sign: func(path string) string {
			signed = path
			return "abc123"
		},
	}, testConfig())
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}

	if signed != "/o_auto,w_200/https://example.com/a%20b.jpg" {
		t.Fatalf("unexpected signed path %q", signed)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if s := u.Query().Get(SignatureParam); s != "abc123" {
		t.Fatalf("expected signature abc123, got %q", s)
	}
	if !strings.HasPrefix(got, "https://img.example.com/upload/o_auto,w_200/") {
		t.Fatalf("unexpected url %s", got)
	}
}

func TestBuildSigningKeepsSourceQueryOrder(t *testing.T) {
	sign := func(string) string { return "sig" }
	cases := []struct {
		imagePath string
		want      string
	}{
		{
			imagePath: "https://example.com/a.jpg?w=1&a=2&x=%zz",
			want:      "https://img.example.com/upload/w_1/https://example.com/a.jpg?w=1&a=2&x=%25zz&s=sig",
		},
		{
			imagePath: "https://example.com/a.jpg?s=old&b=1&s=dup",
			want:      "https://img.example.com/upload/w_1/https://example.com/a.jpg?s=sig&b=1",
		},
		{
			imagePath: "https://example.com/a.jpg",
			want:      "https://img.example.com/upload/w_1/https://example.com/a.jpg?s=sig",
		},
	}
	for _, tc := range cases {
		got, err := Build(Params{
			BaseURL:   "https://img.example.com",
			ImagePath: tc.imagePath,
			Options:   options.Of("width", 1),
			Sign:      sign,
		}, options.Config{Separator: ",", Keys: options.DefaultKeys()})
		if err != nil {
			t.Fatalf("build returned error: %v", err)
		}
		if got != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, got)
		}
	}
}

func TestBuildEmptySignatureLeavesURLUnsigned(t *testing.T) {
	got, err := Build(Params{
		BaseURL:   "https://img.example.com",
		ImagePath: "a.jpg",
		Sign:      func(string) string { return "" },
	}, testConfig())
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}
	if strings.Contains(got, "?") {
		t.Fatalf("expected unsigned url, got %s", got)
	}
}

func TestBuildSigningRejectsMalformedBase(t *testing.T) {
	_, err := Build(Params{
		BaseURL:   "http://[::1",
		ImagePath: "a.jpg",
		Sign:      HMACSigner("secret"),
	}, testConfig())
	if err == nil {
		t.Fatal("expected parse error for malformed base url")
	}
}

func TestHMACSigner(t *testing.T) {
	if HMACSigner("") != nil {
		t.Fatal("expected nil signer for empty secret")
	}
	sig := HMACSigner("secret")("/w_1/a.jpg")
	if !signing.Equal(sig, signing.HexHMAC("secret", []byte("/w_1/a.jpg"))) {
		t.Fatalf("unexpected signature %s", sig)
	}
}

func TestUploadEndpointAndTransformURL(t *testing.T) {
	if got := UploadEndpoint("https://fly.example.com/", ""); got != "https://fly.example.com/upload" {
		t.Fatalf("unexpected endpoint %s", got)
	}
	if got := UploadEndpoint("https://fly.example.com", "w_1"); got != "https://fly.example.com/upload/w_1" {
		t.Fatalf("unexpected endpoint %s", got)
	}
	if !IsTransformURL("https://fly.example.com/upload/w_1/a.jpg") {
		t.Fatal("expected transform url")
	}
	if IsTransformURL("https://cdn.example.com/file.png") {
		t.Fatal("expected plain source url")
	}
}
