package main

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func runCommand(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestURLCommand(t *testing.T) {
	out, err := runCommand(t, nil,
		"url", "https://example.com/a.jpg",
		"--instance", "https://fly.example.com",
		"--opt", "width=300",
		"--opt", "output=webp",
	)
	if err != nil {
		t.Fatalf("url command: %v", err)
	}
	if got := strings.TrimSpace(out); got != "https://fly.example.com/upload/w_300,o_webp/https://example.com/a.jpg" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestURLCommandSigned(t *testing.T) {
	out, err := runCommand(t, nil,
		"url", "https://example.com/a.jpg",
		"--instance", "https://fly.example.com",
		"--secret", "s3cret",
		"--opt", "width=300",
	)
	if err != nil {
		t.Fatalf("url command: %v", err)
	}
	if !strings.Contains(out, "?s=") {
		t.Fatalf("expected signature query, got %q", out)
	}
}

func TestURLCommandRejectsMalformedOption(t *testing.T) {
	_, err := runCommand(t, nil, "url", "https://example.com/a.jpg", "--instance", "https://fly.example.com", "--opt", "width")
	if err == nil || !strings.Contains(err.Error(), "expected name=value") {
		t.Fatalf("expected malformed option error, got %v", err)
	}
}

func TestFetchCommandWritesOutput(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 6, 2))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	rendered := buf.Bytes()

	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(rendered)
	}))
	defer srv.Close()

	outputPath := filepath.Join(t.TempDir(), "result.png")
	out, err := runCommand(t, nil,
		"fetch", "https://example.com/a.jpg",
		"--instance", srv.URL,
		"--opt", "width=6",
		"-o", outputPath,
	)
	if err != nil {
		t.Fatalf("fetch command: %v", err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(data, rendered) {
		t.Fatal("expected output to hold the transformed bytes")
	}
	if !strings.Contains(out, "6x2 png") {
		t.Fatalf("expected dimensions in summary, got %q", out)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 1 || paths[0] != "GET /upload/w_6/https://example.com/a.jpg" {
		t.Fatalf("unexpected requests %v", paths)
	}

	entries, _ := os.ReadDir(filepath.Dir(outputPath))
	if len(entries) != 1 {
		t.Fatalf("expected only the output file, got %d entries", len(entries))
	}
}

func TestFetchCommandUploadsStdin(t *testing.T) {
	var (
		mu       sync.Mutex
		received []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			raw, _ := io.ReadAll(r.Body)
			mu.Lock()
			received = raw
			mu.Unlock()
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = io.WriteString(w, "jpeg-bytes")
	}))
	defer srv.Close()

	outputPath := filepath.Join(t.TempDir(), "out.jpg")
	_, err := runCommand(t, strings.NewReader("raw-image"),
		"fetch", "-",
		"--instance", srv.URL,
		"--upload",
		"-o", outputPath,
	)
	if err != nil {
		t.Fatalf("fetch command: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !bytes.Contains(received, []byte("raw-image")) {
		t.Fatalf("expected stdin to be uploaded, got %q", received)
	}
	if data, _ := os.ReadFile(outputPath); string(data) != "jpeg-bytes" {
		t.Fatalf("unexpected output %q", data)
	}
}

func TestKeysCommand(t *testing.T) {
	out, err := runCommand(t, nil, "keys")
	if err != nil {
		t.Fatalf("keys command: %v", err)
	}
	for _, want := range []string{"width", "quality", `separator ","`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestParseOptionFlags(t *testing.T) {
	opts, err := parseOptionFlags([]string{"width=300", "sharpen=0.5", "refresh=true", "output=webp", "text=a=b"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := strings.Join(opts.Keys(), ","); got != "width,sharpen,refresh,output,text" {
		t.Fatalf("unexpected key order %s", got)
	}

	checks := map[string]any{
		"width":   int64(300),
		"sharpen": 0.5,
		"refresh": true,
		"output":  "webp",
		"text":    "a=b",
	}
	for name, want := range checks {
		if got, _ := opts.Get(name); got != want {
			t.Fatalf("%s: expected %#v, got %#v", name, want, got)
		}
	}
}

func TestParseOptionFlagsKeepsLookalikesAsStrings(t *testing.T) {
	for _, raw := range []string{"t", "f", "T", "TRUE", "1.5x", "inf", "+Inf", "infinity", "nan", "NaN"} {
		opts, err := parseOptionFlags([]string{"text=" + raw})
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got, _ := opts.Get("text"); got != raw {
			t.Fatalf("%q: expected string value, got %#v", raw, got)
		}
	}
}
