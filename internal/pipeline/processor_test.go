package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/dunamismax/flyimg/internal/artifact"
	"github.com/dunamismax/flyimg/internal/input"
	"github.com/dunamismax/flyimg/internal/options"
	"github.com/dunamismax/flyimg/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
)

// fakeInstance records requests and answers like a Flyimg instance.
type fakeInstance struct {
	mu       sync.Mutex
	requests []string
	server   *httptest.Server

	uploadContentType string
	uploadBody        string
	received          []byte
	transformed       string
	downloadStatus    int
}

func newFakeInstance(t *testing.T) *fakeInstance {
	t.Helper()

	f := &fakeInstance{transformed: "transformed-bytes", downloadStatus: http.StatusOK}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeInstance) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	status := f.downloadStatus
	f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost:
		raw, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.received = raw
		f.mu.Unlock()
		w.Header().Set("Content-Type", f.uploadContentType)
		_, _ = io.WriteString(w, f.uploadBody)
	case status != http.StatusOK:
		http.Error(w, "upstream broke", status)
	default:
		w.Header().Set("Content-Type", "image/webp")
		_, _ = io.WriteString(w, f.transformed)
	}
}

func (f *fakeInstance) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func newTestProcessor(t *testing.T, store artifact.Store) *Processor {
	t.Helper()

	cfg := options.DefaultConfig()
	cfg.Defaults = options.Of("output", "auto")
	return NewProcessor(Config{Options: cfg, Store: store})
}

func TestFetchRemoteURLSkipsUpload(t *testing.T) {
	fly := newFakeInstance(t)
	dir := t.TempDir()
	processor := newTestProcessor(t, artifact.FileStore{Dir: dir})

	var progress []transport.DownloadProgress
	a, err := processor.Fetch(context.Background(), Request{
		InstanceURL:        fly.server.URL,
		Input:              "https://example.com/a.jpg",
		Options:            options.Of("width", 200, "quality", 80),
		OnDownloadProgress: func(p transport.DownloadProgress) { progress = append(progress, p) },
	})
	if err != nil {
		t.Fatalf("fetch returned error: %v", err)
	}

	requests := fly.Requests()
	if len(requests) != 1 || requests[0] != "GET /upload/o_auto,w_200,q_80/https://example.com/a.jpg" {
		t.Fatalf("unexpected requests %v", requests)
	}
	assertArtifact(t, a, "transformed-bytes")
	if filepath.Ext(a.Location) != ".webp" {
		t.Fatalf("expected .webp artifact, got %s", a.Location)
	}
	if len(progress) == 0 || progress[len(progress)-1].ReceivedBytes != int64(len("transformed-bytes")) {
		t.Fatalf("unexpected progress %+v", progress)
	}

	if err := a.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(a.Location); !os.IsNotExist(err) {
		t.Fatalf("expected artifact to be removed, stat err=%v", err)
	}
}

func TestFetchLocalFileUploadsThenTransforms(t *testing.T) {
	fly := newFakeInstance(t)
	fly.uploadContentType = "application/json"
	fly.uploadBody = `{"url":"` + fly.server.URL + `/media/source.png"}`

	src := filepath.Join(t.TempDir(), "source.png")
	if err := os.WriteFile(src, []byte("local-image"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	var uploaded transport.UploadProgress
	processor := newTestProcessor(t, artifact.MemoryStore{})
	a, err := processor.Fetch(context.Background(), Request{
		InstanceURL:      fly.server.URL + "/",
		Input:            src,
		Options:          options.Of("width", 50),
		OnUploadProgress: func(p transport.UploadProgress) { uploaded = p },
	})
	if err != nil {
		t.Fatalf("fetch returned error: %v", err)
	}
	defer a.Release(context.Background())

	requests := fly.Requests()
	want := []string{
		"POST /upload",
		"GET /upload/o_auto,w_50/" + fly.server.URL + "/media/source.png",
	}
	if strings.Join(requests, "|") != strings.Join(want, "|") {
		t.Fatalf("expected requests %v, got %v", want, requests)
	}
	if uploaded.SentBytes == 0 || uploaded.SentBytes != uploaded.TotalBytes {
		t.Fatalf("expected complete upload progress, got %+v", uploaded)
	}
	assertArtifact(t, a, "transformed-bytes")
}

func TestFetchPointerToTransformURLUsedAsIs(t *testing.T) {
	fly := newFakeInstance(t)
	fly.uploadContentType = "application/json"
	fly.uploadBody = `{"url":"` + fly.server.URL + `/upload/w_10/stored.png"}`

	processor := newTestProcessor(t, artifact.MemoryStore{})
	a, err := processor.Fetch(context.Background(), Request{
		InstanceURL: fly.server.URL,
		Input:       input.Base64(base64.StdEncoding.EncodeToString([]byte("in"))),
		Options:     options.Of("width", 999),
	})
	if err != nil {
		t.Fatalf("fetch returned error: %v", err)
	}
	defer a.Release(context.Background())

	requests := fly.Requests()
	if len(requests) != 2 || requests[1] != "GET /upload/w_10/stored.png" {
		t.Fatalf("expected pointer url to be fetched as-is, got %v", requests)
	}
}

func TestFetchBinaryUploadShortCircuits(t *testing.T) {
	fly := newFakeInstance(t)
	fly.uploadContentType = "image/png"
	fly.uploadBody = "already-transformed"

	processor := newTestProcessor(t, artifact.MemoryStore{})
	var progress transport.DownloadProgress
	a, err := processor.Fetch(context.Background(), Request{
		InstanceURL:        fly.server.URL,
		Input:              []byte("raw-input"),
		OnDownloadProgress: func(p transport.DownloadProgress) { progress = p },
	})
	if err != nil {
		t.Fatalf("fetch returned error: %v", err)
	}
	defer a.Release(context.Background())

	if requests := fly.Requests(); len(requests) != 1 {
		t.Fatalf("expected a single upload request, got %v", requests)
	}
	assertArtifact(t, a, "already-transformed")
	if a.ContentType != "image/png" {
		t.Fatalf("expected image/png, got %s", a.ContentType)
	}
	if progress.ReceivedBytes != int64(len("already-transformed")) {
		t.Fatalf("unexpected progress %+v", progress)
	}
}

func TestFetchUnsupportedInputMakesNoRequest(t *testing.T) {
	fly := newFakeInstance(t)
	processor := newTestProcessor(t, artifact.MemoryStore{})

	for _, in := range []any{123, nil, struct{}{}} {
		_, err := processor.Fetch(context.Background(), Request{InstanceURL: fly.server.URL, Input: in})
		if !errors.Is(err, input.ErrUnsupportedInputKind) {
			t.Fatalf("input %#v: expected ErrUnsupportedInputKind, got %v", in, err)
		}
	}
	if requests := fly.Requests(); len(requests) != 0 {
		t.Fatalf("expected no requests, got %v", requests)
	}
}

func TestFetchInvalidPayloadMakesNoRequest(t *testing.T) {
	fly := newFakeInstance(t)
	processor := newTestProcessor(t, artifact.MemoryStore{})

	_, err := processor.Fetch(context.Background(), Request{InstanceURL: fly.server.URL, Input: input.Base64("%%%")})
	if !errors.Is(err, input.ErrInvalidEncodedPayload) {
		t.Fatalf("expected ErrInvalidEncodedPayload, got %v", err)
	}
	if requests := fly.Requests(); len(requests) != 0 {
		t.Fatalf("expected no requests, got %v", requests)
	}
}

func TestFetchDownloadFailureLeavesNoArtifact(t *testing.T) {
	fly := newFakeInstance(t)
	fly.downloadStatus = http.StatusBadGateway
	dir := t.TempDir()
	processor := newTestProcessor(t, artifact.FileStore{Dir: dir})

	_, err := processor.Fetch(context.Background(), Request{InstanceURL: fly.server.URL, Input: "https://example.com/a.jpg"})
	var failed *transport.DownloadFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected DownloadFailedError, got %v", err)
	}
	if failed.Status != http.StatusBadGateway || failed.Body != "upstream broke" {
		t.Fatalf("unexpected error fields %+v", failed)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read artifact dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no artifacts, found %d", len(entries))
	}
}

func TestUploadPostsOptionsOnUploadPath(t *testing.T) {
	fly := newFakeInstance(t)
	fly.uploadContentType = "application/json"
	fly.uploadBody = `{"url":"` + fly.server.URL + `/cdn/x.jpg"}`

	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("abc"))
	processor := newTestProcessor(t, artifact.MemoryStore{})
	a, err := processor.Upload(context.Background(), Request{
		InstanceURL: fly.server.URL,
		Input:       input.DataURI(dataURI),
		Options:     options.Of("quality", 70),
	})
	if err != nil {
		t.Fatalf("upload returned error: %v", err)
	}
	defer a.Release(context.Background())

	requests := fly.Requests()
	want := []string{"POST /upload/o_auto,q_70", "GET /cdn/x.jpg"}
	if strings.Join(requests, "|") != strings.Join(want, "|") {
		t.Fatalf("expected requests %v, got %v", want, requests)
	}
	var envelope map[string]string
	if err := json.Unmarshal(fly.received, &envelope); err != nil {
		t.Fatalf("decode upload body: %v", err)
	}
	if envelope["dataUri"] != dataURI {
		t.Fatalf("expected dataUri envelope, got %v", envelope)
	}
	assertArtifact(t, a, "transformed-bytes")
}

func TestUploadRejectsLocalPathsAndURLs(t *testing.T) {
	processor := newTestProcessor(t, artifact.MemoryStore{})

	for _, in := range []any{"relative/file.png", input.LocalPath("/tmp/a.png"), "https://example.com/a.jpg"} {
		_, err := processor.Upload(context.Background(), Request{InstanceURL: "http://127.0.0.1:1", Input: in})
		if !errors.Is(err, input.ErrUnsupportedInputKind) {
			t.Fatalf("input %#v: expected ErrUnsupportedInputKind, got %v", in, err)
		}
	}
}

func TestUploadFailureSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "boom")
	}))
	defer srv.Close()

	processor := newTestProcessor(t, artifact.MemoryStore{})
	_, err := processor.Upload(context.Background(), Request{InstanceURL: srv.URL, Input: []byte("x")})
	var failed *transport.UploadFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected UploadFailedError, got %v", err)
	}
	if failed.Status != http.StatusInternalServerError || failed.Body != "boom" {
		t.Fatalf("unexpected error fields %+v", failed)
	}
}

func TestBuildURLSigned(t *testing.T) {
	processor := NewProcessor(Config{})

	var signed string
	got, err := processor.BuildURL("https://img.example.com", "https://example.com/a.jpg", options.Of("quality", 70), func(path string) string {
		signed = path
		return "sig"
	})
	if err != nil {
		t.Fatalf("build url: %v", err)
	}
	if got != "https://img.example.com/upload/q_70/https://example.com/a.jpg?s=sig" {
		t.Fatalf("unexpected url %s", got)
	}
	if signed != "/q_70/https://example.com/a.jpg" {
		t.Fatalf("unexpected signed path %s", signed)
	}
}

func TestMetricsShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewProcessor(Config{Registerer: reg, Store: artifact.MemoryStore{}})
	second := NewProcessor(Config{Registerer: reg, Store: artifact.MemoryStore{}})

	_, _ = first.Fetch(context.Background(), Request{Input: 1})
	_, _ = second.Fetch(context.Background(), Request{Input: 2})

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	var got float64
	for _, family := range families {
		if family.GetName() != "flyimg_pipeline_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			got += metric.GetCounter().GetValue()
		}
	}
	if got != 2 {
		t.Fatalf("expected 2 failed fetches, got %v", got)
	}
}

func TestSourceName(t *testing.T) {
	cases := map[string]any{
		"https://example.com/a.jpg": "https://example.com/a.jpg?s=secret",
		"photos/a.png":              "photos/a.png",
		"base64":                    input.Base64("aGk="),
		"data:image/png;base64":     input.DataURI("data:image/png;base64,aGk="),
		"binary":                    []byte("x"),
		"int":                       5,
	}
	for want, in := range cases {
		if got := SourceName(in); got != want {
			t.Fatalf("SourceName(%#v) = %q, expected %q", in, got, want)
		}
	}
}

func assertArtifact(t *testing.T, a *artifact.Artifact, want string) {
	t.Helper()

	data, err := artifact.ReadAll(context.Background(), a)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != want {
		t.Fatalf("expected artifact %q, got %q", want, data)
	}
	if a.Size != int64(len(want)) {
		t.Fatalf("expected artifact size %d, got %d", len(want), a.Size)
	}
}
