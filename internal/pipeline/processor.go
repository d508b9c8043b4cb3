package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/dunamismax/flyimg/internal/artifact"
	"github.com/dunamismax/flyimg/internal/input"
	"github.com/dunamismax/flyimg/internal/options"
	"github.com/dunamismax/flyimg/internal/transport"
	"github.com/dunamismax/flyimg/internal/urlbuild"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	stageClassify = "classify"
	stageUpload   = "upload"
	stageBuild    = "build"
	stageDownload = "download"
	stageSave     = "save"
)

type Config struct {
	Options   options.Config
	Transport *transport.Client
	// Store receives downloaded artifacts. Defaults to temp files in the OS
	// temp directory.
	Store      artifact.Store
	Logger     *log.Logger
	Registerer prometheus.Registerer
}

// Request describes one transform. Input is a remote URL string, a local path
// string or input.LocalPath, raw bytes ([]byte, input.Binary), input.Base64 or
// input.DataURI.
type Request struct {
	InstanceURL        string
	Input              any
	Options            options.Options
	Sign               urlbuild.Signer
	OnUploadProgress   func(transport.UploadProgress)
	OnDownloadProgress func(transport.DownloadProgress)
	// Store overrides the processor's artifact store for this request.
	Store artifact.Store
}

// Processor drives classify, upload, build and download for a request. It
// keeps no per-call state; one Processor serves concurrent callers.
type Processor struct {
	options   options.Config
	transport *transport.Client
	store     artifact.Store
	logger    *log.Logger
	metrics   *metrics
	tracer    trace.Tracer
}

func NewProcessor(cfg Config) *Processor {
	client := cfg.Transport
	if client == nil {
		client = transport.NewClient(transport.Config{Logger: cfg.Logger})
	}

	store := cfg.Store
	if store == nil {
		store = artifact.FileStore{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	opts := cfg.Options
	if opts.Separator == "" {
		opts.Separator = options.DefaultSeparator
	}
	if opts.Keys.Len() == 0 {
		opts.Keys = options.DefaultKeys()
	}

	return &Processor{
		options:   opts,
		transport: client,
		store:     store,
		logger:    logger,
		metrics:   newMetrics(cfg.Registerer),
		tracer:    otel.Tracer("flyimg/pipeline"),
	}
}

// OptionsConfig returns the normalized codec configuration.
func (p *Processor) OptionsConfig() options.Config {
	return p.options
}

// BuildURL builds the transform URL for a source that is already remote.
func (p *Processor) BuildURL(baseURL, imagePath string, opts options.Options, sign urlbuild.Signer) (string, error) {
	return urlbuild.Build(urlbuild.Params{
		BaseURL:   baseURL,
		ImagePath: imagePath,
		Options:   opts,
		Sign:      sign,
	}, p.options)
}

// Fetch runs the transform for req and returns the result artifact. Inputs
// that are not remote URLs are uploaded to the instance first. The caller
// owns the artifact and must Release it.
func (p *Processor) Fetch(ctx context.Context, req Request) (*artifact.Artifact, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.fetch")
	defer span.End()

	startedAt := time.Now()
	a, err := p.fetch(ctx, req, span)
	p.finish(span, "fetch", startedAt, a, err)
	return a, err
}

func (p *Processor) fetch(ctx context.Context, req Request, span trace.Span) (*artifact.Artifact, error) {
	in, err := p.classify(ctx, req.Input, input.Classify)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("input.kind", in.Kind.String()))

	source := in.Ref
	if in.NeedsUpload() {
		outcome, err := p.upload(ctx, transport.UploadRequest{
			InstanceURL: req.InstanceURL,
			Input:       in,
			OnProgress:  req.OnUploadProgress,
		})
		if err != nil {
			return nil, err
		}
		if outcome.Kind == transport.OutcomeBinary {
			return p.save(ctx, outcome.Stream, p.storeFor(req), req.OnDownloadProgress)
		}
		if urlbuild.IsTransformURL(outcome.URL) {
			return p.download(ctx, outcome.URL, p.storeFor(req), req.OnDownloadProgress)
		}
		source = outcome.URL
	}

	target, err := p.build(ctx, req, source)
	if err != nil {
		return nil, err
	}
	return p.download(ctx, target, p.storeFor(req), req.OnDownloadProgress)
}

// Upload posts an in-memory payload straight to /upload/<options>, letting
// the instance apply the options during the upload. A pointer answer is
// downloaded as returned. Local paths are rejected.
func (p *Processor) Upload(ctx context.Context, req Request) (*artifact.Artifact, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.upload")
	defer span.End()

	startedAt := time.Now()
	a, err := p.uploadDirect(ctx, req, span)
	p.finish(span, "upload", startedAt, a, err)
	return a, err
}

func (p *Processor) uploadDirect(ctx context.Context, req Request, span trace.Span) (*artifact.Artifact, error) {
	in, err := p.classify(ctx, req.Input, input.ClassifyPayload)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("input.kind", in.Kind.String()))
	if !in.NeedsUpload() {
		return nil, fmt.Errorf("classify stage: %w: %s is not an upload payload", input.ErrUnsupportedInputKind, in.Kind)
	}

	outcome, err := p.upload(ctx, transport.UploadRequest{
		InstanceURL: req.InstanceURL,
		Input:       in,
		Segment:     options.Serialize(req.Options, p.options),
		OnProgress:  req.OnUploadProgress,
	})
	if err != nil {
		return nil, err
	}
	if outcome.Kind == transport.OutcomeBinary {
		return p.save(ctx, outcome.Stream, p.storeFor(req), req.OnDownloadProgress)
	}
	return p.download(ctx, outcome.URL, p.storeFor(req), req.OnDownloadProgress)
}

func (p *Processor) storeFor(req Request) artifact.Store {
	if req.Store != nil {
		return req.Store
	}
	return p.store
}

func (p *Processor) classify(ctx context.Context, raw any, fn func(any) (input.Input, error)) (input.Input, error) {
	_, span := p.tracer.Start(ctx, "pipeline.classify")
	defer span.End()

	startedAt := time.Now()
	in, err := fn(raw)
	p.observeStage(span, stageClassify, startedAt, err)
	if err != nil {
		return input.Input{}, fmt.Errorf("classify stage: %w", err)
	}
	return in, nil
}

func (p *Processor) upload(ctx context.Context, req transport.UploadRequest) (transport.Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.upload_exchange", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("upload.input_kind", req.Input.Kind.String()))

	startedAt := time.Now()
	outcome, err := p.transport.Upload(ctx, req)
	p.observeStage(span, stageUpload, startedAt, err)
	if err != nil {
		p.logger.Printf("upload failed instance=%s kind=%s err=%v", transport.RedactURL(req.InstanceURL), req.Input.Kind, err)
		return transport.Outcome{}, fmt.Errorf("upload stage: %w", err)
	}

	kind := "pointer"
	if outcome.Kind == transport.OutcomeBinary {
		kind = "binary"
	}
	span.SetAttributes(attribute.String("upload.outcome", kind))
	p.metrics.uploadOutcomes.WithLabelValues(kind).Inc()
	return outcome, nil
}

func (p *Processor) build(ctx context.Context, req Request, source string) (string, error) {
	_, span := p.tracer.Start(ctx, "pipeline.build_url")
	defer span.End()

	startedAt := time.Now()
	target, err := p.BuildURL(req.InstanceURL, source, req.Options, req.Sign)
	p.observeStage(span, stageBuild, startedAt, err)
	if err != nil {
		return "", fmt.Errorf("build stage: %w", err)
	}
	return target, nil
}

func (p *Processor) download(ctx context.Context, target string, store artifact.Store, onProgress func(transport.DownloadProgress)) (*artifact.Artifact, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.download", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("download.url", transport.RedactURL(target)))

	startedAt := time.Now()
	a, err := p.transport.Download(ctx, target, store, onProgress)
	p.observeStage(span, stageDownload, startedAt, err)
	if err != nil {
		p.logger.Printf("download failed url=%s err=%v", transport.RedactURL(target), err)
		return nil, fmt.Errorf("download stage: %w", err)
	}
	p.metrics.artifactBytes.Add(float64(max(a.Size, 0)))
	return a, nil
}

func (p *Processor) save(ctx context.Context, stream transport.Stream, store artifact.Store, onProgress func(transport.DownloadProgress)) (*artifact.Artifact, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.save")
	defer span.End()

	startedAt := time.Now()
	a, err := transport.Save(ctx, stream, store, onProgress)
	p.observeStage(span, stageSave, startedAt, err)
	if err != nil {
		return nil, fmt.Errorf("save stage: %w", err)
	}
	p.metrics.artifactBytes.Add(float64(max(a.Size, 0)))
	return a, nil
}

func (p *Processor) observeStage(span trace.Span, stage string, startedAt time.Time, err error) {
	status := "ok"
	if err != nil {
		status = errorClass(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, stage+" failed")
	}
	p.metrics.stageDuration.WithLabelValues(stage, status).Observe(time.Since(startedAt).Seconds())
}

func (p *Processor) finish(span trace.Span, operation string, startedAt time.Time, a *artifact.Artifact, err error) {
	status := "ok"
	if err != nil {
		status = errorClass(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, operation+" failed")
	} else {
		span.SetAttributes(
			attribute.String("artifact.location", a.Location),
			attribute.String("artifact.content_type", a.ContentType),
			attribute.Int64("artifact.size", a.Size),
		)
		span.SetStatus(codes.Ok, "fetched")
	}
	p.metrics.requestsTotal.WithLabelValues(operation, status).Inc()
	p.metrics.requestDuration.WithLabelValues(operation, status).Observe(time.Since(startedAt).Seconds())
}

// errorClass maps an error onto a bounded metric label.
func errorClass(err error) string {
	var (
		uploadErr   *transport.UploadFailedError
		downloadErr *transport.DownloadFailedError
	)
	switch {
	case errors.Is(err, input.ErrUnsupportedInputKind):
		return "unsupported_input"
	case errors.Is(err, input.ErrInvalidEncodedPayload):
		return "invalid_payload"
	case errors.Is(err, transport.ErrMissingResultURL):
		return "missing_url"
	case errors.As(err, &uploadErr):
		return "upload_failed"
	case errors.As(err, &downloadErr):
		return "download_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

// SourceName is a short, log-safe description of a request input.
func SourceName(v any) string {
	switch in := v.(type) {
	case string:
		if input.IsRemoteURL(in) {
			return transport.RedactURL(in)
		}
		return in
	case input.LocalPath:
		return string(in)
	case input.Base64:
		return "base64"
	case input.DataURI:
		if head, _, ok := strings.Cut(string(in), ","); ok {
			return head
		}
		return "data-uri"
	case []byte, input.Binary, *input.Binary:
		return "binary"
	default:
		return fmt.Sprintf("%T", v)
	}
}
