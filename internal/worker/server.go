package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dunamismax/flyimg/internal/artifact"
	"github.com/dunamismax/flyimg/internal/config"
	"github.com/dunamismax/flyimg/internal/domain"
	"github.com/dunamismax/flyimg/internal/input"
	"github.com/dunamismax/flyimg/internal/options"
	"github.com/dunamismax/flyimg/internal/pipeline"
	"github.com/dunamismax/flyimg/internal/queue"
	"github.com/dunamismax/flyimg/internal/store"
	"github.com/dunamismax/flyimg/internal/transport"
	"github.com/dunamismax/flyimg/internal/urlbuild"
	"github.com/dunamismax/flyimg/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const outputURLTTL = time.Hour

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	processor     *pipeline.Processor
	instanceURL   string
	signer        urlbuild.Signer
	sources       sourceLoader
	outputs       artifact.ObjectBackend
	outputPrefix  string
	linker        outputLinker
	webhookClient webhookSender
	jobStore      store.JobStore
	usageStore    store.UsageStore
	metrics       *metrics
	tracer        trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type sourceLoader interface {
	Load(ctx context.Context, objectKey string) (input.Binary, error)
}

type outputLinker interface {
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// Storage is what the worker needs from object storage: reading uploaded
// sources and writing transform outputs.
type Storage interface {
	artifact.ObjectBackend
	pipeline.ObjectReader
	outputLinker
}

type Dependencies struct {
	Storage    Storage
	Transport  *transport.Client
	Options    options.Config
	Webhook    webhookSender
	JobStore   store.JobStore
	UsageStore store.UsageStore
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	flyimgCfg config.FlyimgConfig,
	deps Dependencies,
) (*Server, error) {
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(flyimgCfg.URL) == "" {
		return nil, fmt.Errorf("flyimg instance url is required")
	}

	usageStore := deps.UsageStore
	if usageStore == nil {
		if jobAndUsageStore, ok := deps.JobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	m := newMetrics()
	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem: make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		processor: pipeline.NewProcessor(pipeline.Config{
			Options:    deps.Options,
			Transport:  deps.Transport,
			Store:      artifact.FileStore{Dir: workerCfg.ArtifactDir},
			Logger:     logger,
			Registerer: m.registry,
		}),
		instanceURL:   flyimgCfg.URL,
		signer:        urlbuild.HMACSigner(flyimgCfg.SigningSecret),
		sources:       pipeline.ObjectSource{Storage: deps.Storage},
		outputs:       deps.Storage,
		outputPrefix:  workerCfg.OutputPrefix,
		linker:        deps.Storage,
		webhookClient: deps.Webhook,
		jobStore:      deps.JobStore,
		usageStore:    usageStore,
		metrics:       m,
		tracer:        otel.Tracer("flyimg/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeTransformImage, s.handleTransformImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

// result is what one successful transform produced.
type result struct {
	output        domain.Output
	bytesSent     int64
	bytesReceived int64
}

func (s *Server) handleTransformImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseTransformImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	mode := domain.NormalizeMode(payload.Mode)

	ctx, span := s.tracer.Start(ctx, "worker.transform_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.mode", mode),
		attribute.Int("job.options", payload.Options.Len()),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_type=%s mode=%s options=%s",
		payload.JobID,
		payload.SourceType,
		mode,
		strings.Join(payload.Options.Keys(), ","),
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	res, err := s.transform(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transform failed")

		terminal := isTerminal(err)
		if !terminal && !finalAttempt(ctx) {
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
			return fmt.Errorf("run pipeline: %w", err)
		}

		s.completeJob(ctx, payload.JobID, domain.Output{}, err.Error())
		_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"source_type":  payload.SourceType,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		})
		if terminal {
			return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run pipeline: %w", err)
	}

	s.logger.Printf("Processed job_id=%s output=%s bytes=%d", payload.JobID, res.output.ObjectKey, res.output.Bytes)
	s.completeJob(ctx, payload.JobID, res.output, "")
	s.metrics.outputsTotal.Inc()
	s.recordUsage(ctx, payload, res, time.Since(startedAt))

	body := map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"output":       res.output,
	}
	if link := s.outputURL(ctx, res.output.ObjectKey); link != "" {
		body["output_url"] = link
	}
	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, body); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

// transform runs the pipeline for one job and keeps its artifact in the
// output bucket. The object becomes the job's output and is not released.
func (s *Server) transform(ctx context.Context, payload queue.TransformImagePayload) (result, error) {
	in, err := s.resolveInput(ctx, payload)
	if err != nil {
		return result{}, err
	}

	var sent int64
	req := pipeline.Request{
		InstanceURL:      s.instanceURL,
		Input:            in,
		Options:          payload.Options,
		Sign:             s.signer,
		OnUploadProgress: func(p transport.UploadProgress) { sent = p.SentBytes },
		Store: artifact.ObjectStore{
			Backend: s.outputs,
			Prefix:  path.Join(outputPrefix(s.outputPrefix), payload.JobID),
		},
	}

	var a *artifact.Artifact
	if domain.NormalizeMode(payload.Mode) == domain.ModeUpload {
		a, err = s.processor.Upload(ctx, req)
	} else {
		a, err = s.processor.Fetch(ctx, req)
	}
	if err != nil {
		return result{}, err
	}

	output := domain.Output{
		ObjectKey:   a.Location,
		ContentType: a.ContentType,
		Bytes:       a.Size,
	}
	if dims, err := artifact.Probe(ctx, a); err != nil {
		s.logger.Printf("probe output failed job_id=%s key=%s err=%v", payload.JobID, a.Location, err)
	} else {
		output.Width = dims.Width
		output.Height = dims.Height
	}

	return result{output: output, bytesSent: sent, bytesReceived: a.Size}, nil
}

func (s *Server) resolveInput(ctx context.Context, payload queue.TransformImagePayload) (any, error) {
	if payload.SourceType == domain.SourceTypeS3Presigned {
		if s.sources == nil {
			return nil, errors.New("object source is not configured")
		}
		return s.sources.Load(ctx, payload.ObjectKey)
	}

	job := domain.Job{
		SourceType: payload.SourceType,
		SourceURL:  payload.SourceURL,
		Payload:    payload.Payload,
	}
	return job.Input()
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) completeJob(ctx context.Context, jobID string, output domain.Output, errMsg string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Complete(ctx, jobID, output, errMsg); err != nil {
		s.logger.Printf("job completion update failed job_id=%s err=%v", jobID, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.TransformImagePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) outputURL(ctx context.Context, objectKey string) string {
	if s.linker == nil || objectKey == "" {
		return ""
	}
	link, err := s.linker.PresignedGetURL(ctx, objectKey, outputURLTTL)
	if err != nil {
		s.logger.Printf("presign output failed key=%s err=%v", objectKey, err)
		return ""
	}
	return link
}

func (s *Server) recordUsage(ctx context.Context, payload queue.TransformImagePayload, res result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" && s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, payload.JobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", payload.JobID, err)
		} else if ok {
			userID = strings.TrimSpace(job.UserID)
		}
	}
	if userID == "" {
		userID = "anonymous"
	}

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		UserID:        userID,
		JobID:         payload.JobID,
		BytesSent:     max(res.bytesSent, 0),
		BytesReceived: max(res.bytesReceived, 0),
		ComputeTimeMS: computeTimeMS,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", payload.JobID, err)
		return
	}

	s.metrics.bytesSentTotal.Add(float64(usage.BytesSent))
	s.metrics.bytesReceivedTotal.Add(float64(usage.BytesReceived))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}

// isTerminal reports failures that a retry cannot fix: bad input, a
// malformed answer, or a client error from the instance.
func isTerminal(err error) bool {
	if errors.Is(err, input.ErrUnsupportedInputKind) ||
		errors.Is(err, input.ErrInvalidEncodedPayload) ||
		errors.Is(err, transport.ErrMissingResultURL) {
		return true
	}

	var (
		uploadErr   *transport.UploadFailedError
		downloadErr *transport.DownloadFailedError
	)
	switch {
	case errors.As(err, &uploadErr):
		return clientError(uploadErr.Status)
	case errors.As(err, &downloadErr):
		return clientError(downloadErr.Status)
	default:
		return false
	}
}

func clientError(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}

// finalAttempt reports whether asynq will not retry the running task again.
// Outside asynq every attempt is final.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func outputPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
