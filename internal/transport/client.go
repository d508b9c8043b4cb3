package transport

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/flyimg/internal/ratelimit"
)

const (
	defaultTimeout     = 2 * time.Minute
	defaultUploadField = "file"
	defaultUserAgent   = "flyimg-go"
	maxErrorBodyBytes  = 4096
	maxPointerBytes    = 1 << 20
)

// Limiter throttles outbound requests per remote host.
type Limiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

type Config struct {
	Timeout     time.Duration
	HTTPClient  *http.Client
	UploadField string
	UserAgent   string
	Limiter     Limiter
	Logger      *log.Logger
}

// Client performs the upload and download exchanges against a Flyimg
// instance. It holds no per-call state and is safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	uploadField string
	userAgent   string
	limiter     Limiter
	logger      *log.Logger
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	uploadField := strings.TrimSpace(cfg.UploadField)
	if uploadField == "" {
		uploadField = defaultUploadField
	}

	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Client{
		httpClient:  httpClient,
		uploadField: uploadField,
		userAgent:   userAgent,
		limiter:     cfg.Limiter,
		logger:      logger,
	}
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if err := c.throttle(req.Context(), req.URL.Host); err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	return c.httpClient.Do(req)
}

// throttle blocks until the limiter admits a request to host. Limiter
// failures let the request through.
func (c *Client) throttle(ctx context.Context, host string) error {
	if c.limiter == nil {
		return nil
	}
	subject := ratelimit.OutboundSubject(host)
	for {
		decision, err := c.limiter.Allow(ctx, subject)
		if err != nil {
			c.logger.Printf("rate limiter check failed subject=%s err=%v", subject, err)
			return nil
		}
		if decision.Allowed {
			return nil
		}

		wait := decision.RetryAfter
		if wait <= 0 {
			wait = 100 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	return strings.TrimSpace(string(body))
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// RedactURL drops query parameters (signatures) from u for logging.
func RedactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	parsed.RawQuery = ""
	return parsed.String()
}
