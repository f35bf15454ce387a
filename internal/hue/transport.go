package hue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// MaxResponseSize caps how much of a response body is read.
const MaxResponseSize = 1 << 20

// Request is one exchange with the bridge (or the discovery service).
type Request struct {
	Method     string
	URL        string
	Body       any  // marshalled as JSON when non-nil
	Idempotent bool // safe to replay after the bridge has answered
}

// Response is a fully read response whose body is a JSON array or object.
type Response struct {
	StatusCode int
	Body       []byte
}

// TransportConfig configures a Transport.
type TransportConfig struct {
	Timeout      time.Duration // per attempt (default: 10s)
	Retry        RetryPolicy
	RateLimitRPS float64      // 0 disables pacing
	HTTPClient   *http.Client // optional; overrides the default client
}

// Transport is the single HTTP client used for every bridge request.
// It applies a per-attempt timeout, paces requests and retries according to
// its RetryPolicy. Connections are reused across calls.
type Transport struct {
	httpClient *http.Client
	timeout    time.Duration
	policy     RetryPolicy
	limiter    *rate.Limiter
}

// NewTransport creates a transport from cfg.
func NewTransport(cfg TransportConfig) *Transport {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Bridge requests use plain HTTP, so certificates are always verified
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimitRPS > 0 {
		burst := int(cfg.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	return &Transport{
		httpClient: httpClient,
		timeout:    cfg.Timeout,
		policy:     cfg.Retry,
		limiter:    limiter,
	}
}

// WithPolicy returns a transport sharing connections and pacing with t but
// retrying according to policy.
func (t *Transport) WithPolicy(policy RetryPolicy) *Transport {
	clone := *t
	clone.policy = policy
	return &clone
}

// Timeout returns the per-attempt timeout.
func (t *Transport) Timeout() time.Duration {
	return t.timeout
}

// Close closes idle connections.
func (t *Transport) Close() {
	t.httpClient.CloseIdleConnections()
}

// Send performs req, retrying transport failures under the retry policy.
// Application-level error envelopes are returned as a successful Response;
// interpreting them is the caller's job.
func (t *Transport) Send(ctx context.Context, req *Request) (*Response, error) {
	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	attempts := t.policy.attempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := t.policy.wait(ctx); err != nil {
				return nil, err
			}
		}
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := t.do(ctx, req, payload)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if attempt == attempts || !t.policy.ShouldRetry(req.Idempotent, err) {
			break
		}

		log.Debug().
			Err(err).
			Str("method", req.Method).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("delay", t.policy.Delay).
			Msg("Request failed, retrying")
	}

	return nil, lastErr
}

func (t *Transport) do(ctx context.Context, req *Request, payload []byte) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		// Never sent, and replaying cannot fix a malformed request
		return nil, fmt.Errorf("failed to build %s request: %w", req.Method, err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Kind: classify(attemptCtx, err), Method: req.Method, URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		// Headers arrived, so the bridge has seen the request
		return nil, &TransportError{Kind: Malformed, Method: req.Method, URL: req.URL, Err: err}
	}
	if len(data) > MaxResponseSize {
		return nil, &TransportError{
			Kind:   Malformed,
			Method: req.Method,
			URL:    req.URL,
			Err:    fmt.Errorf("response exceeds %d bytes", MaxResponseSize),
		}
	}
	if !isEnvelope(data) {
		return nil, &TransportError{
			Kind:   Malformed,
			Method: req.Method,
			URL:    req.URL,
			Err:    fmt.Errorf("HTTP %d: body is not a JSON envelope: %q", resp.StatusCode, Truncate(string(data), 64)),
		}
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// classify maps an http.Client error onto a transport error kind.
func classify(attemptCtx context.Context, err error) TransportErrorKind {
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	return Unreachable
}

// isEnvelope reports whether data is a well-formed JSON array or object.
func isEnvelope(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return false
	}
	if trimmed[0] != '[' && trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}
