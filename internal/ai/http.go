package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// HTTPConfig configures the HTTP gateway backend.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	// RequestsPerMinute feeds the token bucket; zero means 60.
	RequestsPerMinute int
	// MaxConcurrent bounds in-flight calls; zero means 4.
	MaxConcurrent int64
	// Timeout bounds one logical call including retries; zero means 15s.
	Timeout time.Duration
	// MaxAttempts bounds retries on retryable statuses; zero means 4.
	MaxAttempts int
}

// HTTPBackend calls the gateway over HTTP with a requests-per-minute token
// bucket, a concurrency token bucket, exponential backoff on retryable
// statuses, and strict JSON decoding with clamping/defaulting.
type HTTPBackend struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

// NewHTTPBackend creates an HTTP backend from config, applying defaults.
func NewHTTPBackend(cfg HTTPConfig) *HTTPBackend {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	return &HTTPBackend{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute),
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
	}
}

// Analyze implements Backend.
func (b *HTTPBackend) Analyze(ctx context.Context, req *AnalyzeRequest) (*Analysis, error) {
	var res Analysis
	if err := b.call(ctx, "analyzeMessage", req, &res); err != nil {
		return nil, err
	}
	normalizeAnalysis(&res)
	return &res, nil
}

// Generate implements Backend.
func (b *HTTPBackend) Generate(ctx context.Context, req *GenerateRequest) (*Generation, error) {
	var res Generation
	if err := b.call(ctx, "generateResponse", req, &res); err != nil {
		return nil, err
	}
	normalizeGeneration(&res)
	return &res, nil
}

func (b *HTTPBackend) call(ctx context.Context, op string, payload, out any) error {
	if b.cfg.APIKey == "" {
		return ErrUnauthenticated
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	if err := b.limiter.Wait(ctx); err != nil {
		return classifyCtxErr(err)
	}
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return classifyCtxErr(err)
	}
	defer b.sem.Release(1)

	backoff := 500 * time.Millisecond
	var lastStatus int
	for attempt := 1; ; attempt++ {
		status, data, err := b.post(ctx, op, body)
		if err != nil {
			return classifyCtxErr(err)
		}
		lastStatus = status

		switch {
		case status == http.StatusOK:
			return decodeStrict(data, out)
		case !retryable(status):
			return classifyStatus(status)
		case attempt >= b.cfg.MaxAttempts:
			return classifyStatus(lastStatus)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return classifyCtxErr(ctx.Err())
		}
		backoff *= 2
	}
}

func (b *HTTPBackend) post(ctx context.Context, op string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+"/"+op, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

func retryable(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func classifyStatus(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthenticated
	case http.StatusBadRequest:
		return ErrInvalidArgument
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrTimeout
	default:
		return fmt.Errorf("%w: status %d", ErrUpstream, status)
	}
}

func classifyCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

// decodeStrict enforces the fixed response schema: an empty payload is
// EmptyResponse, anything that does not decode is DecodingFailed.
func decodeStrict(data []byte, out any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return ErrEmptyResponse
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecodingFailed, err)
	}
	return nil
}

// normalizeAnalysis clamps out-of-range numeric fields and defaults
// unrecognized enum values per the gateway contract.
func normalizeAnalysis(a *Analysis) {
	switch a.Category {
	case "fan", "business", "spam", "urgent", "general":
	default:
		a.Category = "general"
	}
	switch a.Sentiment {
	case "positive", "neutral", "negative":
	default:
		a.Sentiment = "neutral"
	}
	if a.Priority < 1 {
		a.Priority = 1
	} else if a.Priority > 5 {
		a.Priority = 5
	}
	if a.CollaborationScore < 0 {
		a.CollaborationScore = 0
	} else if a.CollaborationScore > 1 {
		a.CollaborationScore = 1
	}
}

func normalizeGeneration(g *Generation) {
	switch g.Tone {
	case "casual", "friendly", "professional", "formal":
	default:
		g.Tone = "friendly"
	}
	switch g.Format {
	case "text", "bullet", "paragraph":
	default:
		g.Format = "paragraph"
	}
}
