package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Backend performs the actual gateway calls. Tests script it; production uses
// the HTTP backend.
type Backend interface {
	Analyze(ctx context.Context, req *AnalyzeRequest) (*Analysis, error)
	Generate(ctx context.Context, req *GenerateRequest) (*Generation, error)
}

// Client validates requests and caches analyze results in-process, keyed by a
// canonical serialization of the request. Generation results are never
// cached; each call may legitimately want a fresh completion.
type Client struct {
	backend Backend

	mu    sync.Mutex
	cache map[string]*Analysis
}

// NewClient creates a gateway client over the given backend.
func NewClient(backend Backend) *Client {
	return &Client{
		backend: backend,
		cache:   make(map[string]*Analysis),
	}
}

// AnalyzeMessage returns enrichment metadata for one message. Identical
// repeated requests within the process lifetime return the cached value
// without a network call.
func (c *Client) AnalyzeMessage(ctx context.Context, req *AnalyzeRequest) (*Analysis, error) {
	if req.Message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidArgument)
	}

	key, err := cacheKey(req)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if cached, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	res, err := c.backend.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = res
	c.mu.Unlock()
	return res, nil
}

// GenerateResponse returns a suggested reply. History beyond the last 8 turns
// is trimmed before the call.
func (c *Client) GenerateResponse(ctx context.Context, req *GenerateRequest) (*Generation, error) {
	if req.Message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidArgument)
	}
	if len(req.ConversationHistory) > maxHistoryTurns {
		trimmed := *req
		trimmed.ConversationHistory = req.ConversationHistory[len(req.ConversationHistory)-maxHistoryTurns:]
		req = &trimmed
	}
	return c.backend.Generate(ctx, req)
}

// cacheKey serializes the request canonically: encoding/json emits struct
// fields in declaration order and map keys sorted, so equal requests always
// produce equal keys.
func cacheKey(req *AnalyzeRequest) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode analyze request: %w", err)
	}
	return string(b), nil
}
