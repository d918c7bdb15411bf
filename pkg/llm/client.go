// Package llm provides the language model client used by semantic policy
// evaluation, plus rate limiting for outbound calls.
package llm

import (
	"context"
	"errors"
)

// Request is a single completion request.
type Request struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response carries the model output.
type Response struct {
	Text       string
	TokensUsed int
}

// Client abstracts a language model backend.
type Client interface {
	// Complete sends the prompt and returns the model output.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Probe checks whether the backend is reachable. A nil error means
	// the backend answered; it says nothing about model quality.
	Probe(ctx context.Context) error
}

// ErrRateLimited is returned when the outbound limiter denies a call.
// Callers treat it like any other backend failure for the affected policy.
var ErrRateLimited = errors.New("llm: rate limited")

// RateLimitedClient wraps a Client and consults a LimiterStore before
// every completion. Probes are not limited.
type RateLimitedClient struct {
	inner  Client
	store  LimiterStore
	policy RatePolicy
	key    string
}

// NewRateLimitedClient wraps inner with the given limiter. The key
// identifies the bucket, typically the backend base URL.
func NewRateLimitedClient(inner Client, store LimiterStore, policy RatePolicy, key string) *RateLimitedClient {
	return &RateLimitedClient{inner: inner, store: store, policy: policy, key: key}
}

func (c *RateLimitedClient) Complete(ctx context.Context, req Request) (*Response, error) {
	allowed, err := c.store.Allow(ctx, c.key, c.policy, 1)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrRateLimited
	}
	return c.inner.Complete(ctx, req)
}

func (c *RateLimitedClient) Probe(ctx context.Context) error {
	return c.inner.Probe(ctx)
}
