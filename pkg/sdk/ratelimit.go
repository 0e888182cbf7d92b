package embedpipe

import (
	"context"
	"net/http"
	"time"
)

// RateLimitService inspects provider rate limits and tunes the server's
// rate-limiting strategy.
type RateLimitService struct {
	client *Client
}

// Status returns the current rate-limit view for a provider.
func (s *RateLimitService) Status(ctx context.Context, provider string) (RateLimitStatus, error) {
	start := time.Now()
	var status RateLimitStatus
	err := s.client.do(ctx, http.MethodGet, "/api/v1/ratelimit/"+provider, nil, &status)
	s.client.obs.observe("ratelimit_status", start, err)
	return status, err
}

type strategyRequest struct {
	Strategy string          `json:"strategy"`
	Custom   *StrategyConfig `json:"custom,omitempty"`
}

// StrategyConfig carries explicit parameters for a custom strategy.
type StrategyConfig struct {
	MaxConcurrentRequests int     `json:"max_concurrent_requests"`
	RequestsPerMinute     int64   `json:"requests_per_minute"`
	TokensPerMinute       int64   `json:"tokens_per_minute"`
	BurstAllowance        int64   `json:"burst_allowance,omitempty"`
	BackoffBaseMs         int64   `json:"backoff_base_ms,omitempty"`
	BackoffMultiplier     float64 `json:"backoff_multiplier,omitempty"`
}

// SetStrategy switches the server's rate-limiting strategy at runtime.
// Known strategies: conservative, balanced, aggressive, adaptive.
func (s *RateLimitService) SetStrategy(ctx context.Context, name string) error {
	start := time.Now()
	err := s.client.do(ctx, http.MethodPut, "/api/v1/strategy", strategyRequest{Strategy: name}, nil)
	s.client.obs.observe("set_strategy", start, err)
	return err
}

// SetCustomStrategy applies explicit rate-limit parameters instead of a preset.
func (s *RateLimitService) SetCustomStrategy(ctx context.Context, cfg StrategyConfig) error {
	start := time.Now()
	err := s.client.do(ctx, http.MethodPut, "/api/v1/strategy",
		strategyRequest{Strategy: "custom", Custom: &cfg}, nil)
	s.client.obs.observe("set_strategy", start, err)
	return err
}
