package domain

import (
	"fmt"
	"time"
)

// Strategy is an immutable rate-limiting configuration bundle. Strategies are
// swapped wholesale behind an atomic pointer, never mutated in place, so
// readers always see a consistent value.
type Strategy struct {
	Name                  string
	MaxConcurrentRequests int
	RequestsPerMinute     int64
	TokensPerMinute       int64
	BurstAllowance        int64
	BackoffBase           time.Duration
	BackoffMultiplier     float64
}

// Canonical strategy presets.
var (
	StrategyConservative = Strategy{
		Name:                  "conservative",
		MaxConcurrentRequests: 1,
		RequestsPerMinute:     30,
		TokensPerMinute:       50000,
		BurstAllowance:        2,
		BackoffBase:           2 * time.Second,
		BackoffMultiplier:     2.5,
	}
	StrategyBalanced = Strategy{
		Name:                  "balanced",
		MaxConcurrentRequests: 2,
		RequestsPerMinute:     60,
		TokensPerMinute:       100000,
		BurstAllowance:        5,
		BackoffBase:           time.Second,
		BackoffMultiplier:     2,
	}
	StrategyAggressive = Strategy{
		Name:                  "aggressive",
		MaxConcurrentRequests: 4,
		RequestsPerMinute:     120,
		TokensPerMinute:       200000,
		BurstAllowance:        10,
		BackoffBase:           500 * time.Millisecond,
		BackoffMultiplier:     1.5,
	}
	StrategyAdaptive = Strategy{
		Name:                  "adaptive",
		MaxConcurrentRequests: 2,
		RequestsPerMinute:     60,
		TokensPerMinute:       100000,
		BurstAllowance:        5,
		BackoffBase:           time.Second,
		BackoffMultiplier:     2,
	}
)

// StrategyByName resolves a preset strategy name.
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case StrategyConservative.Name:
		return StrategyConservative, nil
	case StrategyBalanced.Name:
		return StrategyBalanced, nil
	case StrategyAggressive.Name:
		return StrategyAggressive, nil
	case StrategyAdaptive.Name:
		return StrategyAdaptive, nil
	default:
		return Strategy{}, fmt.Errorf("strategy %q: %w", name, ErrUnknownStrategy)
	}
}

// Validate checks a custom strategy for usable values.
func (s Strategy) Validate() error {
	if s.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("max_concurrent_requests must be positive, got %d", s.MaxConcurrentRequests)
	}
	if s.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be positive, got %d", s.RequestsPerMinute)
	}
	if s.TokensPerMinute <= 0 {
		return fmt.Errorf("tokens_per_minute must be positive, got %d", s.TokensPerMinute)
	}
	if s.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1, got %g", s.BackoffMultiplier)
	}
	return nil
}
