package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mataresit/embedpipe/internal/domain"
	"github.com/mataresit/embedpipe/internal/metrics"
)

// MaxWait caps every suspension inside Acquire (quota waits and backoff)
// so cancellation and shutdown never block on it indefinitely.
const MaxWait = 60 * time.Second

// slotPoll bounds how long a caller waits for a concurrency slot before
// re-checking state. The freed-slot signal usually wakes it much sooner.
const slotPoll = 500 * time.Millisecond

// Permit represents the right to make one in-flight provider request.
// Must be released exactly once; extra releases are no-ops.
type Permit struct {
	tokens   int64
	released atomic.Bool
}

// Tokens returns the token estimate the permit was acquired with.
func (p *Permit) Tokens() int64 { return p.tokens }

// State is a point-in-time snapshot of process-local controller state.
type State struct {
	ActiveRequests    int
	ConsecutiveErrors int
	BackoffUntil      time.Time
	Strategy          domain.Strategy
}

// Controller is the admission gate in front of the embedding provider. It
// enforces the strategy's concurrency cap locally and the per-window
// request/token quotas through the QuotaStore, and imposes exponential
// backoff after consecutive failures.
type Controller struct {
	provider string
	quota    QuotaStore
	logger   *zap.Logger

	strategy atomic.Pointer[domain.Strategy]

	mu           sync.Mutex
	active       int
	consecErrors int
	backoffUntil time.Time

	slotFreed chan struct{}
	now       func() time.Time
}

// New creates a rate controller with the given initial strategy.
func New(provider string, quota QuotaStore, strategy domain.Strategy, logger *zap.Logger) *Controller {
	c := &Controller{
		provider:  provider,
		quota:     quota,
		logger:    logger,
		slotFreed: make(chan struct{}, 1),
		now:       time.Now,
	}
	c.setStrategy(strategy)
	return c
}

// WithClock overrides the time source. Test hook.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// UpdateStrategy swaps the active strategy. Takes effect for future Acquire
// calls only; in-flight permits are untouched. Lowering the concurrency cap
// never cancels anything; the active count drains as releases occur.
func (c *Controller) UpdateStrategy(s domain.Strategy) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("update strategy: %w", err)
	}
	c.setStrategy(s)
	c.logger.Info("Rate limit strategy updated",
		zap.String("strategy", s.Name),
		zap.Int("max_concurrent", s.MaxConcurrentRequests),
		zap.Int64("requests_per_minute", s.RequestsPerMinute),
		zap.Int64("tokens_per_minute", s.TokensPerMinute),
	)
	return nil
}

func (c *Controller) setStrategy(s domain.Strategy) {
	c.strategy.Store(&s)
	// Burst allowance widens the request window; tokens have no burst.
	c.quota.UpdateLimits(domain.QuotaLimits{
		Requests: s.RequestsPerMinute + s.BurstAllowance,
		Tokens:   s.TokensPerMinute,
	})
	c.signalSlot()
}

// Strategy returns the currently active strategy.
func (c *Controller) Strategy() domain.Strategy {
	return *c.strategy.Load()
}

// Acquire blocks until a concurrency slot, the request quota, and the token
// quota are all available, honoring any backoff window first. The returned
// permit must be passed to Release exactly once.
func (c *Controller) Acquire(ctx context.Context, estimatedTokens int64) (*Permit, error) {
	for {
		if err := c.acquireSlot(ctx); err != nil {
			return nil, err
		}

		wait, err := c.reserveQuota(ctx, estimatedTokens)
		if err != nil {
			c.releaseSlot()
			return nil, err
		}
		if wait == 0 {
			return &Permit{tokens: estimatedTokens}, nil
		}

		// Quota denied: give the slot back while suspended so the active
		// count reflects in-flight work only, then retry in a later window.
		c.releaseSlot()
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// Release returns a permit and records the request outcome. Safe to call
// from deferred paths; a second release of the same permit is a no-op.
func (c *Controller) Release(p *Permit, outcome domain.Outcome) {
	if p == nil || !p.released.CompareAndSwap(false, true) {
		return
	}

	s := c.Strategy()

	c.mu.Lock()
	c.active--
	metrics.ActiveRequests.WithLabelValues(c.provider).Dec()
	switch outcome {
	case domain.OutcomeSuccess:
		c.consecErrors = 0
	default:
		c.consecErrors++
		delay := backoffDelay(s.BackoffBase, s.BackoffMultiplier, c.consecErrors)
		c.backoffUntil = c.now().Add(delay)
		metrics.BackoffSecondsTotal.WithLabelValues(c.provider).Add(delay.Seconds())
		c.logger.Warn("Backing off after failed request",
			zap.String("outcome", string(outcome)),
			zap.Int("consecutive_errors", c.consecErrors),
			zap.Duration("delay", delay),
		)
	}
	c.mu.Unlock()

	c.signalSlot()
}

// CurrentState returns a snapshot of process-local state for status reporting.
func (c *Controller) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		ActiveRequests:    c.active,
		ConsecutiveErrors: c.consecErrors,
		BackoffUntil:      c.backoffUntil,
		Strategy:          c.Strategy(),
	}
}

// acquireSlot waits for the backoff window to pass and a concurrency slot
// to free, then claims the slot.
func (c *Controller) acquireSlot(ctx context.Context) error {
	for {
		s := c.Strategy()

		c.mu.Lock()
		backoff := c.backoffUntil.Sub(c.now())
		if backoff <= 0 && c.active < c.effectiveConcurrency(s) {
			c.active++
			c.mu.Unlock()
			metrics.ActiveRequests.WithLabelValues(c.provider).Inc()
			return nil
		}
		c.mu.Unlock()

		wait := slotPoll
		if backoff > 0 {
			wait = backoff
		}
		if wait > MaxWait {
			wait = MaxWait
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("acquire: %w", ctx.Err())
		case <-c.slotFreed:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// effectiveConcurrency applies the adaptive strategy's self-throttling:
// while errors accumulate, the adaptive preset halves its concurrency cap.
// Caller holds c.mu.
func (c *Controller) effectiveConcurrency(s domain.Strategy) int {
	limit := s.MaxConcurrentRequests
	if s.Name == domain.StrategyAdaptive.Name && c.consecErrors > 0 {
		limit /= 2
		if limit < 1 {
			limit = 1
		}
	}
	return limit
}

// reserveQuota claims one request unit and the token estimate from the
// current window. Returns the wait until the next window when either quota
// is denied, zero when both were granted.
func (c *Controller) reserveQuota(ctx context.Context, estimatedTokens int64) (time.Duration, error) {
	req, err := c.quota.Reserve(ctx, c.provider, domain.QuotaRequests, 1)
	if err != nil {
		return 0, fmt.Errorf("reserve requests: %w", err)
	}
	if !req.Granted {
		metrics.QuotaDenialsTotal.WithLabelValues(c.provider, string(domain.QuotaRequests)).Inc()
		return c.waitFor(req.ResetAt), nil
	}

	tok, err := c.quota.Reserve(ctx, c.provider, domain.QuotaTokens, estimatedTokens)
	if err != nil {
		return 0, fmt.Errorf("reserve tokens: %w", err)
	}
	if !tok.Granted {
		// The request unit stays consumed; window accounting is
		// deliberately conservative on this path.
		metrics.QuotaDenialsTotal.WithLabelValues(c.provider, string(domain.QuotaTokens)).Inc()
		return c.waitFor(tok.ResetAt), nil
	}

	return 0, nil
}

// waitFor returns the capped duration until resetAt, at least one second so
// a denied reserve never busy-loops within its own window.
func (c *Controller) waitFor(resetAt time.Time) time.Duration {
	wait := resetAt.Sub(c.now())
	if wait < time.Second {
		wait = time.Second
	}
	if wait > MaxWait {
		wait = MaxWait
	}
	return wait
}

func (c *Controller) releaseSlot() {
	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	metrics.ActiveRequests.WithLabelValues(c.provider).Dec()
	c.signalSlot()
}

func (c *Controller) signalSlot() {
	select {
	case c.slotFreed <- struct{}{}:
	default:
	}
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("quota wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// backoffDelay computes base * multiplier^n, capped at MaxWait.
func backoffDelay(base time.Duration, multiplier float64, n int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := time.Duration(float64(base) * math.Pow(multiplier, float64(n)))
	if d > MaxWait || d < 0 {
		return MaxWait
	}
	return d
}
