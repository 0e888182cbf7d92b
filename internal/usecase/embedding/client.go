package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mataresit/embedpipe/internal/domain"
)

// DefaultMaxAttempts is the retry budget per content unit.
const DefaultMaxAttempts = 3

// DefaultCallTimeout converts a hung provider call into a transient error.
const DefaultCallTimeout = 30 * time.Second

// Client drives a single embedding call through the rate controller. The
// permit is acquired before the provider call and released on every exit
// path, so the active-request count can never leak. Transient and
// rate-limited failures are retried with the controller's backoff governing
// the spacing; permanent failures surface immediately.
type Client struct {
	inner       domain.Embedder
	rc          Controller
	usage       UsageRecorder
	provider    string
	logger      *zap.Logger
	maxAttempts int
	callTimeout time.Duration
}

// NewClient creates an embedding client. usage can be nil.
func NewClient(inner domain.Embedder, rc Controller, usage UsageRecorder, provider string, logger *zap.Logger) *Client {
	return &Client{
		inner:       inner,
		rc:          rc,
		usage:       usage,
		provider:    provider,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		callTimeout: DefaultCallTimeout,
	}
}

// WithMaxAttempts configures the retry budget.
func (c *Client) WithMaxAttempts(n int) *Client {
	if n > 0 {
		c.maxAttempts = n
	}
	return c
}

// WithCallTimeout configures the per-call client-side timeout.
func (c *Client) WithCallTimeout(d time.Duration) *Client {
	if d > 0 {
		c.callTimeout = d
	}
	return c
}

// Embed vectorizes one content unit. Returns the result and the number of
// attempts consumed (at least 1 unless admission itself failed).
func (c *Client) Embed(ctx context.Context, unit domain.ContentUnit) (domain.EmbeddingResult, int, error) {
	estimate := unit.EstimateTokens()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		result, err := c.attempt(ctx, unit.Text, estimate)
		if err == nil {
			c.reconcileUsage(ctx, estimate, result.TotalTokens)
			c.logger.Debug("Embedding completed",
				zap.String("receipt_id", unit.ReceiptID),
				zap.String("content_type", string(unit.Type)),
				zap.Int("attempt", attempt),
				zap.Int("total_tokens", result.TotalTokens),
			)
			return result, attempt, nil
		}

		if errors.Is(err, domain.ErrProviderPermanent) || ctx.Err() != nil {
			return domain.EmbeddingResult{}, attempt, err
		}

		lastErr = err
		c.logger.Warn("Embedding attempt failed",
			zap.String("receipt_id", unit.ReceiptID),
			zap.String("content_type", string(unit.Type)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return domain.EmbeddingResult{}, c.maxAttempts,
		fmt.Errorf("embed %s after %d attempts: %w", unit.Type, c.maxAttempts, lastErr)
}

// attempt performs one admission-controlled provider call. The deferred
// release pairs every successful acquire with exactly one release, whatever
// the provider does.
func (c *Client) attempt(ctx context.Context, text string, estimate int64) (domain.EmbeddingResult, error) {
	permit, err := c.rc.Acquire(ctx, estimate)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("acquire permit: %w", err)
	}

	outcome := domain.OutcomeError
	defer func() { c.rc.Release(permit, outcome) }()

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	result, err := c.inner.Embed(callCtx, text)
	if err != nil {
		outcome = classifyOutcome(err)
		return domain.EmbeddingResult{}, err
	}

	outcome = domain.OutcomeSuccess
	return result, nil
}

// reconcileUsage records provider-reported tokens that exceeded the
// reserved estimate, keeping window accounting honest.
func (c *Client) reconcileUsage(ctx context.Context, estimate int64, actual int) {
	if c.usage == nil {
		return
	}
	if delta := int64(actual) - estimate; delta > 0 {
		c.usage.RecordUsage(ctx, c.provider, domain.QuotaTokens, delta)
	}
}

// classifyOutcome maps a provider error to the release outcome. A remote
// 429 forces local backoff even when the local window thought capacity
// remained: the provider's view is authoritative.
func classifyOutcome(err error) domain.Outcome {
	if errors.Is(err, domain.ErrRateLimited) {
		return domain.OutcomeRateLimited
	}
	return domain.OutcomeError
}
