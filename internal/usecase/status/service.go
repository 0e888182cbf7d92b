package status

import (
	"context"
	"fmt"
	"time"

	"github.com/mataresit/embedpipe/internal/domain"
)

// Report is the rate-limit status exposed to operational tooling. It merges
// the durable window view with process-local controller state.
type Report struct {
	Provider          string    `json:"provider"`
	IsRateLimited     bool      `json:"is_rate_limited"`
	RequestsRemaining int64     `json:"requests_remaining"`
	TokensRemaining   int64     `json:"tokens_remaining"`
	ResetAt           time.Time `json:"reset_at"`
	ActiveRequests    int       `json:"active_requests"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	BackoffUntil      time.Time `json:"backoff_until,omitempty"`
	Strategy          string    `json:"strategy"`
	StorageDegraded   bool      `json:"storage_degraded,omitempty"`
}

// Service handles rate-limit status reporting.
type Service struct {
	quota QuotaReader
	state StateReader
}

// New creates a status service.
func New(quota QuotaReader, state StateReader) *Service {
	return &Service{quota: quota, state: state}
}

// GetRateLimitStatus builds the status report for a provider.
func (s *Service) GetRateLimitStatus(ctx context.Context, provider string) (Report, error) {
	windows, err := s.quota.Status(ctx, provider)
	if err != nil {
		return Report{}, fmt.Errorf("rate limit status: %w", err)
	}

	state := s.state.CurrentState()
	report := Report{
		Provider:          provider,
		ActiveRequests:    state.ActiveRequests,
		ConsecutiveErrors: state.ConsecutiveErrors,
		BackoffUntil:      state.BackoffUntil,
		Strategy:          state.Strategy.Name,
		StorageDegraded:   s.quota.Degraded(),
	}

	for _, w := range windows {
		if w.IsRateLimited() {
			report.IsRateLimited = true
		}
		if w.WindowEnd.After(report.ResetAt) {
			report.ResetAt = w.WindowEnd
		}
		switch w.Type {
		case domain.QuotaRequests:
			report.RequestsRemaining = w.Remaining()
		case domain.QuotaTokens:
			report.TokensRemaining = w.Remaining()
		}
	}

	return report, nil
}
