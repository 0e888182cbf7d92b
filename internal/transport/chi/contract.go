package chi

import (
	"context"

	"github.com/mataresit/embedpipe/internal/domain"
	"github.com/mataresit/embedpipe/internal/usecase/status"
)

// JobCoordinator runs batch embedding jobs.
type JobCoordinator interface {
	Submit(receipts []domain.Receipt, batchSize int) (string, error)
	Cancel(jobID string) error
	RetryFailures(jobID string) (string, error)
	Snapshot(jobID string) (domain.JobSnapshot, error)
}

// StatusReporter builds rate-limit status reports.
type StatusReporter interface {
	GetRateLimitStatus(ctx context.Context, provider string) (status.Report, error)
}

// StrategyUpdater swaps the active rate-limit strategy.
type StrategyUpdater interface {
	UpdateStrategy(s domain.Strategy) error
}

// EmbeddingReader fetches stored embedding records.
type EmbeddingReader interface {
	ListByReceipt(ctx context.Context, receiptID string) ([]domain.EmbeddingRecord, error)
}
