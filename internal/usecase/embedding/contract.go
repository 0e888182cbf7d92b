package embedding

import (
	"context"

	"github.com/mataresit/embedpipe/internal/domain"
	"github.com/mataresit/embedpipe/internal/usecase/ratelimit"
)

// Controller is the admission gate consumed by the client.
type Controller interface {
	Acquire(ctx context.Context, estimatedTokens int64) (*ratelimit.Permit, error)
	Release(p *ratelimit.Permit, outcome domain.Outcome)
}

// UsageRecorder reconciles actual token consumption into window accounting.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, provider string, qt domain.QuotaType, amount int64)
}
