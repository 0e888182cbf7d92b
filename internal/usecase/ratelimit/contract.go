package ratelimit

import (
	"context"

	"github.com/mataresit/embedpipe/internal/domain"
)

// QuotaStore is the consumer interface for durable window accounting.
type QuotaStore interface {
	Reserve(ctx context.Context, provider string, qt domain.QuotaType, amount int64) (domain.Reservation, error)
	UpdateLimits(limits domain.QuotaLimits)
}
