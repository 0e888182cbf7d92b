package status

import (
	"context"

	"github.com/mataresit/embedpipe/internal/domain"
	"github.com/mataresit/embedpipe/internal/usecase/ratelimit"
)

// QuotaReader provides read-only access to window accounting.
type QuotaReader interface {
	Status(ctx context.Context, provider string) ([]domain.QuotaWindow, error)
	Degraded() bool
}

// StateReader provides the process-local rate controller state.
type StateReader interface {
	CurrentState() ratelimit.State
}
