package batch

import (
	"context"

	"github.com/mataresit/embedpipe/internal/domain"
)

// Embedder is the admission-controlled embedding client. The returned
// attempt count includes retries consumed inside the client.
type Embedder interface {
	Embed(ctx context.Context, unit domain.ContentUnit) (result domain.EmbeddingResult, attempts int, err error)
}

// RecordWriter persists embedding records for the downstream search consumer.
type RecordWriter interface {
	Save(ctx context.Context, rec domain.EmbeddingRecord) error
}
