package domain

import (
	"context"
	"time"
)

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding vector and token usage.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// EmbeddingRecord is the persisted output of the pipeline, one row per
// content unit, consumed by the downstream similarity-search service.
type EmbeddingRecord struct {
	ReceiptID   string      `json:"receipt_id"`
	ContentType ContentType `json:"content_type"`
	Vector      []float32   `json:"vector"`
	Tokens      int         `json:"tokens"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Outcome classifies how a permitted request finished. RateControllers use
// it to reset or escalate backoff state.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeError       Outcome = "error"
)
