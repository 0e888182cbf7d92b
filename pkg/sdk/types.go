package embedpipe

import "time"

// LineItem is a single purchased item on a receipt.
type LineItem struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// Receipt is the structured input to the pipeline. ID is required; all
// other fields are optional. When FullText is present the pipeline embeds
// it directly instead of synthesizing content.
type Receipt struct {
	ID            string     `json:"id"`
	MerchantName  string     `json:"merchant,omitempty"`
	TotalAmount   float64    `json:"total,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	TaxAmount     float64    `json:"tax,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	Date          string     `json:"date,omitempty"` // YYYY-MM-DD
	LineItems     []LineItem `json:"line_items,omitempty"`
	Category      string     `json:"category,omitempty"`
	Insights      string     `json:"insights,omitempty"`
	FullText      string     `json:"full_text,omitempty"`
}

// JobStatus is the lifecycle state of a batch job.
type JobStatus string

// Job status constants.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// ItemResult records the outcome of one receipt within a job.
type ItemResult struct {
	ReceiptID string `json:"receipt_id"`
	Outcome   string `json:"outcome"` // embedded, skipped, failed
	Units     int    `json:"units,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Error     string `json:"error,omitempty"`
}

// JobSnapshot is a point-in-time view of a batch job.
type JobSnapshot struct {
	ID         string       `json:"job_id"`
	Status     JobStatus    `json:"status"`
	Total      int          `json:"total"`
	Completed  int          `json:"completed"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Retried    int          `json:"retried"`
	Throughput float64      `json:"throughput_per_sec"`
	StartedAt  time.Time    `json:"started_at,omitempty"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
	Results    []ItemResult `json:"results,omitempty"`
}

// RateLimitStatus is the provider rate-limit view: durable window counters
// merged with the server's in-process controller state.
type RateLimitStatus struct {
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

// EmbeddingRecord is one stored embedding for a receipt content unit.
type EmbeddingRecord struct {
	ReceiptID   string    `json:"receipt_id"`
	ContentType string    `json:"content_type"`
	Vector      []float32 `json:"vector"`
	Tokens      int       `json:"tokens"`
	CreatedAt   time.Time `json:"created_at"`
}

// HealthStatus represents the aggregated system health.
type HealthStatus struct {
	Status string            `json:"status"` // "ok", "degraded", "error"
	Checks map[string]string `json:"checks"` // component -> "ok"/"degraded"/"error"
}
