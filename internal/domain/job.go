package domain

import "time"

// JobStatus is the lifecycle state of a batch job.
type JobStatus string

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

// ItemOutcome is the terminal result of one receipt within a job.
type ItemOutcome string

const (
	ItemEmbedded ItemOutcome = "embedded"
	ItemSkipped  ItemOutcome = "skipped"
	ItemFailed   ItemOutcome = "failed"
)

// ItemResult records what happened to a single receipt. Every receipt in a
// job ends with exactly one result: embedded, skipped, or failed with a
// reason. There is no silent drop.
type ItemResult struct {
	ReceiptID string      `json:"receipt_id"`
	Outcome   ItemOutcome `json:"outcome"`
	Units     int         `json:"units,omitempty"` // content units embedded
	Attempts  int         `json:"attempts,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// JobSnapshot is a read-only view of a batch job, safe to poll while the
// coordinator is running.
type JobSnapshot struct {
	ID         string       `json:"job_id"`
	Status     JobStatus    `json:"status"`
	Total      int          `json:"total"`
	Completed  int          `json:"completed"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Retried    int          `json:"retried"`
	Throughput float64      `json:"throughput_per_sec"` // completed items per second
	StartedAt  time.Time    `json:"started_at,omitempty"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
	Results    []ItemResult `json:"results,omitempty"`
}
