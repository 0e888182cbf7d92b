package embedpipe

import (
	"context"
	"net/http"
	"time"
)

// JobService manages batch embedding jobs.
type JobService struct {
	client *Client
}

type submitRequest struct {
	Receipts  []Receipt `json:"receipts"`
	BatchSize int       `json:"batch_size,omitempty"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// Submit queues receipts for embedding and returns the job ID. batchSize 0
// uses the server's configured batch size.
func (s *JobService) Submit(ctx context.Context, receipts []Receipt, batchSize int) (string, error) {
	start := time.Now()
	var out submitResponse
	err := s.client.do(ctx, http.MethodPost, "/api/v1/jobs",
		submitRequest{Receipts: receipts, BatchSize: batchSize}, &out)
	s.client.obs.observe("submit_job", start, err)
	if err != nil {
		return "", err
	}
	return out.JobID, nil
}

// Get returns the current snapshot of a job.
func (s *JobService) Get(ctx context.Context, jobID string) (JobSnapshot, error) {
	start := time.Now()
	var snap JobSnapshot
	err := s.client.do(ctx, http.MethodGet, "/api/v1/jobs/"+jobID, nil, &snap)
	s.client.obs.observe("get_job", start, err)
	return snap, err
}

// Cancel stops a running job. Items already in flight still finish; the
// returned snapshot reflects the state right after cancellation.
func (s *JobService) Cancel(ctx context.Context, jobID string) (JobSnapshot, error) {
	start := time.Now()
	var snap JobSnapshot
	err := s.client.do(ctx, http.MethodPost, "/api/v1/jobs/"+jobID+"/cancel", nil, &snap)
	s.client.obs.observe("cancel_job", start, err)
	return snap, err
}

// Retry resubmits the failed items of a finished job as a new job and
// returns the new job ID.
func (s *JobService) Retry(ctx context.Context, jobID string) (string, error) {
	start := time.Now()
	var out submitResponse
	err := s.client.do(ctx, http.MethodPost, "/api/v1/jobs/"+jobID+"/retry", nil, &out)
	s.client.obs.observe("retry_job", start, err)
	if err != nil {
		return "", err
	}
	return out.JobID, nil
}

// Wait polls a job until it reaches a terminal status or the context
// expires. pollInterval 0 defaults to one second.
func (s *JobService) Wait(ctx context.Context, jobID string, pollInterval time.Duration) (JobSnapshot, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		snap, err := s.Get(ctx, jobID)
		if err != nil {
			return JobSnapshot{}, err
		}
		if snap.Status.Terminal() {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ticker.C:
		}
	}
}
