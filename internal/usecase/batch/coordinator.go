package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/mataresit/embedpipe/internal/domain"
	"github.com/mataresit/embedpipe/internal/domain/synthesis"
	"github.com/mataresit/embedpipe/internal/metrics"
)

// Config holds coordinator settings.
type Config struct {
	// BatchSize is the number of receipts submitted concurrently before an
	// inter-batch delay. Kept small; the rate controller is the real
	// concurrency bound.
	BatchSize int
	// InterBatchDelay smooths provider load between batches, independent of
	// rate-limit backoff.
	InterBatchDelay time.Duration
	// PoolSize caps the worker goroutines shared by all jobs.
	PoolSize int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 3
	}
	if c.InterBatchDelay <= 0 {
		c.InterBatchDelay = 1500 * time.Millisecond
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 8
	}
	return c
}

// job is the coordinator's mutable record of one run. All fields behind mu.
type job struct {
	id         string
	receipts   []domain.Receipt
	batchSize  int
	status     domain.JobStatus
	results    []domain.ItemResult
	completed  int
	failed     int
	skipped    int
	retried    int
	startedAt  time.Time
	finishedAt time.Time
	cancelled  bool
}

// Coordinator drives batches of receipts through the embedding client:
// batches run sequentially in submission order, items within a batch race
// for the rate controller's slots. Jobs survive in an in-memory registry
// for status polling and failure retry.
type Coordinator struct {
	embed   Embedder
	records RecordWriter
	logger  *zap.Logger
	cfg     Config
	pool    *ants.Pool

	mu       sync.Mutex
	jobs     map[string]*job
	draining bool

	wg  sync.WaitGroup
	now func() time.Time
}

// New creates a batch coordinator with a shared worker pool.
func New(embed Embedder, records RecordWriter, cfg Config, logger *zap.Logger) (*Coordinator, error) {
	cfg = cfg.withDefaults()

	pool, err := ants.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Coordinator{
		embed:   embed,
		records: records,
		logger:  logger,
		cfg:     cfg,
		pool:    pool,
		jobs:    make(map[string]*job),
		now:     time.Now,
	}, nil
}

// Submit registers a new job and starts processing it in the background.
// batchSize overrides the configured batch size when positive.
func (c *Coordinator) Submit(receipts []domain.Receipt, batchSize int) (string, error) {
	if batchSize <= 0 {
		batchSize = c.cfg.BatchSize
	}

	j := &job{
		id:        uuid.New().String(),
		receipts:  receipts,
		batchSize: batchSize,
		status:    domain.JobPending,
		results:   make([]domain.ItemResult, 0, len(receipts)),
	}

	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return "", fmt.Errorf("submit job: %w", domain.ErrShuttingDown)
	}
	c.jobs[j.id] = j
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(j)

	c.logger.Info("Batch job submitted",
		zap.String("job_id", j.id),
		zap.Int("items", len(receipts)),
		zap.Int("batch_size", batchSize),
	)
	return j.id, nil
}

// Cancel stops a running job: no new items are submitted, items already in
// flight finish and their outcomes are still recorded.
func (c *Coordinator) Cancel(jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	j, ok := c.jobs[jobID]
	if !ok {
		return fmt.Errorf("cancel %s: %w", jobID, domain.ErrJobNotFound)
	}
	if j.status.Terminal() {
		return fmt.Errorf("cancel %s (status %s): %w", jobID, j.status, domain.ErrJobNotCancellable)
	}

	j.cancelled = true
	j.status = domain.JobCancelled
	return nil
}

// RetryFailures creates a new job from the failed items of a previous one,
// preserving its batch size. A job with no failures yields an immediately
// completed empty job.
func (c *Coordinator) RetryFailures(jobID string) (string, error) {
	c.mu.Lock()
	prev, ok := c.jobs[jobID]
	if !ok {
		c.mu.Unlock()
		return "", fmt.Errorf("retry %s: %w", jobID, domain.ErrJobNotFound)
	}

	failedIDs := make(map[string]struct{})
	for _, r := range prev.results {
		if r.Outcome == domain.ItemFailed {
			failedIDs[r.ReceiptID] = struct{}{}
		}
	}
	var receipts []domain.Receipt
	for _, r := range prev.receipts {
		if _, failed := failedIDs[r.ID]; failed {
			receipts = append(receipts, r)
		}
	}
	batchSize := prev.batchSize
	c.mu.Unlock()

	return c.Submit(receipts, batchSize)
}

// Snapshot returns a read-only view of a job, safe to poll while it runs.
func (c *Coordinator) Snapshot(jobID string) (domain.JobSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	j, ok := c.jobs[jobID]
	if !ok {
		return domain.JobSnapshot{}, fmt.Errorf("snapshot %s: %w", jobID, domain.ErrJobNotFound)
	}
	return c.snapshotLocked(j), nil
}

func (c *Coordinator) snapshotLocked(j *job) domain.JobSnapshot {
	snap := domain.JobSnapshot{
		ID:         j.id,
		Status:     j.status,
		Total:      len(j.receipts),
		Completed:  j.completed,
		Failed:     j.failed,
		Skipped:    j.skipped,
		Retried:    j.retried,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
		Results:    append([]domain.ItemResult(nil), j.results...),
	}

	if !j.startedAt.IsZero() {
		end := j.finishedAt
		if end.IsZero() {
			end = c.now()
		}
		if elapsed := end.Sub(j.startedAt).Seconds(); elapsed > 0 {
			snap.Throughput = float64(j.completed) / elapsed
		}
	}
	return snap
}

// Shutdown stops accepting jobs, cancels running ones cooperatively, and
// waits for in-flight items to drain or the context to expire.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.draining = true
	for _, j := range c.jobs {
		if !j.status.Terminal() {
			j.cancelled = true
			j.status = domain.JobCancelled
		}
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		c.pool.Release()
		return fmt.Errorf("coordinator drain: %w", ctx.Err())
	case <-done:
		c.pool.Release()
		return nil
	}
}

// run processes a job's batches sequentially until done or cancelled.
func (c *Coordinator) run(j *job) {
	defer c.wg.Done()

	ctx := context.Background()

	c.mu.Lock()
	if !j.cancelled {
		j.status = domain.JobRunning
	}
	j.startedAt = c.now()
	c.mu.Unlock()

	total := len(j.receipts)
	for start := 0; start < total; start += j.batchSize {
		if c.isCancelled(j) {
			break
		}

		end := start + j.batchSize
		if end > total {
			end = total
		}
		c.runBatch(ctx, j, j.receipts[start:end])

		if end < total && !c.isCancelled(j) {
			time.Sleep(c.cfg.InterBatchDelay)
		}
	}

	c.finish(j)
}

// runBatch fans the batch items out to the worker pool and waits for all of
// them. Items race for rate-controller slots; there is no ordering
// guarantee within a batch.
func (c *Coordinator) runBatch(ctx context.Context, j *job, receipts []domain.Receipt) {
	var wg sync.WaitGroup
	for i := range receipts {
		receipt := receipts[i]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			c.processItem(ctx, j, receipt)
		}
		if err := c.pool.Submit(task); err != nil {
			// Pool exhausted or released: degrade to inline execution
			// rather than dropping the item.
			task()
		}
	}
	wg.Wait()
}

// processItem resolves one receipt to a terminal outcome: embedded, skipped,
// or failed. Every receipt gets exactly one recorded result.
func (c *Coordinator) processItem(ctx context.Context, j *job, receipt domain.Receipt) {
	units := contentUnits(receipt)
	if len(units) == 0 {
		c.record(j, domain.ItemResult{
			ReceiptID: receipt.ID,
			Outcome:   domain.ItemSkipped,
			Error:     domain.ErrSynthesisSkipped.Error(),
		})
		return
	}

	var attempts int
	for _, unit := range units {
		result, unitAttempts, err := c.embed.Embed(ctx, unit)
		attempts += unitAttempts
		if err != nil {
			c.record(j, domain.ItemResult{
				ReceiptID: receipt.ID,
				Outcome:   domain.ItemFailed,
				Attempts:  attempts,
				Error:     fmt.Sprintf("%s: %s", unit.Type, errMessage(err)),
			})
			return
		}

		rec := domain.EmbeddingRecord{
			ReceiptID:   receipt.ID,
			ContentType: unit.Type,
			Vector:      result.Embedding,
			Tokens:      result.TotalTokens,
			CreatedAt:   c.now().UTC(),
		}
		if err := c.records.Save(ctx, rec); err != nil {
			c.record(j, domain.ItemResult{
				ReceiptID: receipt.ID,
				Outcome:   domain.ItemFailed,
				Attempts:  attempts,
				Error:     "persist embedding: " + errMessage(err),
			})
			return
		}
	}

	c.record(j, domain.ItemResult{
		ReceiptID: receipt.ID,
		Outcome:   domain.ItemEmbedded,
		Units:     len(units),
		Attempts:  attempts,
	})
}

// contentUnits picks the embeddable text for a receipt: raw OCR text when
// usable, synthesized units otherwise.
func contentUnits(receipt domain.Receipt) []domain.ContentUnit {
	if receipt.HasRawText() && len(receipt.RawFullText) >= domain.MinContentLength {
		return []domain.ContentUnit{{
			ReceiptID: receipt.ID,
			Type:      domain.ContentFullText,
			Text:      receipt.RawFullText,
		}}
	}
	return synthesis.Synthesize(receipt)
}

func (c *Coordinator) record(j *job, r domain.ItemResult) {
	c.mu.Lock()
	j.results = append(j.results, r)
	switch r.Outcome {
	case domain.ItemEmbedded:
		j.completed++
	case domain.ItemSkipped:
		j.skipped++
	case domain.ItemFailed:
		j.failed++
	}
	if extra := r.Attempts - max(r.Units, 1); extra > 0 {
		j.retried += extra
	}
	c.mu.Unlock()

	metrics.BatchItemsTotal.WithLabelValues(string(r.Outcome)).Inc()
}

// finish sets the terminal status: cancelled sticks, a job where every
// resolved item failed is failed, anything else is completed (partial
// success is the expected terminal state).
func (c *Coordinator) finish(j *job) {
	c.mu.Lock()
	j.finishedAt = c.now()
	if !j.cancelled {
		if len(j.receipts) > 0 && j.failed == len(j.receipts) {
			j.status = domain.JobFailed
		} else {
			j.status = domain.JobCompleted
		}
	}
	status := j.status
	snap := c.snapshotLocked(j)
	c.mu.Unlock()

	metrics.BatchJobsTotal.WithLabelValues(string(status)).Inc()
	c.logger.Info("Batch job finished",
		zap.String("job_id", j.id),
		zap.String("status", string(status)),
		zap.Int("total", snap.Total),
		zap.Int("completed", snap.Completed),
		zap.Int("failed", snap.Failed),
		zap.Int("skipped", snap.Skipped),
		zap.Int("retried", snap.Retried),
	)
}

func (c *Coordinator) isCancelled(j *job) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return j.cancelled
}

func errMessage(err error) string {
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return err.Error()
}
