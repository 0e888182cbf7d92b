package domain

import "errors"

var (
	// ErrQuotaDenied signals that a local quota window has no remaining capacity.
	ErrQuotaDenied = errors.New("quota denied")
	// ErrRateLimited signals a provider-reported rate limit (429-equivalent).
	ErrRateLimited = errors.New("rate limited")
	// ErrProviderTransient signals a retryable provider failure (network, timeout, 5xx).
	ErrProviderTransient = errors.New("transient provider error")
	// ErrProviderPermanent signals a non-retryable provider rejection (bad input, content policy).
	ErrProviderPermanent = errors.New("permanent provider error")
	// ErrStorageUnavailable signals that the durable quota store is unreachable.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrSynthesisSkipped signals that no usable content could be produced for a receipt.
	// Not a failure: the receipt is recorded as skipped rather than embedded with noise.
	ErrSynthesisSkipped = errors.New("synthesis produced no usable content")
	// ErrJobNotFound signals a missing batch job.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotCancellable signals a cancel request for a job that already reached a terminal state.
	ErrJobNotCancellable = errors.New("job not cancellable")
	// ErrEmbeddingNotFound signals that no embedding records exist for a receipt.
	ErrEmbeddingNotFound = errors.New("embedding not found")
	// ErrUnknownStrategy signals an unrecognized processing strategy name.
	ErrUnknownStrategy = errors.New("unknown strategy")
	// ErrShuttingDown signals that the coordinator no longer accepts jobs.
	ErrShuttingDown = errors.New("shutting down")
)
