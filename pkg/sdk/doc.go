// Package embedpipe provides a Go client for the embedpipe receipt
// embedding pipeline HTTP API.
//
// The client wraps job submission, status polling, rate-limit inspection,
// and embedding retrieval:
//
//	client, _ := embedpipe.New("http://localhost:8080",
//	    embedpipe.WithAPIKey("secret"),
//	)
//	jobID, _ := client.Jobs().Submit(ctx, receipts, 0)
//	snap, _ := client.Jobs().Get(ctx, jobID)
//	status, _ := client.RateLimit().Status(ctx, "openai")
//
// API failures are returned as *APIError values that unwrap to sentinel
// errors, so callers can branch with errors.Is:
//
//	if errors.Is(err, embedpipe.ErrJobNotFound) { ... }
package embedpipe
