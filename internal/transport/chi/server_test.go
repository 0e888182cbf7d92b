package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chirouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mataresit/embedpipe/internal/domain"
	healthuc "github.com/mataresit/embedpipe/internal/usecase/health"
	"github.com/mataresit/embedpipe/internal/usecase/status"
)

type mockCoordinator struct {
	submitID   string
	submitErr  error
	cancelErr  error
	retryID    string
	retryErr   error
	snapshot   domain.JobSnapshot
	snapErr    error
	gotBatch   int
	gotReceipt []domain.Receipt
}

func (m *mockCoordinator) Submit(receipts []domain.Receipt, batchSize int) (string, error) {
	m.gotReceipt = receipts
	m.gotBatch = batchSize
	return m.submitID, m.submitErr
}

func (m *mockCoordinator) Cancel(jobID string) error { return m.cancelErr }

func (m *mockCoordinator) RetryFailures(jobID string) (string, error) {
	return m.retryID, m.retryErr
}

func (m *mockCoordinator) Snapshot(jobID string) (domain.JobSnapshot, error) {
	return m.snapshot, m.snapErr
}

type mockStatus struct {
	report status.Report
	err    error
}

func (m *mockStatus) GetRateLimitStatus(ctx context.Context, provider string) (status.Report, error) {
	return m.report, m.err
}

type mockStrategy struct {
	got domain.Strategy
	err error
}

func (m *mockStrategy) UpdateStrategy(s domain.Strategy) error {
	m.got = s
	return m.err
}

type mockEmbeddings struct {
	records []domain.EmbeddingRecord
	err     error
}

func (m *mockEmbeddings) ListByReceipt(ctx context.Context, receiptID string) ([]domain.EmbeddingRecord, error) {
	return m.records, m.err
}

type mockPinger struct{ err error }

func (m *mockPinger) Ping(ctx context.Context) error { return m.err }

type testServer struct {
	coordinator *mockCoordinator
	status      *mockStatus
	strategy    *mockStrategy
	embeddings  *mockEmbeddings
	handler     http.Handler
}

func newTestServer() *testServer {
	ts := &testServer{
		coordinator: &mockCoordinator{submitID: "job-1", retryID: "job-2"},
		status:      &mockStatus{},
		strategy:    &mockStrategy{},
		embeddings:  &mockEmbeddings{},
	}
	health := healthuc.New(&mockPinger{}, nil, nil)
	srv := NewServer(ts.coordinator, ts.status, ts.strategy, ts.embeddings, health, "openai", zap.NewNop())

	r := chirouter.NewRouter()
	srv.Routes(r)
	ts.handler = r
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func TestSubmitJob_Accepted(t *testing.T) {
	ts := newTestServer()

	body := `{"receipts":[{"id":"r1","merchant":"Coffee Corner","total":12.5}],"batch_size":5}`
	rr := ts.do(t, "POST", "/api/v1/jobs", body)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want %d (body: %s)", rr.Code, http.StatusAccepted, rr.Body.String())
	}

	var resp SubmitJobResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID != "job-1" {
		t.Errorf("job_id: got %q, want job-1", resp.JobID)
	}
	if got := rr.Header().Get("Location"); got != "/api/v1/jobs/job-1" {
		t.Errorf("Location: got %q", got)
	}
	if ts.coordinator.gotBatch != 5 {
		t.Errorf("batch size: got %d, want 5", ts.coordinator.gotBatch)
	}
	if len(ts.coordinator.gotReceipt) != 1 || ts.coordinator.gotReceipt[0].ID != "r1" {
		t.Errorf("receipts not forwarded: %+v", ts.coordinator.gotReceipt)
	}
}

func TestSubmitJob_EmptyReceipts_400(t *testing.T) {
	ts := newTestServer()

	rr := ts.do(t, "POST", "/api/v1/jobs", `{"receipts":[]}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Code != CodeValidationFailed {
		t.Errorf("code: got %s, want %s", errResp.Code, CodeValidationFailed)
	}
}

func TestSubmitJob_MissingReceiptID_400(t *testing.T) {
	ts := newTestServer()

	rr := ts.do(t, "POST", "/api/v1/jobs", `{"receipts":[{"merchant":"No ID"}]}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestSubmitJob_InvalidJSON_400(t *testing.T) {
	ts := newTestServer()

	rr := ts.do(t, "POST", "/api/v1/jobs", `{not json`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestSubmitJob_ShuttingDown_503(t *testing.T) {
	ts := newTestServer()
	ts.coordinator.submitErr = domain.ErrShuttingDown

	rr := ts.do(t, "POST", "/api/v1/jobs", `{"receipts":[{"id":"r1"}]}`)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestGetJob_OK(t *testing.T) {
	ts := newTestServer()
	ts.coordinator.snapshot = domain.JobSnapshot{
		ID:        "job-1",
		Status:    domain.JobRunning,
		Total:     3,
		Completed: 1,
		StartedAt: time.Now(),
	}

	rr := ts.do(t, "GET", "/api/v1/jobs/job-1", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}

	var snap domain.JobSnapshot
	if err := json.NewDecoder(rr.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Status != domain.JobRunning || snap.Total != 3 {
		t.Errorf("snapshot: got %+v", snap)
	}
}

func TestGetJob_NotFound_404(t *testing.T) {
	ts := newTestServer()
	ts.coordinator.snapErr = domain.ErrJobNotFound

	rr := ts.do(t, "GET", "/api/v1/jobs/missing", "")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Code != CodeJobNotFound {
		t.Errorf("code: got %s, want %s", errResp.Code, CodeJobNotFound)
	}
}

func TestCancelJob_OK(t *testing.T) {
	ts := newTestServer()
	ts.coordinator.snapshot = domain.JobSnapshot{ID: "job-1", Status: domain.JobCancelled}

	rr := ts.do(t, "POST", "/api/v1/jobs/job-1/cancel", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}

	var snap domain.JobSnapshot
	if err := json.NewDecoder(rr.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Status != domain.JobCancelled {
		t.Errorf("status: got %s, want %s", snap.Status, domain.JobCancelled)
	}
}

func TestCancelJob_Terminal_409(t *testing.T) {
	ts := newTestServer()
	ts.coordinator.cancelErr = domain.ErrJobNotCancellable

	rr := ts.do(t, "POST", "/api/v1/jobs/job-1/cancel", "")

	if rr.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestRetryJob_Accepted(t *testing.T) {
	ts := newTestServer()

	rr := ts.do(t, "POST", "/api/v1/jobs/job-1/retry", "")

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusAccepted)
	}

	var resp SubmitJobResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID != "job-2" {
		t.Errorf("job_id: got %q, want job-2", resp.JobID)
	}
}

func TestGetRateLimitStatus_OK(t *testing.T) {
	ts := newTestServer()
	ts.status.report = status.Report{
		Provider:          "openai",
		IsRateLimited:     true,
		RequestsRemaining: 0,
		TokensRemaining:   1200,
		Strategy:          "balanced",
	}

	rr := ts.do(t, "GET", "/api/v1/ratelimit/openai", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}

	var report status.Report
	if err := json.NewDecoder(rr.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if !report.IsRateLimited || report.TokensRemaining != 1200 {
		t.Errorf("report: got %+v", report)
	}
}

func TestGetRateLimitStatus_UnknownProvider_404(t *testing.T) {
	ts := newTestServer()

	rr := ts.do(t, "GET", "/api/v1/ratelimit/gemini", "")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestUpdateStrategy_OK(t *testing.T) {
	ts := newTestServer()

	rr := ts.do(t, "PUT", "/api/v1/strategy", `{"strategy":"aggressive"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d (body: %s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	if ts.strategy.got.Name != "aggressive" {
		t.Errorf("strategy forwarded: got %q, want aggressive", ts.strategy.got.Name)
	}
}

func TestUpdateStrategy_Custom_OK(t *testing.T) {
	ts := newTestServer()

	rr := ts.do(t, "PUT", "/api/v1/strategy",
		`{"strategy":"custom","custom":{"max_concurrent_requests":3,"requests_per_minute":90,"tokens_per_minute":150000,"burst_allowance":8,"backoff_base_ms":750,"backoff_multiplier":1.8}}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d (body: %s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	got := ts.strategy.got
	if got.Name != "custom" {
		t.Errorf("name: got %q, want custom", got.Name)
	}
	if got.MaxConcurrentRequests != 3 || got.RequestsPerMinute != 90 || got.TokensPerMinute != 150000 {
		t.Errorf("limits: got %+v, want 3/90/150000", got)
	}
	if got.BackoffBase != 750*time.Millisecond || got.BackoffMultiplier != 1.8 {
		t.Errorf("backoff: got %v x%g, want 750ms x1.8", got.BackoffBase, got.BackoffMultiplier)
	}
}

func TestUpdateStrategy_CustomMissingParams_400(t *testing.T) {
	ts := newTestServer()

	rr := ts.do(t, "PUT", "/api/v1/strategy", `{"strategy":"custom"}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Code != CodeValidationFailed {
		t.Errorf("code: got %s, want %s", errResp.Code, CodeValidationFailed)
	}
}

func TestUpdateStrategy_CustomInvalidValues_400(t *testing.T) {
	ts := newTestServer()

	rr := ts.do(t, "PUT", "/api/v1/strategy",
		`{"strategy":"custom","custom":{"max_concurrent_requests":0,"requests_per_minute":90,"tokens_per_minute":150000}}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestUpdateStrategy_Unknown_400(t *testing.T) {
	ts := newTestServer()

	rr := ts.do(t, "PUT", "/api/v1/strategy", `{"strategy":"reckless"}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Code != CodeUnknownStrategy {
		t.Errorf("code: got %s, want %s", errResp.Code, CodeUnknownStrategy)
	}
}

func TestGetEmbeddings_OK(t *testing.T) {
	ts := newTestServer()
	ts.embeddings.records = []domain.EmbeddingRecord{
		{ReceiptID: "r1", ContentType: domain.ContentFullText, Vector: []float32{0.1, 0.2}, Tokens: 8},
	}

	rr := ts.do(t, "GET", "/api/v1/embeddings/r1", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}

	var resp EmbeddingsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ReceiptID != "r1" || len(resp.Embeddings) != 1 {
		t.Errorf("response: got %+v", resp)
	}
}

func TestGetEmbeddings_NotFound_404(t *testing.T) {
	ts := newTestServer()
	ts.embeddings.err = domain.ErrEmbeddingNotFound

	rr := ts.do(t, "GET", "/api/v1/embeddings/missing", "")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestHealthCheck_OK(t *testing.T) {
	ts := newTestServer()

	rr := ts.do(t, "GET", "/health", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestHandleDomainError_Unknown_500(t *testing.T) {
	ts := newTestServer()
	ts.coordinator.snapErr = errors.New("boom")

	rr := ts.do(t, "GET", "/api/v1/jobs/job-1", "")

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusInternalServerError)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Message != "internal error" {
		t.Errorf("internals leaked: %q", errResp.Message)
	}
}
