package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mataresit/embedpipe/internal/domain"
	healthuc "github.com/mataresit/embedpipe/internal/usecase/health"
)

// ErrorCode classifies API errors for clients.
type ErrorCode string

const (
	CodeBadRequest        ErrorCode = "bad_request"
	CodeValidationFailed  ErrorCode = "validation_failed"
	CodeJobNotFound       ErrorCode = "job_not_found"
	CodeJobNotCancellable ErrorCode = "job_not_cancellable"
	CodeEmbeddingNotFound ErrorCode = "embedding_not_found"
	CodeUnknownStrategy   ErrorCode = "unknown_strategy"
	CodeRateLimited       ErrorCode = "rate_limited"
	CodeQuotaDenied       ErrorCode = "quota_denied"
	CodeProviderError     ErrorCode = "provider_error"
	CodeShuttingDown      ErrorCode = "shutting_down"
	CodeInternalError     ErrorCode = "internal_error"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server exposes the embedding pipeline over HTTP.
type Server struct {
	jobs          JobCoordinator
	status        StatusReporter
	strategy      StrategyUpdater
	embeddings    EmbeddingReader
	health        *healthuc.Service
	provider      string
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	jobs JobCoordinator,
	status StatusReporter,
	strategy StrategyUpdater,
	embeddings EmbeddingReader,
	health *healthuc.Service,
	provider string,
	logger *zap.Logger,
) *Server {
	s := &Server{
		jobs:       jobs,
		status:     status,
		strategy:   strategy,
		embeddings: embeddings,
		health:     health,
		provider:   provider,
		logger:     logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrJobNotFound, http.StatusNotFound, CodeJobNotFound),
		sentinelHandler(domain.ErrJobNotCancellable, http.StatusConflict, CodeJobNotCancellable),
		sentinelHandler(domain.ErrEmbeddingNotFound, http.StatusNotFound, CodeEmbeddingNotFound),
		sentinelHandler(domain.ErrUnknownStrategy, http.StatusBadRequest, CodeUnknownStrategy),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited),
		sentinelHandler(domain.ErrQuotaDenied, http.StatusTooManyRequests, CodeQuotaDenied),
		sentinelHandler(domain.ErrProviderTransient, http.StatusBadGateway, CodeProviderError),
		sentinelHandler(domain.ErrProviderPermanent, http.StatusBadGateway, CodeProviderError),
		sentinelHandler(domain.ErrShuttingDown, http.StatusServiceUnavailable, CodeShuttingDown),
	}
	return s
}

// Routes mounts all API handlers on a router.
func (s *Server) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", s.SubmitJob)
		r.Get("/jobs/{jobID}", s.GetJob)
		r.Post("/jobs/{jobID}/cancel", s.CancelJob)
		r.Post("/jobs/{jobID}/retry", s.RetryJob)
		r.Get("/ratelimit/{provider}", s.GetRateLimitStatus)
		r.Put("/strategy", s.UpdateStrategy)
		r.Get("/embeddings/{receiptID}", s.GetEmbeddings)
	})
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// SubmitJobRequest is the body of POST /api/v1/jobs.
type SubmitJobRequest struct {
	Receipts  []domain.Receipt `json:"receipts"`
	BatchSize int              `json:"batch_size,omitempty"`
}

// SubmitJobResponse is returned for accepted jobs.
type SubmitJobResponse struct {
	JobID string `json:"job_id"`
}

// SubmitJob handles POST /api/v1/jobs.
func (s *Server) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if len(req.Receipts) == 0 {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "receipts is required")
		return
	}
	for i, rec := range req.Receipts {
		if rec.ID == "" {
			writeError(w, http.StatusBadRequest, CodeValidationFailed,
				"receipts["+strconv.Itoa(i)+"].id is required")
			return
		}
	}
	if req.BatchSize < 0 {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "batch_size must not be negative")
		return
	}

	jobID, err := s.jobs.Submit(req.Receipts, req.BatchSize)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/jobs/"+jobID)
	writeJSON(w, http.StatusAccepted, SubmitJobResponse{JobID: jobID})
}

// GetJob handles GET /api/v1/jobs/{jobID}.
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.Snapshot(chi.URLParam(r, "jobID"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// CancelJob handles POST /api/v1/jobs/{jobID}/cancel.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.jobs.Cancel(jobID); err != nil {
		s.handleDomainError(w, err)
		return
	}

	snap, err := s.jobs.Snapshot(jobID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// RetryJob handles POST /api/v1/jobs/{jobID}/retry.
func (s *Server) RetryJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.jobs.RetryFailures(chi.URLParam(r, "jobID"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+jobID)
	writeJSON(w, http.StatusAccepted, SubmitJobResponse{JobID: jobID})
}

// GetRateLimitStatus handles GET /api/v1/ratelimit/{provider}.
func (s *Server) GetRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if provider != s.provider {
		writeError(w, http.StatusNotFound, CodeBadRequest, "unknown provider")
		return
	}

	report, err := s.status.GetRateLimitStatus(r.Context(), provider)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// UpdateStrategyRequest is the body of PUT /api/v1/strategy. Strategy names
// a preset; "custom" requires explicit parameters in Custom.
type UpdateStrategyRequest struct {
	Strategy string          `json:"strategy"`
	Custom   *CustomStrategy `json:"custom,omitempty"`
}

// CustomStrategy carries explicit rate-limit parameters for a custom strategy.
type CustomStrategy struct {
	MaxConcurrentRequests int     `json:"max_concurrent_requests"`
	RequestsPerMinute     int64   `json:"requests_per_minute"`
	TokensPerMinute       int64   `json:"tokens_per_minute"`
	BurstAllowance        int64   `json:"burst_allowance,omitempty"`
	BackoffBaseMs         int64   `json:"backoff_base_ms,omitempty"`
	BackoffMultiplier     float64 `json:"backoff_multiplier,omitempty"`
}

// UpdateStrategy handles PUT /api/v1/strategy.
func (s *Server) UpdateStrategy(w http.ResponseWriter, r *http.Request) {
	var req UpdateStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	var strat domain.Strategy
	if req.Strategy == "custom" {
		if req.Custom == nil {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, "custom strategy requires parameters")
			return
		}
		strat = req.Custom.toStrategy()
		if err := strat.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
			return
		}
	} else {
		var err error
		strat, err = domain.StrategyByName(req.Strategy)
		if err != nil {
			s.handleDomainError(w, err)
			return
		}
	}

	if err := s.strategy.UpdateStrategy(strat); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"strategy": strat.Name})
}

func (c CustomStrategy) toStrategy() domain.Strategy {
	strat := domain.Strategy{
		Name:                  "custom",
		MaxConcurrentRequests: c.MaxConcurrentRequests,
		RequestsPerMinute:     c.RequestsPerMinute,
		TokensPerMinute:       c.TokensPerMinute,
		BurstAllowance:        c.BurstAllowance,
		BackoffBase:           time.Duration(c.BackoffBaseMs) * time.Millisecond,
		BackoffMultiplier:     c.BackoffMultiplier,
	}
	if strat.BackoffBase <= 0 {
		strat.BackoffBase = domain.StrategyBalanced.BackoffBase
	}
	if strat.BackoffMultiplier == 0 {
		strat.BackoffMultiplier = domain.StrategyBalanced.BackoffMultiplier
	}
	return strat
}

// EmbeddingsResponse is returned by GET /api/v1/embeddings/{receiptID}.
type EmbeddingsResponse struct {
	ReceiptID  string                   `json:"receipt_id"`
	Embeddings []domain.EmbeddingRecord `json:"embeddings"`
}

// GetEmbeddings handles GET /api/v1/embeddings/{receiptID}.
func (s *Server) GetEmbeddings(w http.ResponseWriter, r *http.Request) {
	receiptID := chi.URLParam(r, "receiptID")
	records, err := s.embeddings.ListByReceipt(r.Context(), receiptID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EmbeddingsResponse{ReceiptID: receiptID, Embeddings: records})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrJobNotFound,
		domain.ErrJobNotCancellable,
		domain.ErrEmbeddingNotFound,
		domain.ErrUnknownStrategy,
		domain.ErrRateLimited,
		domain.ErrQuotaDenied,
		domain.ErrProviderTransient,
		domain.ErrProviderPermanent,
		domain.ErrShuttingDown,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
