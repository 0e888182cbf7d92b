package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mataresit/embedpipe/internal/db"
	"github.com/mataresit/embedpipe/internal/domain"
	"github.com/mataresit/embedpipe/internal/metrics"
)

// store is the consumer interface for quota operations (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrBy(ctx context.Context, key string, val int64) error
	ReserveCounter(ctx context.Context, key string, limit, amount int64, ttl time.Duration) (used int64, granted bool, err error)
}

// Store tracks provider usage per 60-second window on top of an atomic
// counter store. When the durable store is unreachable it degrades to
// best-effort in-memory accounting instead of blocking the pipeline:
// availability is preferred over strict accounting for this data.
type Store struct {
	store     store
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	limits   domain.QuotaLimits
	degraded bool
	memory   map[string]*memWindow
}

type memWindow struct {
	start time.Time
	used  int64
}

// New creates a quota store. retention is the TTL for window keys
// (recommended: 24h, operational history only).
func New(s store, limits domain.QuotaLimits, retention time.Duration, logger *zap.Logger) *Store {
	return &Store{
		store:     s,
		retention: retention,
		logger:    logger,
		now:       time.Now,
		limits:    limits,
		memory:    make(map[string]*memWindow),
	}
}

// WithClock overrides the time source. Test hook.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// UpdateLimits replaces per-window caps. Takes effect for future reserves;
// windows already written keep their recorded usage.
func (s *Store) UpdateLimits(limits domain.QuotaLimits) {
	s.mu.Lock()
	s.limits = limits
	s.mu.Unlock()
}

// Reserve atomically claims amount units of the given quota type in the
// current window. A denied reserve mutates nothing; callers must wait for
// ResetAt rather than retry within the same window.
func (s *Store) Reserve(ctx context.Context, provider string, qt domain.QuotaType, amount int64) (domain.Reservation, error) {
	now := s.now().UTC()
	windowStart := domain.WindowStart(now)
	resetAt := windowStart.Add(domain.QuotaWindowLength)
	limit := s.currentLimits().ForType(qt)

	key := windowKey(provider, qt, windowStart)
	used, granted, err := s.store.ReserveCounter(ctx, key, limit, amount, s.retention)
	if err != nil {
		s.markDegraded(err)
		used, granted = s.memReserve(provider, qt, amount, limit, windowStart)
	} else {
		s.markHealthy()
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	return domain.Reservation{
		Granted:   granted,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// RecordUsage increments a window counter without a limit check. Used to
// reconcile actual token consumption reported by the provider when it
// exceeds the reserved estimate.
func (s *Store) RecordUsage(ctx context.Context, provider string, qt domain.QuotaType, amount int64) {
	if amount <= 0 {
		return
	}
	windowStart := domain.WindowStart(s.now().UTC())
	key := windowKey(provider, qt, windowStart)

	if err := s.store.IncrBy(ctx, key, amount); err != nil {
		s.markDegraded(err)
		s.memRecord(provider, qt, amount, windowStart)
		return
	}
	s.markHealthy()
}

// Status returns the current window for each quota type.
func (s *Store) Status(ctx context.Context, provider string) ([]domain.QuotaWindow, error) {
	now := s.now().UTC()
	windowStart := domain.WindowStart(now)
	limits := s.currentLimits()

	windows := make([]domain.QuotaWindow, 0, 2)
	for _, qt := range []domain.QuotaType{domain.QuotaRequests, domain.QuotaTokens} {
		used, err := s.readUsed(ctx, provider, qt, windowStart)
		if err != nil {
			return nil, fmt.Errorf("quota status %s/%s: %w", provider, qt, err)
		}
		windows = append(windows, domain.QuotaWindow{
			Provider:    provider,
			Type:        qt,
			WindowStart: windowStart,
			WindowEnd:   windowStart.Add(domain.QuotaWindowLength),
			Used:        used,
			Limit:       limits.ForType(qt),
		})
	}
	return windows, nil
}

// Degraded reports whether the store is running on in-memory fallback.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *Store) currentLimits() domain.QuotaLimits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limits
}

func (s *Store) readUsed(ctx context.Context, provider string, qt domain.QuotaType, windowStart time.Time) (int64, error) {
	data, err := s.store.Get(ctx, windowKey(provider, qt, windowStart))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		// Degraded mode: report the in-memory view.
		s.mu.Lock()
		defer s.mu.Unlock()
		if w, ok := s.memory[memKey(provider, qt)]; ok && w.start.Equal(windowStart) {
			return w.used, nil
		}
		return 0, nil
	}

	used, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse window counter: %w", err)
	}
	return used, nil
}

func (s *Store) memReserve(provider string, qt domain.QuotaType, amount, limit int64, windowStart time.Time) (used int64, granted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.memWindowLocked(provider, qt, windowStart)
	if w.used+amount > limit {
		return w.used, false
	}
	w.used += amount
	return w.used, true
}

func (s *Store) memRecord(provider string, qt domain.QuotaType, amount int64, windowStart time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memWindowLocked(provider, qt, windowStart).used += amount
}

// memWindowLocked returns the fallback window for the key, rolling it over
// when the 60s bucket has advanced. Caller holds s.mu.
func (s *Store) memWindowLocked(provider string, qt domain.QuotaType, windowStart time.Time) *memWindow {
	key := memKey(provider, qt)
	w, ok := s.memory[key]
	if !ok || !w.start.Equal(windowStart) {
		w = &memWindow{start: windowStart}
		s.memory[key] = w
	}
	return w
}

func (s *Store) markDegraded(err error) {
	s.mu.Lock()
	already := s.degraded
	s.degraded = true
	s.mu.Unlock()

	if !already {
		metrics.QuotaStoreDegraded.Set(1)
		s.logger.Warn("Quota store unreachable, degrading to in-memory accounting",
			zap.Error(fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)))
	}
}

func (s *Store) markHealthy() {
	s.mu.Lock()
	was := s.degraded
	s.degraded = false
	s.mu.Unlock()

	if was {
		metrics.QuotaStoreDegraded.Set(0)
		s.logger.Info("Quota store recovered, durable accounting resumed")
	}
}

func windowKey(provider string, qt domain.QuotaType, windowStart time.Time) string {
	return fmt.Sprintf("%squota:%s:%s:%d", domain.KeyPrefix, provider, qt, windowStart.Unix())
}

func memKey(provider string, qt domain.QuotaType) string {
	return provider + ":" + string(qt)
}
