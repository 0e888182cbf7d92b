package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mataresit/embedpipe/internal/domain"
)

// mockQuota implements QuotaStore for tests.
type mockQuota struct {
	reserveFn func(ctx context.Context, provider string, qt domain.QuotaType, amount int64) (domain.Reservation, error)
	limits    []domain.QuotaLimits
}

func (m *mockQuota) Reserve(ctx context.Context, provider string, qt domain.QuotaType, amount int64) (domain.Reservation, error) {
	if m.reserveFn != nil {
		return m.reserveFn(ctx, provider, qt, amount)
	}
	return domain.Reservation{Granted: true, Remaining: 100}, nil
}

func (m *mockQuota) UpdateLimits(limits domain.QuotaLimits) {
	m.limits = append(m.limits, limits)
}

func testStrategy() domain.Strategy {
	return domain.Strategy{
		Name:                  "test",
		MaxConcurrentRequests: 2,
		RequestsPerMinute:     60,
		TokensPerMinute:       100000,
		BurstAllowance:        5,
		BackoffBase:           time.Second,
		BackoffMultiplier:     2,
	}
}

func newTestController(q *mockQuota) *Controller {
	return New("openai", q, testStrategy(), zap.NewNop())
}

func TestNew_PushesInitialLimits(t *testing.T) {
	q := &mockQuota{}
	newTestController(q)

	if len(q.limits) != 1 {
		t.Fatalf("got %d limit pushes, want 1", len(q.limits))
	}
	// Request cap includes the burst allowance.
	if q.limits[0].Requests != 65 {
		t.Errorf("requests limit: got %d, want 65", q.limits[0].Requests)
	}
	if q.limits[0].Tokens != 100000 {
		t.Errorf("tokens limit: got %d, want 100000", q.limits[0].Tokens)
	}
}

func TestAcquireRelease_PermitBalance(t *testing.T) {
	c := newTestController(&mockQuota{})

	p, err := c.Acquire(context.Background(), 50)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if p.Tokens() != 50 {
		t.Errorf("permit tokens: got %d, want 50", p.Tokens())
	}
	if got := c.CurrentState().ActiveRequests; got != 1 {
		t.Errorf("active after acquire: got %d, want 1", got)
	}

	c.Release(p, domain.OutcomeSuccess)
	if got := c.CurrentState().ActiveRequests; got != 0 {
		t.Errorf("active after release: got %d, want 0", got)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	c := newTestController(&mockQuota{})

	p, err := c.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	c.Release(p, domain.OutcomeSuccess)
	c.Release(p, domain.OutcomeSuccess)
	c.Release(nil, domain.OutcomeSuccess)

	if got := c.CurrentState().ActiveRequests; got != 0 {
		t.Errorf("active went negative: %d", got)
	}
}

func TestAcquire_ConcurrencyCap(t *testing.T) {
	c := newTestController(&mockQuota{})
	ctx := context.Background()

	// Strategy allows 2 concurrent permits.
	p1, err := c.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	p2, err := c.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	// Third acquire must block until a release.
	acquired := make(chan *Permit, 1)
	go func() {
		p, err := c.Acquire(ctx, 1)
		if err != nil {
			return
		}
		acquired <- p
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should block while cap is reached")
	case <-time.After(100 * time.Millisecond):
	}

	c.Release(p1, domain.OutcomeSuccess)

	select {
	case p3 := <-acquired:
		c.Release(p3, domain.OutcomeSuccess)
	case <-time.After(2 * time.Second):
		t.Fatal("third acquire did not wake after release")
	}

	c.Release(p2, domain.OutcomeSuccess)
}

func TestRelease_ErrorStartsBackoff(t *testing.T) {
	at := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
	c := newTestController(&mockQuota{}).WithClock(func() time.Time { return at })

	p, err := c.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	c.Release(p, domain.OutcomeRateLimited)

	st := c.CurrentState()
	if st.ConsecutiveErrors != 1 {
		t.Errorf("consecutive errors: got %d, want 1", st.ConsecutiveErrors)
	}
	if !st.BackoffUntil.After(at) {
		t.Errorf("backoff until %v should be after %v", st.BackoffUntil, at)
	}
}

func TestRelease_BackoffGrowsPerConsecutiveError(t *testing.T) {
	at := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
	c := newTestController(&mockQuota{}).WithClock(func() time.Time { return at })

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		// Bypass Acquire: backoff from the previous error would block it.
		c.mu.Lock()
		c.active++
		c.mu.Unlock()
		p := &Permit{tokens: 1}

		c.Release(p, domain.OutcomeError)
		delays = append(delays, c.CurrentState().BackoffUntil.Sub(at))
	}

	for i := 1; i < len(delays); i++ {
		if delays[i] <= delays[i-1] {
			t.Errorf("backoff not monotonic: %v then %v", delays[i-1], delays[i])
		}
	}
}

func TestRelease_SuccessResetsErrors(t *testing.T) {
	c := newTestController(&mockQuota{})

	c.mu.Lock()
	c.active++
	c.consecErrors = 4
	c.mu.Unlock()

	c.Release(&Permit{tokens: 1}, domain.OutcomeSuccess)

	if got := c.CurrentState().ConsecutiveErrors; got != 0 {
		t.Errorf("consecutive errors after success: got %d, want 0", got)
	}
}

func TestAcquire_QuotaDenied_SuspendsWithoutHoldingSlot(t *testing.T) {
	at := time.Now()
	q := &mockQuota{
		reserveFn: func(_ context.Context, _ string, qt domain.QuotaType, _ int64) (domain.Reservation, error) {
			return domain.Reservation{Granted: false, ResetAt: at.Add(30 * time.Second)}, nil
		},
	}
	c := New("openai", q, testStrategy(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Acquire(ctx, 1)
		done <- err
	}()

	// Give Acquire time to hit the denial and suspend.
	time.Sleep(100 * time.Millisecond)
	if got := c.CurrentState().ActiveRequests; got != 0 {
		t.Errorf("slot held while waiting on quota: active=%d", got)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not return after cancellation")
	}
}

func TestAcquire_TokenDenial_AfterRequestGrant(t *testing.T) {
	var reserved []domain.QuotaType
	q := &mockQuota{
		reserveFn: func(_ context.Context, _ string, qt domain.QuotaType, _ int64) (domain.Reservation, error) {
			reserved = append(reserved, qt)
			if qt == domain.QuotaTokens {
				return domain.Reservation{Granted: false, ResetAt: time.Now().Add(time.Minute)}, nil
			}
			return domain.Reservation{Granted: true, Remaining: 10}, nil
		},
	}
	c := New("openai", q, testStrategy(), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := c.Acquire(ctx, 99999); err == nil {
		t.Fatal("expected acquire to give up on context deadline")
	}

	if len(reserved) < 2 || reserved[0] != domain.QuotaRequests || reserved[1] != domain.QuotaTokens {
		t.Errorf("reserve order: got %v", reserved)
	}
}

func TestAcquire_StoreError_Propagates(t *testing.T) {
	boom := errors.New("reserve failed")
	q := &mockQuota{
		reserveFn: func(_ context.Context, _ string, _ domain.QuotaType, _ int64) (domain.Reservation, error) {
			return domain.Reservation{}, boom
		},
	}
	c := New("openai", q, testStrategy(), zap.NewNop())

	if _, err := c.Acquire(context.Background(), 1); !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped reserve error", err)
	}
	if got := c.CurrentState().ActiveRequests; got != 0 {
		t.Errorf("slot leaked on error path: active=%d", got)
	}
}

func TestUpdateStrategy_SwapAndPushLimits(t *testing.T) {
	q := &mockQuota{}
	c := newTestController(q)

	next := domain.StrategyAggressive
	if err := c.UpdateStrategy(next); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := c.Strategy().Name; got != "aggressive" {
		t.Errorf("strategy: got %q, want aggressive", got)
	}

	last := q.limits[len(q.limits)-1]
	if last.Requests != next.RequestsPerMinute+next.BurstAllowance {
		t.Errorf("requests limit: got %d", last.Requests)
	}
	if last.Tokens != next.TokensPerMinute {
		t.Errorf("tokens limit: got %d", last.Tokens)
	}
}

func TestUpdateStrategy_InvalidRejected(t *testing.T) {
	c := newTestController(&mockQuota{})

	bad := testStrategy()
	bad.MaxConcurrentRequests = 0
	if err := c.UpdateStrategy(bad); err == nil {
		t.Fatal("expected validation error")
	}
	if got := c.Strategy().Name; got != "test" {
		t.Errorf("strategy replaced despite invalid input: %q", got)
	}
}

func TestUpdateStrategy_NoDeadlockWithInflightPermits(t *testing.T) {
	c := newTestController(&mockQuota{})
	ctx := context.Background()

	p1, err := c.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Shrink the cap below the current in-flight count.
	tight := testStrategy()
	tight.MaxConcurrentRequests = 1
	if err := c.UpdateStrategy(tight); err != nil {
		t.Fatalf("update: %v", err)
	}

	// The in-flight permit still releases cleanly and a new acquire works.
	c.Release(p1, domain.OutcomeSuccess)

	p2, err := c.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("acquire after shrink: %v", err)
	}
	c.Release(p2, domain.OutcomeSuccess)
}

func TestEffectiveConcurrency_AdaptiveHalvesUnderErrors(t *testing.T) {
	adaptive := domain.StrategyAdaptive
	adaptive.MaxConcurrentRequests = 4
	c := New("openai", &mockQuota{}, adaptive, zap.NewNop())

	c.mu.Lock()
	if got := c.effectiveConcurrency(adaptive); got != 4 {
		t.Errorf("no errors: got %d, want 4", got)
	}
	c.consecErrors = 2
	if got := c.effectiveConcurrency(adaptive); got != 2 {
		t.Errorf("under errors: got %d, want 2", got)
	}
	c.mu.Unlock()

	// Non-adaptive strategies keep their cap regardless of errors.
	c2 := newTestController(&mockQuota{})
	c2.mu.Lock()
	c2.consecErrors = 5
	if got := c2.effectiveConcurrency(testStrategy()); got != 2 {
		t.Errorf("non-adaptive: got %d, want 2", got)
	}
	c2.mu.Unlock()
}

func TestBackoffDelay_CappedAtMaxWait(t *testing.T) {
	if got := backoffDelay(time.Second, 2, 1); got != 2*time.Second {
		t.Errorf("first delay: got %v, want 2s", got)
	}
	if got := backoffDelay(time.Second, 2, 30); got != MaxWait {
		t.Errorf("runaway delay not capped: %v", got)
	}
	if got := backoffDelay(0, 2, 1); got != 2*time.Second {
		t.Errorf("zero base not defaulted: %v", got)
	}
}
