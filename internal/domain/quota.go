package domain

import "time"

// QuotaType is the dimension a provider limit applies to.
type QuotaType string

const (
	// QuotaRequests limits the number of API calls per window.
	QuotaRequests QuotaType = "requests"
	// QuotaTokens limits the number of tokens consumed per window.
	QuotaTokens QuotaType = "tokens"
)

// QuotaWindowLength is the fixed accounting window for provider limits.
const QuotaWindowLength = 60 * time.Second

// WindowStart returns the start of the quota window containing t.
// Windows are contiguous and non-overlapping.
func WindowStart(t time.Time) time.Time {
	return t.Truncate(QuotaWindowLength)
}

// QuotaWindow is the usage record for one (provider, type, window) bucket.
type QuotaWindow struct {
	Provider    string    `json:"provider"`
	Type        QuotaType `json:"quota_type"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Used        int64     `json:"used"`
	Limit       int64     `json:"limit"`
}

// Remaining returns the unused capacity in the window, never negative.
func (w QuotaWindow) Remaining() int64 {
	r := w.Limit - w.Used
	if r < 0 {
		return 0
	}
	return r
}

// IsRateLimited reports whether the window is exhausted.
func (w QuotaWindow) IsRateLimited() bool { return w.Remaining() <= 0 }

// QuotaLimits holds per-window caps for one provider.
type QuotaLimits struct {
	Requests int64
	Tokens   int64
}

// ForType returns the cap for the given quota type.
func (l QuotaLimits) ForType(qt QuotaType) int64 {
	if qt == QuotaTokens {
		return l.Tokens
	}
	return l.Requests
}

// Reservation is the outcome of a quota reserve attempt.
type Reservation struct {
	Granted   bool
	Remaining int64
	ResetAt   time.Time
}
