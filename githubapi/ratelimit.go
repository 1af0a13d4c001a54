package githubapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerLimit     = "X-Ratelimit-Limit"
	headerRemaining = "X-Ratelimit-Remaining"
	headerReset     = "X-Ratelimit-Reset"
)

// RateLimit is the quota telemetry GitHub reports on every response.
// A nil field means the header was absent or not a number.
type RateLimit struct {
	Limit     *int   `json:"limit,omitempty"`
	Remaining *int   `json:"remaining,omitempty"`
	Reset     *int64 `json:"reset,omitempty"` // epoch seconds
}

// ParseRateLimit reads the x-ratelimit-* headers
func ParseRateLimit(h http.Header) RateLimit {
	rl := RateLimit{}
	if v, ok := headerInt(h, headerLimit); ok {
		n := int(v)
		rl.Limit = &n
	}
	if v, ok := headerInt(h, headerRemaining); ok {
		n := int(v)
		rl.Remaining = &n
	}
	if v, ok := headerInt(h, headerReset); ok {
		rl.Reset = &v
	}
	return rl
}

func headerInt(h http.Header, name string) (int64, bool) {
	raw := strings.TrimSpace(h.Get(name))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Exhausted reports whether the quota is known to be used up
func (r RateLimit) Exhausted() bool {
	return r.Remaining != nil && *r.Remaining == 0
}

// ResetAt returns when the quota window resets, if known
func (r RateLimit) ResetAt() (time.Time, bool) {
	if r.Reset == nil {
		return time.Time{}, false
	}
	return time.Unix(*r.Reset, 0), true
}

// IsZero reports whether no rate limit header was present
func (r RateLimit) IsZero() bool {
	return r.Limit == nil && r.Remaining == nil && r.Reset == nil
}
