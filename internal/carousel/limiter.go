package carousel

import (
	"sync"
	"time"

	"stagehand/internal/logging"
)

// usageEvent is one recorded generation call.
type usageEvent struct {
	at       time.Time
	requests int64
	tokens   int64
}

// Limiter is the rate-limit collaborator. It owns tier refill: consumption
// is recorded as timestamped events, and headroom is computed by expiring
// events that have left the minute/day windows. The executor records every
// generation call here; the carousel reads headroom at entry and the
// BudgetTracker gates against that snapshot.
type Limiter struct {
	mu     sync.Mutex
	limits Budget
	events []usageEvent
	now    func() time.Time
}

// NewLimiter creates a limiter with the given tier capacities.
func NewLimiter(limits Budget) *Limiter {
	return &Limiter{
		limits: limits,
		now:    time.Now,
	}
}

// Record adds a consumption event to the ledger.
func (l *Limiter) Record(requests, tokens int64) {
	if requests <= 0 && tokens <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, usageEvent{
		at:       l.now(),
		requests: requests,
		tokens:   tokens,
	})
}

// Headroom returns remaining capacity on each tier after expiring events
// outside their windows. Values are clamped at zero.
func (l *Limiter) Headroom() Budget {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.expireLocked(now)

	var minuteReq, minuteTok, dayReq, dayTok int64
	minuteCutoff := now.Add(-time.Minute)
	for _, e := range l.events {
		dayReq += e.requests
		dayTok += e.tokens
		if e.at.After(minuteCutoff) {
			minuteReq += e.requests
			minuteTok += e.tokens
		}
	}

	headroom := Budget{
		RequestsPerMinute: clampNonNegative(l.limits.RequestsPerMinute - minuteReq),
		TokensPerMinute:   clampNonNegative(l.limits.TokensPerMinute - minuteTok),
		RequestsPerDay:    clampNonNegative(l.limits.RequestsPerDay - dayReq),
		TokensPerDay:      clampNonNegative(l.limits.TokensPerDay - dayTok),
	}

	logging.BudgetDebug("Limiter headroom: %+v (%d live events)", headroom, len(l.events))
	return headroom
}

// expireLocked drops events older than the day window. Must hold l.mu.
func (l *Limiter) expireLocked(now time.Time) {
	dayCutoff := now.Add(-24 * time.Hour)
	kept := l.events[:0]
	for _, e := range l.events {
		if e.at.After(dayCutoff) {
			kept = append(kept, e)
		}
	}
	l.events = kept
}

// Limits returns the configured tier capacities.
func (l *Limiter) Limits() Budget {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limits
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
