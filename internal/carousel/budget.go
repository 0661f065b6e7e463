// Package carousel implements budget-gated concurrent repetition of a
// narrative act: a multi-tier quota ledger with all-or-nothing reservation,
// a sliding-window rate limiter that owns tier refill, and the controller
// that launches and joins iterations.
package carousel

import (
	"sync"

	"stagehand/internal/logging"
)

// Budget holds remaining capacity across the four quota tiers.
type Budget struct {
	RequestsPerMinute int64 `json:"requests_per_minute"`
	TokensPerMinute   int64 `json:"tokens_per_minute"`
	RequestsPerDay    int64 `json:"requests_per_day"`
	TokensPerDay      int64 `json:"tokens_per_day"`
}

// CanFit reports whether the budget has headroom for the given consumption
// on every tier.
func (b Budget) CanFit(requests, tokens int64) bool {
	return b.RequestsPerMinute >= requests &&
		b.TokensPerMinute >= tokens &&
		b.RequestsPerDay >= requests &&
		b.TokensPerDay >= tokens
}

// BudgetTracker is a thread-safe ledger over the four tiers. A reservation
// decrements all four counters or none; counters never go negative. The
// tracker is created from a rate-limiter headroom snapshot at carousel entry
// and discarded at carousel exit - tier refill over time belongs to the
// limiter, not the tracker.
type BudgetTracker struct {
	mu        sync.Mutex
	remaining Budget
	initial   Budget

	reservedRequests int64
	reservedTokens   int64
}

// NewBudgetTracker creates a tracker with the given initial headroom.
func NewBudgetTracker(headroom Budget) *BudgetTracker {
	return &BudgetTracker{
		remaining: headroom,
		initial:   headroom,
	}
}

// TryReserve atomically decrements all four counters if every tier has
// sufficient headroom. Returns false, leaving all counters unchanged,
// when any one tier would go negative.
func (t *BudgetTracker) TryReserve(requests, tokens int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.remaining.CanFit(requests, tokens) {
		logging.BudgetDebug("Reservation denied: want req=%d tok=%d, have %+v", requests, tokens, t.remaining)
		return false
	}

	t.remaining.RequestsPerMinute -= requests
	t.remaining.RequestsPerDay -= requests
	t.remaining.TokensPerMinute -= tokens
	t.remaining.TokensPerDay -= tokens
	t.reservedRequests += requests
	t.reservedTokens += tokens

	logging.BudgetDebug("Reserved req=%d tok=%d, remaining %+v", requests, tokens, t.remaining)
	return true
}

// ReleaseUnused returns over-estimated capacity to the pool after true usage
// is known. Releases are clamped so the ledger never exceeds its initial
// capacity; under-estimates are absorbed, not retroactively reclaimed.
func (t *BudgetTracker) ReleaseUnused(requests, tokens int64) {
	if requests <= 0 && tokens <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if requests > t.reservedRequests {
		requests = t.reservedRequests
	}
	if tokens > t.reservedTokens {
		tokens = t.reservedTokens
	}
	if requests <= 0 && tokens <= 0 {
		return
	}

	t.remaining.RequestsPerMinute += requests
	t.remaining.RequestsPerDay += requests
	t.remaining.TokensPerMinute += tokens
	t.remaining.TokensPerDay += tokens
	t.reservedRequests -= requests
	t.reservedTokens -= tokens

	logging.BudgetDebug("Released req=%d tok=%d, remaining %+v", requests, tokens, t.remaining)
}

// Snapshot returns a read-only copy of the current remaining values.
func (t *BudgetTracker) Snapshot() Budget {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Reserved returns the total consumption currently held against the ledger.
func (t *BudgetTracker) Reserved() (requests, tokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reservedRequests, t.reservedTokens
}
