package carousel

import (
	"sync"
	"testing"
)

func TestBudgetCanFit(t *testing.T) {
	b := Budget{
		RequestsPerMinute: 2,
		TokensPerMinute:   100,
		RequestsPerDay:    10,
		TokensPerDay:      1000,
	}

	tests := []struct {
		name     string
		requests int64
		tokens   int64
		want     bool
	}{
		{"fits all tiers", 1, 50, true},
		{"exact fit", 2, 100, true},
		{"requests per minute exceeded", 3, 50, false},
		{"tokens per minute exceeded", 1, 101, false},
		{"zero consumption", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.CanFit(tt.requests, tt.tokens); got != tt.want {
				t.Errorf("CanFit(%d, %d) = %v, want %v", tt.requests, tt.tokens, got, tt.want)
			}
		})
	}
}

func TestTryReserveAllOrNothing(t *testing.T) {
	// Tokens per minute is the constraining tier; a denied reservation must
	// leave every tier untouched, including the ones that had room.
	tracker := NewBudgetTracker(Budget{
		RequestsPerMinute: 10,
		TokensPerMinute:   100,
		RequestsPerDay:    10,
		TokensPerDay:      1000,
	})

	if !tracker.TryReserve(1, 80) {
		t.Fatal("first reservation should succeed")
	}
	if tracker.TryReserve(1, 80) {
		t.Fatal("second reservation should be denied by tokens_per_minute")
	}

	got := tracker.Snapshot()
	if got.RequestsPerMinute != 9 {
		t.Errorf("RequestsPerMinute = %d, want 9 (denied reservation must not decrement)", got.RequestsPerMinute)
	}
	if got.TokensPerMinute != 20 {
		t.Errorf("TokensPerMinute = %d, want 20", got.TokensPerMinute)
	}
	if got.RequestsPerDay != 9 {
		t.Errorf("RequestsPerDay = %d, want 9", got.RequestsPerDay)
	}
	if got.TokensPerDay != 920 {
		t.Errorf("TokensPerDay = %d, want 920", got.TokensPerDay)
	}
}

func TestReleaseUnusedClamped(t *testing.T) {
	tracker := NewBudgetTracker(Budget{
		RequestsPerMinute: 10,
		TokensPerMinute:   100,
		RequestsPerDay:    10,
		TokensPerDay:      1000,
	})

	if !tracker.TryReserve(1, 50) {
		t.Fatal("reservation should succeed")
	}

	// Releasing more than was reserved must clamp at the reserved amount.
	tracker.ReleaseUnused(5, 500)

	got := tracker.Snapshot()
	if got.TokensPerMinute != 100 || got.RequestsPerMinute != 10 {
		t.Errorf("over-release exceeded initial capacity: %+v", got)
	}

	reqReserved, tokReserved := tracker.Reserved()
	if reqReserved != 0 || tokReserved != 0 {
		t.Errorf("Reserved() = %d, %d after full release, want 0, 0", reqReserved, tokReserved)
	}

	// Nothing reserved now, so further releases are no-ops.
	tracker.ReleaseUnused(1, 1)
	if got := tracker.Snapshot(); got.TokensPerMinute != 100 {
		t.Errorf("release with nothing reserved changed the ledger: %+v", got)
	}
}

func TestTryReserveConcurrent(t *testing.T) {
	// 10 token headroom, 20 goroutines each wanting 1 token: exactly 10
	// reservations may succeed.
	tracker := NewBudgetTracker(Budget{
		RequestsPerMinute: 100,
		TokensPerMinute:   10,
		RequestsPerDay:    100,
		TokensPerDay:      10,
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.TryReserve(1, 1) {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 10 {
		t.Errorf("granted %d reservations, want exactly 10", granted)
	}
}
