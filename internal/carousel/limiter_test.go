package carousel

import (
	"testing"
	"time"
)

func TestLimiterHeadroomWindows(t *testing.T) {
	limits := Budget{
		RequestsPerMinute: 10,
		TokensPerMinute:   1000,
		RequestsPerDay:    100,
		TokensPerDay:      10000,
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(limits)
	l.now = func() time.Time { return now }

	l.Record(3, 300)

	got := l.Headroom()
	if got.RequestsPerMinute != 7 || got.TokensPerMinute != 700 {
		t.Errorf("minute headroom = %d req / %d tok, want 7 / 700", got.RequestsPerMinute, got.TokensPerMinute)
	}
	if got.RequestsPerDay != 97 || got.TokensPerDay != 9700 {
		t.Errorf("day headroom = %d req / %d tok, want 97 / 9700", got.RequestsPerDay, got.TokensPerDay)
	}

	// Two minutes later the minute tiers have refilled but the day tiers
	// still carry the consumption.
	now = now.Add(2 * time.Minute)
	got = l.Headroom()
	if got.RequestsPerMinute != 10 || got.TokensPerMinute != 1000 {
		t.Errorf("minute tiers did not refill: %+v", got)
	}
	if got.RequestsPerDay != 97 || got.TokensPerDay != 9700 {
		t.Errorf("day tiers refilled early: %+v", got)
	}

	// 25 hours later everything has refilled and the events are expired.
	now = now.Add(25 * time.Hour)
	got = l.Headroom()
	if got != limits {
		t.Errorf("headroom after day window = %+v, want full limits %+v", got, limits)
	}
	if len(l.events) != 0 {
		t.Errorf("expired events not dropped: %d remain", len(l.events))
	}
}

func TestLimiterHeadroomClampsAtZero(t *testing.T) {
	l := NewLimiter(Budget{
		RequestsPerMinute: 1,
		TokensPerMinute:   100,
		RequestsPerDay:    10,
		TokensPerDay:      1000,
	})

	// Actual usage overshot the minute tier.
	l.Record(2, 250)

	got := l.Headroom()
	if got.RequestsPerMinute != 0 || got.TokensPerMinute != 0 {
		t.Errorf("overshot tiers must clamp at zero, got %+v", got)
	}
	if got.RequestsPerDay != 8 || got.TokensPerDay != 750 {
		t.Errorf("day tiers = %d / %d, want 8 / 750", got.RequestsPerDay, got.TokensPerDay)
	}
}

func TestLimiterIgnoresEmptyRecord(t *testing.T) {
	l := NewLimiter(Budget{RequestsPerMinute: 1, TokensPerMinute: 1, RequestsPerDay: 1, TokensPerDay: 1})
	l.Record(0, 0)
	if len(l.events) != 0 {
		t.Errorf("empty record created an event")
	}
}
