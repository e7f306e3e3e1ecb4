package system

import (
	"testing"
	"time"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

func TestStampSortsChronologically(t *testing.T) {
	t.Parallel()

	first := time.Date(2024, 3, 9, 23, 59, 59, 5, time.UTC)
	second := first.Add(time.Nanosecond)
	if got := Stamp(first); got != "20240309T235959.000000005Z" {
		t.Fatalf("unexpected stamp %q", got)
	}
	if Stamp(first) >= Stamp(second) {
		t.Fatalf("stamps out of order: %s >= %s", Stamp(first), Stamp(second))
	}
}

func TestFixedClock(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	clk := Fixed(at)
	if !clk.Now().Equal(at) {
		t.Fatalf("expected %v, got %v", at, clk.Now())
	}
}
