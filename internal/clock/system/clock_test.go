// Package system exercises the real-time clock adapter.
package system

import (
	"testing"
	"time"
)

// TestClockNowDefaultsToUTC ensures a nil location yields UTC timestamps.
func TestClockNowDefaultsToUTC(t *testing.T) {
	t.Parallel()

	clk := New(nil)

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

// TestClockNowUsesLocation checks the configured zone is applied.
func TestClockNowUsesLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("KST", 9*60*60)
	clk := New(loc)
	got := clk.Now()
	if got.Location() != loc {
		t.Fatalf("expected %v, got %v", loc, got.Location())
	}
	if _, offset := got.Zone(); offset != 9*60*60 {
		t.Fatalf("expected +09:00 offset, got %d", offset)
	}
}

// TestClockNowMonotonic checks successive timestamps are non-decreasing.
func TestClockNowMonotonic(t *testing.T) {
	t.Parallel()

	clk := New(nil)
	first := clk.Now()
	second := clk.Now()
	if second.Before(first) {
		t.Fatalf("expected second call %v to be >= first %v", second, first)
	}
}
