package reconnect

import (
	"context"
	"testing"
	"time"
)

func TestPolicyNext(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 60 * time.Second},
		{50, 60 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Next(tc.attempt); got != tc.want {
			t.Fatalf("Next(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestPolicyZeroValueUsesDefaults(t *testing.T) {
	var p Policy
	if got := p.Next(1); got != DefaultBase {
		t.Fatalf("zero policy first delay = %v", got)
	}
	// Factor below 1 is clamped to a fixed interval.
	if got := p.Next(3); got != DefaultBase {
		t.Fatalf("zero policy third delay = %v", got)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if Sleep(ctx, time.Hour) {
		t.Fatalf("expected cancelled sleep to report false")
	}
	if !Sleep(context.Background(), time.Millisecond) {
		t.Fatalf("expected completed sleep to report true")
	}
}
