// Package reconnect holds the retry policy and lifecycle plumbing shared by the
// platform connectors. Everything that decides "how long until the next attempt"
// is a pure function of the attempt counter so it can be tested without sockets
// or timers.
package reconnect

import (
	"context"
	"time"
)

const (
	DefaultBase   = 5 * time.Second
	DefaultMax    = 60 * time.Second
	DefaultFactor = 2.0
)

// Policy describes a bounded exponential backoff. A Factor of 1 gives a fixed interval.
type Policy struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

func DefaultPolicy() Policy {
	return Policy{Base: DefaultBase, Max: DefaultMax, Factor: DefaultFactor}
}

func (p Policy) normalized() Policy {
	if p.Base <= 0 {
		p.Base = DefaultBase
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}
	if p.Factor < 1 {
		p.Factor = 1
	}
	return p
}

// Next returns the delay before retry number attempt (1-based).
func (p Policy) Next(attempt int) time.Duration {
	p = p.normalized()
	if attempt <= 1 {
		return p.Base
	}
	delay := float64(p.Base)
	for i := 1; i < attempt; i++ {
		delay *= p.Factor
		if delay >= float64(p.Max) {
			return p.Max
		}
	}
	return time.Duration(delay)
}

// Sleep waits for d or until ctx is done. It reports whether the full delay elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
