package reconnect

import (
	"context"
	"sync"
)

// Lifecycle gives a connector idempotent Start/Stop around a single run goroutine.
type Lifecycle struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches run in a goroutine. It returns false if a run is already active.
func (l *Lifecycle) Start(parent context.Context, run func(ctx context.Context)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		select {
		case <-l.done:
		default:
			return false
		}
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	go func() {
		defer close(done)
		defer cancel()
		run(ctx)
	}()
	return true
}

// Stop cancels the active run and waits for it to unwind. Safe to call at any time, repeatedly.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether a run goroutine is still active.
func (l *Lifecycle) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Done is closed when the current run exits. It is nil before the first Start.
func (l *Lifecycle) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}
