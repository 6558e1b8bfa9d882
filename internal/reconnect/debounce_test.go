package reconnect

import (
	"sync"
	"testing"
	"time"

	"github.com/you/gnasty-live/internal/core"
)

type stateRecorder struct {
	mu     sync.Mutex
	states []core.ConnectionState
}

func (r *stateRecorder) report(s core.ConnectionState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) snapshot() []core.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.ConnectionState(nil), r.states...)
}

func TestDebouncerSuppressesFlap(t *testing.T) {
	rec := &stateRecorder{}
	d := NewDebouncer(50*time.Millisecond, rec.report)

	d.Report(core.Connected(""))
	d.Report(core.Disconnected("eof"))
	d.Report(core.Connected(""))

	time.Sleep(120 * time.Millisecond)
	got := rec.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected two connected reports, got %+v", got)
	}
	for _, s := range got {
		if s.Status != core.StatusConnected {
			t.Fatalf("unexpected state %+v", s)
		}
	}
}

func TestDebouncerDeliversAfterWindow(t *testing.T) {
	rec := &stateRecorder{}
	d := NewDebouncer(20*time.Millisecond, rec.report)

	d.Report(core.Disconnected("eof"))
	d.Report(core.Degraded("slow"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(rec.snapshot()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := rec.snapshot()
	if len(got) != 1 || got[0].Status != core.StatusDegraded {
		t.Fatalf("expected latest held state, got %+v", got)
	}
}

func TestDebouncerTerminalImmediate(t *testing.T) {
	rec := &stateRecorder{}
	d := NewDebouncer(time.Hour, rec.report)

	d.Report(core.Disconnected("eof"))
	d.Report(core.TerminalDisconnected("auth failed"))

	got := rec.snapshot()
	if len(got) != 1 || !got[0].Terminal {
		t.Fatalf("expected terminal state immediately, got %+v", got)
	}
}

func TestDebouncerFlush(t *testing.T) {
	rec := &stateRecorder{}
	d := NewDebouncer(time.Hour, rec.report)
	d.Report(core.Disconnected("stopped"))
	d.Flush()
	d.Flush()
	got := rec.snapshot()
	if len(got) != 1 || got[0].Reason != "stopped" {
		t.Fatalf("unexpected flush result %+v", got)
	}
}
