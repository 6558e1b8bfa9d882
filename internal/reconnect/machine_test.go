package reconnect

import (
	"testing"
	"time"
)

func TestMachineTransitions(t *testing.T) {
	m := NewMachine(Policy{Base: time.Second, Max: 4 * time.Second, Factor: 2})
	if m.Phase() != PhaseIdle {
		t.Fatalf("initial phase = %v", m.Phase())
	}

	m.Connecting()
	if d := m.Failed(); d != time.Second {
		t.Fatalf("first backoff = %v", d)
	}
	if m.String() != "backoff(1)" {
		t.Fatalf("unexpected string %q", m.String())
	}
	m.Connecting()
	if d := m.Failed(); d != 2*time.Second {
		t.Fatalf("second backoff = %v", d)
	}
	m.Connecting()
	m.Failed()
	if d := m.Failed(); d != 4*time.Second {
		t.Fatalf("capped backoff = %v", d)
	}

	m.Connecting()
	m.Connected()
	if m.Attempt() != 0 || m.Phase() != PhaseConnected {
		t.Fatalf("connected should reset attempts: %v attempt=%d", m.Phase(), m.Attempt())
	}
	if d := m.Failed(); d != time.Second {
		t.Fatalf("backoff after reset = %v", d)
	}

	m.Stop()
	if m.Phase() != PhaseIdle || m.Attempt() != 0 {
		t.Fatalf("stop should return to idle")
	}
}
