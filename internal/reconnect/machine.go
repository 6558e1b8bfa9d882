package reconnect

import (
	"fmt"
	"time"
)

// Phase is a step of the connector reconnect loop.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseBackoff
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseBackoff:
		return "backoff"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Machine tracks {Idle, Connecting, Connected, Backoff(attempt)} for one connector.
// It is not safe for concurrent use; each connector goroutine owns its machine.
type Machine struct {
	policy  Policy
	phase   Phase
	attempt int
}

func NewMachine(p Policy) *Machine {
	return &Machine{policy: p}
}

func (m *Machine) Phase() Phase { return m.phase }

// Attempt is the number of consecutive failures since the last successful connection.
func (m *Machine) Attempt() int { return m.attempt }

func (m *Machine) Connecting() {
	m.phase = PhaseConnecting
}

// Connected resets the failure counter.
func (m *Machine) Connected() {
	m.phase = PhaseConnected
	m.attempt = 0
}

// Failed moves to Backoff and returns how long to wait before the next attempt.
func (m *Machine) Failed() time.Duration {
	m.attempt++
	m.phase = PhaseBackoff
	return m.policy.Next(m.attempt)
}

func (m *Machine) Stop() {
	m.phase = PhaseIdle
	m.attempt = 0
}

func (m *Machine) String() string {
	if m.phase == PhaseBackoff {
		return fmt.Sprintf("backoff(%d)", m.attempt)
	}
	return m.phase.String()
}
