package reconnect

import (
	"sync"
	"time"

	"github.com/you/gnasty-live/internal/core"
)

const DefaultDebounce = 2 * time.Second

// Reporter receives connection state transitions.
type Reporter func(core.ConnectionState)

// Debouncer suppresses transport flapping before states reach consumers.
// Connected and terminal states pass through immediately; other states are held
// for the window and dropped if the connector recovers in the meantime.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	report  Reporter
	timer   *time.Timer
	gen     uint64
	pending *core.ConnectionState
}

func NewDebouncer(window time.Duration, report Reporter) *Debouncer {
	if report == nil {
		report = func(core.ConnectionState) {}
	}
	return &Debouncer{window: window, report: report}
}

func (d *Debouncer) Report(s core.ConnectionState) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.window <= 0 || s.Terminal || s.Status == core.StatusConnected {
		d.cancelLocked()
		d.report(s)
		return
	}

	d.cancelLocked()
	d.gen++
	gen := d.gen
	state := s
	d.pending = &state
	d.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.gen != gen || d.pending == nil {
			return
		}
		pending := *d.pending
		d.pending = nil
		d.timer = nil
		d.report(pending)
	})
}

// Flush delivers any held state immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return
	}
	pending := *d.pending
	d.cancelLocked()
	d.report(pending)
}

func (d *Debouncer) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	d.gen++
}
