// Package harvester runs one ingestion session. It owns the platform
// connectors and pumps their raw events through the normalizer and the
// correlator onto the bus, one FIFO pump per platform.
package harvester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/you/gnasty-live/internal/bus"
	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/correlate"
	"github.com/you/gnasty-live/internal/ingesttrace"
	"github.com/you/gnasty-live/internal/normalize"
)

const (
	defaultSweepInterval = time.Second
	statsLogInterval     = time.Minute
)

var (
	ErrUnknownPlatform = errors.New("harvester: platform not configured")
	ErrNotStarted      = errors.New("harvester: not started")
)

// Connector is a platform source. Start returns a stream that is closed when the
// connector's loop exits; Stop is idempotent and waits for that exit. A
// connector may be started again after it stopped.
type Connector interface {
	Start(ctx context.Context) <-chan core.RawEvent
	Stop()
}

// CredentialReloader re-reads stored credentials for a platform and reports
// whether the access token changed.
type CredentialReloader interface {
	Reload(p core.Platform) (bool, error)
}

type Options struct {
	Bus         *bus.Bus
	Correlator  *correlate.Correlator
	Normalizer  *normalize.Normalizer
	Metrics     *Metrics
	Tracker     *ingesttrace.Tracker
	Credentials CredentialReloader

	SweepInterval time.Duration
	Logger        *slog.Logger
}

type slot struct {
	conn Connector
	// restart serializes Restart calls for one platform across stop, drain and launch.
	restart sync.Mutex
	// pumpDone is guarded by Harvester.mu.
	pumpDone chan struct{}
}

type Harvester struct {
	bus     *bus.Bus
	corr    *correlate.Correlator
	norm    *normalize.Normalizer
	metrics *Metrics
	tracker *ingesttrace.Tracker
	creds   CredentialReloader
	sweep   time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	slots   map[core.Platform]*slot
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New(opts Options) *Harvester {
	if opts.Bus == nil {
		opts.Bus = bus.New(bus.Config{})
	}
	if opts.Correlator == nil {
		opts.Correlator = correlate.New(correlate.Config{})
	}
	if opts.Normalizer == nil {
		opts.Normalizer = normalize.New(nil)
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Harvester{
		bus:     opts.Bus,
		corr:    opts.Correlator,
		norm:    opts.Normalizer,
		metrics: opts.Metrics,
		tracker: opts.Tracker,
		creds:   opts.Credentials,
		sweep:   opts.SweepInterval,
		log:     opts.Logger,
		slots:   make(map[core.Platform]*slot),
	}
}

func (h *Harvester) Bus() *bus.Bus { return h.bus }

// StateReporter returns the callback connectors use for state transitions.
// States go straight to the bus; connectors debounce before calling it.
func (h *Harvester) StateReporter(p core.Platform) func(core.ConnectionState) {
	return func(s core.ConnectionState) {
		h.bus.SetConnectionState(p, s)
		h.metrics.SetState(p, s)
		attrs := []any{"platform", p, "status", s.Status}
		if s.Reason != "" {
			attrs = append(attrs, "reason", s.Reason)
		}
		if s.Terminal {
			h.log.Warn("harvester: connector stopped", append(attrs, "terminal", true)...)
			return
		}
		h.log.Info("harvester: state", attrs...)
	}
}

// Add registers the connector for p. Connectors added after Start are started immediately.
func (h *Harvester) Add(p core.Platform, conn Connector) error {
	if conn == nil {
		return fmt.Errorf("harvester: nil connector for %s", p)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.slots[p]; exists {
		return fmt.Errorf("harvester: %s already registered", p)
	}
	s := &slot{conn: conn}
	h.slots[p] = s
	if h.started {
		h.launchLocked(p, s)
	}
	return nil
}

// Platforms lists the registered platforms.
func (h *Harvester) Platforms() []core.Platform {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]core.Platform, 0, len(h.slots))
	for _, p := range core.Platforms {
		if _, ok := h.slots[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Start launches every registered connector, its pump, and the sweeper.
func (h *Harvester) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.started = true
	for p, s := range h.slots {
		h.launchLocked(p, s)
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runSweeper(h.ctx)
	}()
}

func (h *Harvester) launchLocked(p core.Platform, s *slot) {
	in := s.conn.Start(h.ctx)
	done := make(chan struct{})
	s.pumpDone = done
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.pump(p, in, done)
	}()
}

// Restart stops the connector for p, waits for its pump to drain, and starts it
// again. It is the way out of a terminal state.
func (h *Harvester) Restart(p core.Platform) error {
	h.mu.Lock()
	s, ok := h.slots[p]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlatform, p)
	}

	s.restart.Lock()
	defer s.restart.Unlock()

	h.mu.Lock()
	started := h.started
	done := s.pumpDone
	h.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	s.conn.Stop()
	if done != nil {
		<-done
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return ErrNotStarted
	}
	h.launchLocked(p, s)
	h.metrics.IncRestarts(p)
	h.log.Info("harvester: connector restarted", "platform", p)
	return nil
}

// ReloadCredentials re-reads stored credentials for p and restarts its
// connector when the token changed or the connector had stopped for good.
func (h *Harvester) ReloadCredentials(p core.Platform) (bool, error) {
	if h.creds == nil {
		return false, errors.New("harvester: no credential store configured")
	}
	changed, err := h.creds.Reload(p)
	if err != nil {
		return false, fmt.Errorf("reload %s credentials: %w", p, err)
	}
	if changed || h.bus.State(p).Terminal {
		if err := h.Restart(p); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

// Stop stops every connector and waits for pumps and the sweeper to exit.
func (h *Harvester) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	slots := make([]*slot, 0, len(h.slots))
	for _, s := range h.slots {
		slots = append(slots, s)
	}
	cancel := h.cancel
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range slots {
		wg.Add(1)
		go func(c Connector) {
			defer wg.Done()
			c.Stop()
		}(s.conn)
	}
	wg.Wait()
	cancel()
	h.wg.Wait()
}
