// Package bus is the in-process broadcaster consumers observe: per-platform
// recent-event buffers, connection states and non-blocking fan-out.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/correlate"
)

const (
	DefaultRingSize         = 100
	DefaultSubscriberBuffer = 256
)

// Delivery is one event notification. Update is set for in-progress signals
// (stacking gifts) that will later be superseded by a final event with the same ID.
type Delivery struct {
	Event  core.Event `json:"event"`
	Update bool       `json:"update,omitempty"`
}

type StateChange struct {
	Platform core.Platform        `json:"platform"`
	State    core.ConnectionState `json:"state"`
}

type Snapshot struct {
	Events    map[core.Platform][]core.Event         `json:"events"`
	States    map[core.Platform]core.ConnectionState `json:"states"`
	UpdatedAt time.Time                              `json:"updatedAt"`
}

type Config struct {
	RingSize         int
	SubscriberBuffer int
}

type Stats struct {
	Published   uint64
	Dropped     uint64
	Subscribers int
}

type subscriber struct {
	events chan Delivery
	states chan StateChange
}

type Bus struct {
	ringSize  int
	subBuffer int

	mu        sync.Mutex
	rings     map[core.Platform][]core.Event
	states    map[core.Platform]core.ConnectionState
	updatedAt time.Time
	subs      map[uint64]*subscriber
	nextID    uint64

	published atomic.Uint64
	dropped   atomic.Uint64
}

func New(cfg Config) *Bus {
	if cfg.RingSize <= 0 {
		cfg.RingSize = DefaultRingSize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultSubscriberBuffer
	}
	b := &Bus{
		ringSize:  cfg.RingSize,
		subBuffer: cfg.SubscriberBuffer,
		rings:     make(map[core.Platform][]core.Event),
		states:    make(map[core.Platform]core.ConnectionState),
		subs:      make(map[uint64]*subscriber),
	}
	for _, p := range core.Platforms {
		b.states[p] = core.Disconnected("")
	}
	return b
}

// Publish buffers a final event (or replaces the buffered entry with the same ID)
// and fans it out. It never blocks on subscribers.
func (b *Bus) Publish(ob correlate.Outbound) Delivery {
	d := Delivery{Event: ob.Event, Update: ob.Update}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.storeLocked(ob)
	b.updatedAt = time.Now().UTC()
	b.published.Add(1)
	for _, sub := range b.subs {
		if !sendDropOldest(sub.events, d) {
			b.dropped.Add(1)
		}
	}
	return d
}

func (b *Bus) storeLocked(ob correlate.Outbound) {
	p := ob.Event.Platform
	ring := b.rings[p]
	if ob.Event.ID != "" {
		for i := range ring {
			if ring[i].ID == ob.Event.ID {
				ring[i] = ob.Event
				return
			}
		}
	}
	if ob.Update {
		return
	}
	ring = append(ring, ob.Event)
	if over := len(ring) - b.ringSize; over > 0 {
		ring = append(ring[:0:0], ring[over:]...)
	}
	b.rings[p] = ring
}

// SetConnectionState records and broadcasts state. Repeated identical states are still delivered.
func (b *Bus) SetConnectionState(p core.Platform, state core.ConnectionState) {
	if state.Since.IsZero() {
		state.Since = time.Now().UTC()
	}
	change := StateChange{Platform: p, State: state}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.states[p] = state
	b.updatedAt = time.Now().UTC()
	for _, sub := range b.subs {
		if !sendDropOldest(sub.states, change) {
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a consumer. The returned unsubscribe func is idempotent and
// closes both channels.
func (b *Bus) Subscribe() (<-chan Delivery, <-chan StateChange, func()) {
	sub := &subscriber{
		events: make(chan Delivery, b.subBuffer),
		states: make(chan StateChange, b.subBuffer),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.events)
			close(sub.states)
		})
	}
	return sub.events, sub.states, unsubscribe
}

func (b *Bus) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Events:    make(map[core.Platform][]core.Event, len(b.rings)),
		States:    make(map[core.Platform]core.ConnectionState, len(b.states)),
		UpdatedAt: b.updatedAt,
	}
	for p, ring := range b.rings {
		snap.Events[p] = append([]core.Event(nil), ring...)
	}
	for p, s := range b.states {
		snap.States[p] = s
	}
	return snap
}

func (b *Bus) State(p core.Platform) core.ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[p]
}

func (b *Bus) Stats() Stats {
	b.mu.Lock()
	n := len(b.subs)
	b.mu.Unlock()
	return Stats{Published: b.published.Load(), Dropped: b.dropped.Load(), Subscribers: n}
}

// sendDropOldest delivers v, evicting the oldest queued item when the buffer is
// full. It reports false when something had to be dropped. Callers hold the bus
// lock, so they are the only writer.
func sendDropOldest[T any](ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
	return false
}
