// Package correlate de-duplicates normalized events and merges multi-step flows:
// mass gift purchases matched to the individual gifts they produce, and TikTok
// stacking gifts coalesced into one running total.
package correlate

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/you/gnasty-live/internal/core"
)

const (
	DefaultDedupCapacity = 1000
	DefaultDedupFloor    = 24 * time.Hour
	DefaultDedupHardCap  = 50000
	DefaultGiftTTL       = 5 * time.Minute
	DefaultStackIdle     = 5 * time.Second

	// A stack finalized by inactivity is remembered for this many idle windows
	// so a late notification for the same combo corrects the final event
	// instead of starting a second one.
	stackTombstoneFactor = 6
)

var stackNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("gnasty-live/stacking-gift"))

type Config struct {
	DedupCapacity int
	DedupFloor    time.Duration
	DedupHardCap  int
	GiftTTL       time.Duration
	StackIdle     time.Duration
	Now           func() time.Time
}

func (c Config) withDefaults() Config {
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = DefaultDedupCapacity
	}
	if c.DedupFloor < 0 {
		c.DedupFloor = 0
	} else if c.DedupFloor == 0 {
		c.DedupFloor = DefaultDedupFloor
	}
	if c.DedupHardCap <= 0 {
		c.DedupHardCap = DefaultDedupHardCap
	}
	if c.GiftTTL <= 0 {
		c.GiftTTL = DefaultGiftTTL
	}
	if c.StackIdle <= 0 {
		c.StackIdle = DefaultStackIdle
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Outbound is what the correlator hands to the bus. Update marks an in-progress
// signal for an event that has not been finalized yet; its ID is stable across
// updates and equals the ID of the final event.
type Outbound struct {
	Event  core.Event
	Update bool
}

// Stats are cumulative counters, read by the engine for metrics.
type Stats struct {
	Ingested    uint64
	Duplicates  uint64
	Correlated  uint64
	Anonymous   uint64
	Updates     uint64
	Finalized   uint64
	GiftEntries int
	OpenStacks  int
}

type giftKey struct {
	platform core.Platform
	gifterID string
}

// GiftCorrelation links a mass gift purchase to the recipients still owed a notification.
type GiftCorrelation struct {
	GifterID      string
	GifterDisplay string
	Gifter        core.Actor
	Remaining     int
	CreatedAt     time.Time
}

// StackingGift is the running state of a TikTok gift combo.
type StackingGift struct {
	Key        string
	Current    int
	Target     int
	PerUnit    float64
	StartedAt  time.Time
	LastUpdate time.Time
	EventID    string
	template   core.Event
	// finalizedAt is set once the stack has produced its final event.
	finalizedAt time.Time
}

// Correlator is safe for concurrent use.
type Correlator struct {
	cfg Config

	mu     sync.Mutex
	seen   map[core.Platform]*dedupSet
	gifts  map[giftKey]*GiftCorrelation
	stacks map[string]*StackingGift
	// closed holds stacks recently finalized by inactivity, by key.
	closed map[string]*StackingGift
	stats  Stats
}

func New(cfg Config) *Correlator {
	return &Correlator{
		cfg:    cfg.withDefaults(),
		seen:   make(map[core.Platform]*dedupSet),
		gifts:  make(map[giftKey]*GiftCorrelation),
		stacks: make(map[string]*StackingGift),
		closed: make(map[string]*StackingGift),
	}
}

// Ingest returns zero or one outbound item for ev.
func (c *Correlator) Ingest(ev core.Event) (Outbound, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.cfg.Now()
	c.stats.Ingested++

	if id := dedupID(ev); id != "" && ev.Type != core.TypeMetric {
		set := c.seenLocked(ev.Platform)
		if set.has(id) {
			c.stats.Duplicates++
			return Outbound{}, false
		}
		set.add(id, now)
	}

	switch ev.Type {
	case core.TypeGiftPurchase, core.TypeGiftMembershipPurchase:
		c.recordPurchaseLocked(ev, now)
	case core.TypeGiftSubscription, core.TypeGiftMembershipReceived:
		c.attachGifterLocked(&ev, now)
	case core.TypeGift:
		if ev.Gift != nil && ev.Gift.Stackable {
			return c.stackLocked(ev, now)
		}
	}
	return Outbound{Event: ev}, true
}

// Sweep evicts expired gift correlations and finalizes stacks idle for longer than StackIdle.
func (c *Correlator) Sweep(now time.Time) []Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.gifts {
		if now.Sub(entry.CreatedAt) >= c.cfg.GiftTTL {
			delete(c.gifts, key)
		}
	}

	var out []Outbound
	for key, st := range c.stacks {
		if now.Sub(st.LastUpdate) < c.cfg.StackIdle {
			continue
		}
		delete(c.stacks, key)
		if ob, ok := c.finalizeLocked(st, st.Current, now); ok {
			c.closed[key] = st
			out = append(out, ob)
		}
	}

	keep := c.cfg.StackIdle * stackTombstoneFactor
	for key, st := range c.closed {
		if now.Sub(st.finalizedAt) >= keep {
			delete(c.closed, key)
		}
	}
	return out
}

func (c *Correlator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.GiftEntries = len(c.gifts)
	s.OpenStacks = len(c.stacks)
	return s
}

// PendingGift returns a copy of the open correlation for a gifter, if any.
func (c *Correlator) PendingGift(p core.Platform, gifterID string) (GiftCorrelation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.gifts[giftKey{platform: p, gifterID: gifterID}]
	if !ok {
		return GiftCorrelation{}, false
	}
	return *entry, true
}

func (c *Correlator) seenLocked(p core.Platform) *dedupSet {
	set, ok := c.seen[p]
	if !ok {
		set = newDedupSet(c.cfg.DedupCapacity, c.cfg.DedupFloor, c.cfg.DedupHardCap)
		c.seen[p] = set
	}
	return set
}

// recordPurchaseLocked opens a correlation for a mass gift. Anonymous purchases
// open none: their recipients carry no gifter reference and resolve to
// Anonymous on their own.
func (c *Correlator) recordPurchaseLocked(ev core.Event, now time.Time) {
	gifterID := actorKey(ev.Actor)
	count := int(ev.AmountValue())
	if gifterID == "" || count <= 0 || ev.Actor == core.Anonymous {
		return
	}
	key := giftKey{platform: ev.Platform, gifterID: gifterID}
	if entry, ok := c.gifts[key]; ok && now.Sub(entry.CreatedAt) < c.cfg.GiftTTL {
		entry.Remaining += count
		return
	}
	c.gifts[key] = &GiftCorrelation{
		GifterID:      gifterID,
		GifterDisplay: ev.Actor.DisplayName,
		Gifter:        ev.Actor,
		Remaining:     count,
		CreatedAt:     now,
	}
}

// attachGifterLocked resolves the counterpart of a received gift. The normalizer
// puts whatever the source carries about the gifter in Counterpart; an id-only
// reference that matches no open purchase degrades to Anonymous.
func (c *Correlator) attachGifterLocked(ev *core.Event, now time.Time) {
	ref := ev.Counterpart
	if ref != nil && ref.ID != "" {
		key := giftKey{platform: ev.Platform, gifterID: ref.ID}
		if entry, ok := c.gifts[key]; ok {
			if now.Sub(entry.CreatedAt) >= c.cfg.GiftTTL {
				delete(c.gifts, key)
			} else {
				gifter := entry.Gifter
				ev.Counterpart = &gifter
				entry.Remaining--
				if entry.Remaining <= 0 {
					delete(c.gifts, key)
				}
				c.stats.Correlated++
				return
			}
		}
	}
	if ref != nil && ref.DisplayName != "" {
		return
	}
	anon := core.Anonymous
	ev.Counterpart = &anon
	c.stats.Anonymous++
}

func (c *Correlator) stackLocked(ev core.Event, now time.Time) (Outbound, bool) {
	key := stackKey(ev)
	count := ev.Gift.Count
	st, ok := c.stacks[key]
	if !ok {
		st, ok = c.reopenLocked(key, count, now)
		if st == nil && ok {
			// Late notification that adds nothing to the finalized total.
			c.stats.Duplicates++
			return Outbound{}, false
		}
	}
	if st == nil {
		started := ev.Timestamp
		if started.IsZero() {
			started = now
		}
		st = &StackingGift{
			Key:       key,
			PerUnit:   ev.Gift.PerUnit,
			StartedAt: started,
			EventID:   uuid.NewSHA1(stackNamespace, []byte(fmt.Sprintf("%s|%d", key, started.UnixNano()))).String(),
		}
	}
	if count > st.Current {
		st.Current = count
	}
	st.LastUpdate = now
	st.template = ev

	if ev.Gift.Final {
		delete(c.stacks, key)
		st.Target = st.Current
		reopened := !st.finalizedAt.IsZero()
		ob, ok := c.finalizeLocked(st, st.Current, now)
		if reopened {
			c.closed[key] = st
		}
		return ob, ok
	}

	c.stacks[key] = st
	c.stats.Updates++
	upd := st.template
	upd.ID = st.EventID
	upd.Gift = &core.Gift{Name: ev.Gift.Name, Count: st.Current, PerUnit: st.PerUnit, Stackable: true}
	upd.Amount = core.Amt(st.PerUnit * float64(st.Current))
	upd.Timestamp = st.StartedAt
	return Outbound{Event: upd, Update: true}, true
}

// reopenLocked looks up a stack recently finalized by inactivity. A count past
// its total continues it; an equal count is already covered and reports
// (nil, true); a lower count is a new combo.
func (c *Correlator) reopenLocked(key string, count int, now time.Time) (*StackingGift, bool) {
	st, ok := c.closed[key]
	if !ok {
		return nil, false
	}
	if now.Sub(st.finalizedAt) >= c.cfg.StackIdle*stackTombstoneFactor {
		delete(c.closed, key)
		return nil, false
	}
	switch {
	case count < st.Current:
		return nil, false
	case count == st.Current:
		return nil, true
	}
	delete(c.closed, key)
	return st, true
}

// finalizeLocked emits the final event for st. A stack that was reopened after
// finalizing re-emits under the same ID, which consumers treat as a correction.
func (c *Correlator) finalizeLocked(st *StackingGift, count int, now time.Time) (Outbound, bool) {
	set := c.seenLocked(st.template.Platform)
	if st.finalizedAt.IsZero() {
		if set.has(st.EventID) {
			c.stats.Duplicates++
			return Outbound{}, false
		}
		set.add(st.EventID, now)
		c.stats.Finalized++
	}
	st.finalizedAt = now

	final := st.template
	final.ID = st.EventID
	final.Gift = &core.Gift{Name: giftName(st.template), Count: count, PerUnit: st.PerUnit, Final: true, Stackable: true}
	final.Amount = core.Amt(st.PerUnit * float64(count))
	final.Timestamp = st.StartedAt
	return Outbound{Event: final}, true
}

// dedupID is the id used for redelivery suppression. Stack notifications may
// share a message id across a combo, so the running count is part of the key.
func dedupID(ev core.Event) string {
	if ev.ID == "" || ev.Gift == nil || !ev.Gift.Stackable {
		return ev.ID
	}
	if ev.Gift.Final {
		return fmt.Sprintf("%s#%d#final", ev.ID, ev.Gift.Count)
	}
	return fmt.Sprintf("%s#%d", ev.ID, ev.Gift.Count)
}

func stackKey(ev core.Event) string {
	return string(ev.Platform) + "|" + actorKey(ev.Actor) + "|" + strings.ToLower(giftName(ev))
}

func giftName(ev core.Event) string {
	if ev.Gift == nil {
		return ""
	}
	return ev.Gift.Name
}

func actorKey(a core.Actor) string {
	if a.ID != "" {
		return a.ID
	}
	return strings.ToLower(a.Username)
}
