// Package ingesttrace counts how far individual events travel through the
// ingest pipeline: received from a connector, normalized, published on the bus
// and written to the archive.
package ingesttrace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/you/gnasty-live/internal/core"
)

// Stage represents a pipeline stage used for tracking event processing.
type Stage string

const (
	StageReceived    Stage = "received"
	StageNormalized  Stage = "normalized_ok"
	StagePublished   Stage = "published"
	StageUpdated     Stage = "published_update"
	StageDuplicate   Stage = "duplicate"
	StageWrittenToDB Stage = "written_to_db"

	StageDroppedPrefix = "dropped_"
)

const defaultTrackerCapacity = 4096

// StageDropped creates a Stage for a dropped event with the given reason.
func StageDropped(reason string) Stage {
	return Stage(fmt.Sprintf("%s%s", StageDroppedPrefix, reason))
}

// Trace captures metadata for one raw event throughout the ingest pipeline.
type Trace struct {
	Platform core.Platform
	Kind     string
	Actor    string
	Snippet  string
	TraceID  string

	mu       sync.Mutex
	eventIDs []string
	counters map[Stage]int64
}

// New constructs a trace for a raw event and seeds the received counter.
func New(platform core.Platform, kind, actor, snippet string) *Trace {
	trace := &Trace{
		Platform: platform,
		Kind:     kind,
		Actor:    actor,
		Snippet:  snippet,
		TraceID:  computeTraceID(string(platform), kind, actor, snippet),
		counters: make(map[Stage]int64),
	}

	trace.counters[StageReceived] = 1
	return trace
}

// IncCounter increments the counter for the provided stage and returns the updated value.
func (t *Trace) IncCounter(stage Stage) int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counters[stage]++
	return t.counters[stage]
}

// Count returns the current value for stage.
func (t *Trace) Count(stage Stage) int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[stage]
}

// LogTrace logs the trace metadata and counters using structured logging.
func (t *Trace) LogTrace(logger *slog.Logger, msg string) {
	if t == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	t.mu.Lock()
	ids := append([]string(nil), t.eventIDs...)
	t.mu.Unlock()

	logger.Info(msg,
		"trace_id", t.TraceID,
		"platform", t.Platform,
		"kind", t.Kind,
		"actor", t.Actor,
		"snippet", t.Snippet,
		"event_ids", ids,
		"counters", t.snapshotCounters(),
	)
}

func (t *Trace) addEventID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.eventIDs {
		if existing == id {
			return
		}
	}
	t.eventIDs = append(t.eventIDs, id)
}

func (t *Trace) snapshotCounters() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	copy := make(map[Stage]int64, len(t.counters))
	for stage, count := range t.counters {
		copy[stage] = count
	}

	return copy
}

func computeTraceID(platform, kind, actor, snippet string) string {
	digest := sha256.Sum256([]byte(platform + "\x1f" + kind + "\x1f" + actor + "\x1f" + snippet))
	return hex.EncodeToString(digest[:])
}

// Tracker remembers recent traces by the event ids they produced so stages that
// only see the published event (the archive) can find the trace again. A nil
// *Tracker disables tracing; every method is safe to call on it.
type Tracker struct {
	logger   *slog.Logger
	capacity int

	mu    sync.Mutex
	byKey map[string]*Trace
	order []string
}

func NewTracker(capacity int, logger *slog.Logger) *Tracker {
	if capacity <= 0 {
		capacity = defaultTrackerCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:   logger,
		capacity: capacity,
		byKey:    make(map[string]*Trace),
	}
}

// Begin starts a trace for a raw event. It returns nil when tracking is disabled.
func (tr *Tracker) Begin(platform core.Platform, kind, actor, snippet string) *Trace {
	if tr == nil {
		return nil
	}
	return New(platform, kind, actor, snippet)
}

// Bind associates an event id with trace t.
func (tr *Tracker) Bind(t *Trace, platform core.Platform, eventID string) {
	if tr == nil || t == nil || eventID == "" {
		return
	}
	t.addEventID(eventID)
	key := string(platform) + "#" + eventID

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, ok := tr.byKey[key]; !ok {
		tr.order = append(tr.order, key)
	}
	tr.byKey[key] = t
	for len(tr.order) > tr.capacity {
		delete(tr.byKey, tr.order[0])
		tr.order = tr.order[1:]
	}
}

// Lookup returns the trace bound to the event id, if it is still remembered.
func (tr *Tracker) Lookup(platform core.Platform, eventID string) *Trace {
	if tr == nil {
		return nil
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.byKey[string(platform)+"#"+eventID]
}

// Mark increments stage on the trace bound to the event id and logs it.
func (tr *Tracker) Mark(platform core.Platform, eventID string, stage Stage) {
	t := tr.Lookup(platform, eventID)
	if t == nil {
		return
	}
	t.IncCounter(stage)
	t.LogTrace(tr.logger, "ingesttrace: "+string(stage))
}

// Log emits t through the tracker's logger.
func (tr *Tracker) Log(t *Trace, msg string) {
	if tr == nil || t == nil {
		return
	}
	t.LogTrace(tr.logger, msg)
}

// Len is the number of remembered event ids.
func (tr *Tracker) Len() int {
	if tr == nil {
		return 0
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.byKey)
}
