package harvester

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/correlate"
	"github.com/you/gnasty-live/internal/droplog"
	"github.com/you/gnasty-live/internal/ingesttrace"
	"github.com/you/gnasty-live/internal/normalize"
)

func (h *Harvester) pump(p core.Platform, in <-chan core.RawEvent, done chan struct{}) {
	defer close(done)
	for raw := range in {
		if raw.Platform == "" {
			raw.Platform = p
		}
		h.handle(raw)
	}
}

// handle runs one raw event through normalization and correlation. A panic is
// contained to the event that caused it.
func (h *Harvester) handle(raw core.RawEvent) {
	var trace *ingesttrace.Trace
	if h.tracker != nil {
		trace = h.tracker.Begin(raw.Platform, raw.Kind, "", traceSnippet(raw))
	}
	defer func() {
		if r := recover(); r != nil {
			h.metrics.IncDropped(raw.Platform, "panic")
			trace.IncCounter(ingesttrace.StageDropped("panic"))
			h.tracker.Log(trace, "ingesttrace: panic")
			h.log.Error("harvester: recovered from panic", "platform", raw.Platform, "kind", raw.Kind, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()

	h.metrics.IncReceived(raw.Platform)
	events, err := h.norm.Normalize(raw)
	if err != nil {
		reason := "malformed"
		if !errors.Is(err, normalize.ErrMalformed) {
			reason = "error"
		}
		h.metrics.IncDropped(raw.Platform, reason)
		trace.IncCounter(ingesttrace.StageDropped(reason))
		h.tracker.Log(trace, "ingesttrace: dropped")
		return
	}
	if len(events) == 0 {
		h.metrics.IncDropped(raw.Platform, "unsupported")
		return
	}
	for _, ev := range events {
		trace.IncCounter(ingesttrace.StageNormalized)
		ob, ok := h.corr.Ingest(ev)
		if !ok {
			h.metrics.IncDuplicate(ev.Platform)
			trace.IncCounter(ingesttrace.StageDuplicate)
			continue
		}
		h.tracker.Bind(trace, ob.Event.Platform, ob.Event.ID)
		h.publish(ob)
		if ob.Update {
			trace.IncCounter(ingesttrace.StageUpdated)
		} else {
			trace.IncCounter(ingesttrace.StagePublished)
		}
	}
	h.tracker.Log(trace, "ingesttrace: published")
}

func (h *Harvester) publish(ob correlate.Outbound) {
	h.bus.Publish(ob)
	h.metrics.IncPublished(ob.Event.Platform, ob.Update)
}

// runSweeper finalizes idle gift stacks and expires gift correlations.
func (h *Harvester) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(h.sweep)
	defer ticker.Stop()
	lastLog := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.sweepOnce(now)
			if now.Sub(lastLog) >= statsLogInterval {
				h.logStats()
				lastLog = now
			}
		}
	}
}

func (h *Harvester) sweepOnce(now time.Time) {
	for _, ob := range h.corr.Sweep(now) {
		h.publish(ob)
	}
	h.metrics.ObserveCorrelator(h.corr.Stats())
}

func (h *Harvester) logStats() {
	cs := h.corr.Stats()
	bs := h.bus.Stats()
	h.log.Info("harvester: ingest",
		"ingested", humanize.Comma(int64(cs.Ingested)),
		"duplicates", humanize.Comma(int64(cs.Duplicates)),
		"correlated", humanize.Comma(int64(cs.Correlated)),
		"published", humanize.Comma(int64(bs.Published)),
		"subscriber_drops", humanize.Comma(int64(bs.Dropped)),
		"normalize_drops", humanize.Comma(int64(h.norm.DroppedTotal())),
		"subscribers", bs.Subscribers,
	)
}

func traceSnippet(raw core.RawEvent) string {
	return droplog.Sanitize(fmt.Sprintf("%v", raw.Payload), droplog.SampleMaxLen)
}
