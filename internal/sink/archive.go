package sink

import (
	"context"
	"log/slog"

	"github.com/you/gnasty-live/internal/bus"
)

// Archiver copies final events from the bus into a Writer. In-progress updates
// are skipped; the final event that supersedes them carries the same id.
type Archiver struct {
	w       Writer
	onError func(error)
}

func NewArchiver(w Writer, onError func(error)) *Archiver {
	if onError == nil {
		onError = func(error) {}
	}
	return &Archiver{w: w, onError: onError}
}

// Run consumes events until ctx is done or the channel is closed.
func (a *Archiver) Run(ctx context.Context, events <-chan bus.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-events:
			if !ok {
				return
			}
			a.handle(d)
		}
	}
}

func (a *Archiver) handle(d bus.Delivery) {
	if d.Update || d.Event.ID == "" {
		return
	}
	if err := a.w.Write(d.Event); err != nil {
		slog.Error("sink: archive write failed", "platform", d.Event.Platform, "id", d.Event.ID, "err", err)
		a.onError(err)
	}
}

// Archive subscribes to b and archives into w until ctx is done. The
// subscription is released on return.
func Archive(ctx context.Context, b *bus.Bus, w Writer, onError func(error)) {
	events, states, unsubscribe := b.Subscribe()
	defer unsubscribe()
	go func() {
		for range states {
		}
	}()
	NewArchiver(w, onError).Run(ctx, events)
}

var (
	_ Writer = (*SQLiteSink)(nil)
	_ Writer = (*BufferedWriter)(nil)
)
