package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/correlate"
)

func final(p core.Platform, id string) correlate.Outbound {
	return correlate.Outbound{Event: core.Event{Platform: p, Type: core.TypeChat, ID: id}}
}

func TestPublishBuffersPerPlatform(t *testing.T) {
	b := New(Config{RingSize: 3})
	for i := 0; i < 5; i++ {
		b.Publish(final(core.PlatformTwitch, fmt.Sprintf("t%d", i)))
	}
	b.Publish(final(core.PlatformYouTube, "y0"))

	snap := b.Snapshot()
	tw := snap.Events[core.PlatformTwitch]
	if len(tw) != 3 || tw[0].ID != "t2" || tw[2].ID != "t4" {
		t.Fatalf("unexpected twitch ring %+v", tw)
	}
	if len(snap.Events[core.PlatformYouTube]) != 1 {
		t.Fatalf("youtube ring should be independent")
	}
	if snap.UpdatedAt.IsZero() {
		t.Fatalf("updatedAt not set")
	}
}

func TestUpdatesReplaceBufferedEntry(t *testing.T) {
	b := New(Config{})
	upd := correlate.Outbound{Event: core.Event{Platform: core.PlatformTikTok, ID: "stack", Amount: core.Amt(5)}, Update: true}
	b.Publish(upd)
	if got := len(b.Snapshot().Events[core.PlatformTikTok]); got != 0 {
		t.Fatalf("update without a buffered entry should be fan-out only, ring=%d", got)
	}
	b.Publish(correlate.Outbound{Event: core.Event{Platform: core.PlatformTikTok, ID: "stack", Amount: core.Amt(50)}})
	upd.Event.Amount = core.Amt(1)
	b.Publish(upd)
	ring := b.Snapshot().Events[core.PlatformTikTok]
	if len(ring) != 1 || ring[0].AmountValue() != 1 {
		t.Fatalf("expected in-place replacement, got %+v", ring)
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := New(Config{SubscriberBuffer: 2})
	events, _, unsubscribe := b.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(final(core.PlatformTwitch, fmt.Sprintf("m%d", i)))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a stalled subscriber")
	}

	first := <-events
	second := <-events
	if first.Event.ID != "m8" || second.Event.ID != "m9" {
		t.Fatalf("expected newest items kept, got %s %s", first.Event.ID, second.Event.ID)
	}
	if b.Stats().Dropped != 8 {
		t.Fatalf("dropped = %d", b.Stats().Dropped)
	}
}

func TestRepeatedStatesAreDelivered(t *testing.T) {
	b := New(Config{})
	_, states, unsubscribe := b.Subscribe()
	defer unsubscribe()

	s := core.Connected("")
	b.SetConnectionState(core.PlatformYouTube, s)
	b.SetConnectionState(core.PlatformYouTube, s)
	for i := 0; i < 2; i++ {
		select {
		case got := <-states:
			if got.Platform != core.PlatformYouTube || got.State.Status != core.StatusConnected {
				t.Fatalf("unexpected state %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatalf("state %d not delivered", i)
		}
	}
	if b.State(core.PlatformYouTube).Status != core.StatusConnected {
		t.Fatalf("state not recorded")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New(Config{})
	events, states, unsubscribe := b.Subscribe()
	if b.Stats().Subscribers != 1 {
		t.Fatalf("expected one subscriber")
	}
	unsubscribe()
	unsubscribe()
	if _, ok := <-events; ok {
		t.Fatalf("events channel should be closed")
	}
	if _, ok := <-states; ok {
		t.Fatalf("states channel should be closed")
	}
	if b.Stats().Subscribers != 0 {
		t.Fatalf("subscriber not released")
	}
	b.Publish(final(core.PlatformTwitch, "after"))
}

func TestSnapshotIsACopy(t *testing.T) {
	b := New(Config{})
	b.Publish(final(core.PlatformTwitch, "a"))
	snap := b.Snapshot()
	snap.Events[core.PlatformTwitch][0].ID = "mutated"
	if b.Snapshot().Events[core.PlatformTwitch][0].ID != "a" {
		t.Fatalf("snapshot shares memory with the bus")
	}
	if len(snap.States) != len(core.Platforms) {
		t.Fatalf("expected a state per platform, got %d", len(snap.States))
	}
}
