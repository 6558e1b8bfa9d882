package ingesttrace

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/you/gnasty-live/internal/core"
)

func TestTraceIDDeterminism(t *testing.T) {
	first := New(core.PlatformTwitch, "irc", "user1", "hello world")
	second := New(core.PlatformTwitch, "irc", "user1", "hello world")
	if first.TraceID != second.TraceID {
		t.Fatalf("expected deterministic trace id, got %q and %q", first.TraceID, second.TraceID)
	}

	different := New(core.PlatformTwitch, "irc", "user1", "hello mars")
	if first.TraceID == different.TraceID {
		t.Fatalf("expected different trace id when snippet changes")
	}
}

func TestCounterIncrements(t *testing.T) {
	trace := New(core.PlatformYouTube, "live_chat_message", "user2", "hi there")

	if count := trace.Count(StageReceived); count != 1 {
		t.Fatalf("expected received to be seeded with 1, got %d", count)
	}
	if count := trace.IncCounter(StageNormalized); count != 1 {
		t.Fatalf("expected normalized_ok to be 1, got %d", count)
	}
	if count := trace.IncCounter(StageDropped("filter")); count != 1 {
		t.Fatalf("expected dropped_filter to be 1, got %d", count)
	}
	if count := trace.IncCounter(StageDropped("filter")); count != 2 {
		t.Fatalf("expected dropped_filter to be 2 after increment, got %d", count)
	}
	if count := trace.IncCounter(StageWrittenToDB); count != 1 {
		t.Fatalf("expected written_to_db to be 1, got %d", count)
	}
}

func TestNilTrackerIsInert(t *testing.T) {
	var tr *Tracker
	if got := tr.Begin(core.PlatformTikTok, "gift", "a", "b"); got != nil {
		t.Fatalf("nil tracker should not start traces")
	}
	tr.Bind(nil, core.PlatformTikTok, "x")
	tr.Mark(core.PlatformTikTok, "x", StagePublished)
	if tr.Len() != 0 {
		t.Fatalf("nil tracker length should be 0")
	}
}

func TestTrackerMarksBoundTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	tr := NewTracker(2, logger)

	trace := tr.Begin(core.PlatformTikTok, "gift", "alice", "rose")
	tr.Bind(trace, core.PlatformTikTok, "ev-1")
	tr.Mark(core.PlatformTikTok, "ev-1", StageWrittenToDB)

	if got := trace.Count(StageWrittenToDB); got != 1 {
		t.Fatalf("written_to_db = %d, want 1", got)
	}
	if !strings.Contains(buf.String(), "ev-1") {
		t.Fatalf("trace log missing event id: %s", buf.String())
	}

	// Same id on another platform is a different key.
	tr.Mark(core.PlatformTwitch, "ev-1", StageWrittenToDB)
	if got := trace.Count(StageWrittenToDB); got != 1 {
		t.Fatalf("cross-platform mark changed trace: %d", got)
	}
}

func TestTrackerEvictsOldest(t *testing.T) {
	tr := NewTracker(2, slog.Default())
	for i := 0; i < 3; i++ {
		tr.Bind(New(core.PlatformTwitch, "irc", "u", fmt.Sprint(i)), core.PlatformTwitch, fmt.Sprintf("id-%d", i))
	}
	if tr.Len() != 2 {
		t.Fatalf("tracker len = %d, want 2", tr.Len())
	}
	if tr.Lookup(core.PlatformTwitch, "id-0") != nil {
		t.Fatalf("oldest trace should have been evicted")
	}
	if tr.Lookup(core.PlatformTwitch, "id-2") == nil {
		t.Fatalf("newest trace missing")
	}
}
