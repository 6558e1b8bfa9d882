package sink

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/you/gnasty-live/internal/bus"
	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/correlate"
	"github.com/you/gnasty-live/internal/httpapi"
)

func openTestSink(t *testing.T) *SQLiteSink {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleEvents(base time.Time) []core.Event {
	return []core.Event{
		{Platform: core.PlatformTwitch, Type: core.TypeChat, ID: "t1", Actor: core.Actor{Username: "alice", DisplayName: "Alice"}, Message: "hi", Timestamp: base},
		{Platform: core.PlatformYouTube, Type: core.TypeSuperchat, ID: "y1", Actor: core.Actor{Username: "bob", DisplayName: "Bob B"}, Amount: core.Amt(5), Currency: "USD", Timestamp: base.Add(time.Minute)},
		{Platform: core.PlatformTikTok, Type: core.TypeGift, ID: "k1", Actor: core.Actor{Username: "carol", DisplayName: "Carol"}, Amount: core.Amt(10), Currency: "diamonds",
			Gift: &core.Gift{Name: "Rose", Count: 10, PerUnit: 1, Final: true}, Timestamp: base.Add(2 * time.Minute)},
	}
}

func TestSQLiteWriteAndList(t *testing.T) {
	s := openTestSink(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, ev := range sampleEvents(base) {
		if err := s.Write(ev); err != nil {
			t.Fatalf("write %s: %v", ev.ID, err)
		}
	}
	// Re-archiving the same id is ignored.
	dup := sampleEvents(base)[0]
	dup.Message = "changed"
	if err := s.Write(dup); err != nil {
		t.Fatalf("write duplicate: %v", err)
	}

	ctx := context.Background()
	all, err := s.ListEvents(ctx, httpapi.Filters{Order: httpapi.OrderAsc})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("listed %d events, want 3", len(all))
	}
	if all[0].ID != "t1" || all[0].Message != "hi" {
		t.Fatalf("first event = %+v", all[0])
	}
	if all[2].Gift == nil || all[2].Gift.Count != 10 || all[2].AmountValue() != 10 {
		t.Fatalf("gift event did not round trip: %+v", all[2])
	}
	if !all[1].Timestamp.Equal(base.Add(time.Minute)) {
		t.Fatalf("timestamp = %v", all[1].Timestamp)
	}

	tests := []struct {
		name    string
		filters httpapi.Filters
		want    []string
	}{
		{name: "platform", filters: httpapi.Filters{Platforms: []string{"youtube"}}, want: []string{"y1"}},
		{name: "type", filters: httpapi.Filters{Types: []string{"gift", "chat"}, Order: httpapi.OrderAsc}, want: []string{"t1", "k1"}},
		{name: "username matches display name", filters: httpapi.Filters{Usernames: []string{"bob b"}}, want: []string{"y1"}},
		{name: "since", filters: func() httpapi.Filters {
			since := base.Add(90 * time.Second)
			return httpapi.Filters{Since: &since}
		}(), want: []string{"k1"}},
		{name: "limit newest first", filters: httpapi.Filters{Limit: 2}, want: []string{"k1", "y1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.ListEvents(ctx, tc.filters)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %d events, want %v", len(got), tc.want)
			}
			for i, id := range tc.want {
				if got[i].ID != id {
					t.Fatalf("event %d = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}

	n, err := s.CountEvents(ctx, httpapi.Filters{Platforms: []string{"twitch", "tiktok"}})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestSQLiteGiftCorrectionReplacesTotal(t *testing.T) {
	s := openTestSink(t)
	gift := sampleEvents(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))[2]
	if err := s.Write(gift); err != nil {
		t.Fatalf("write: %v", err)
	}
	gift.Gift = &core.Gift{Name: "Rose", Count: 14, PerUnit: 1, Final: true}
	gift.Amount = core.Amt(14)
	if err := s.Write(gift); err != nil {
		t.Fatalf("write correction: %v", err)
	}

	got, err := s.ListEvents(context.Background(), httpapi.Filters{Platforms: []string{"tiktok"}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("listed %d events, want 1", len(got))
	}
	if got[0].AmountValue() != 14 || got[0].Gift == nil || got[0].Gift.Count != 14 {
		t.Fatalf("gift after correction = %+v", got[0])
	}
}

func TestMigrateImportsLegacyMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	legacy := `CREATE TABLE messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  platform TEXT NOT NULL,
  platform_msg_id TEXT,
  ts INTEGER NOT NULL,
  username TEXT NOT NULL,
  text TEXT NOT NULL
);
INSERT INTO messages (platform, platform_msg_id, ts, username, text) VALUES
  ('Twitch', 'abc', 1700000000, 'Alice', 'hello'),
  ('twitch', 'abc', 1700000001, 'Alice', 'hello again'),
  ('YouTube', NULL, 1700000002000, 'bob', 'hi'),
  ('myspace', 'zzz', 1, 'eve', 'ignored');`
	if _, err := db.Exec(legacy); err != nil {
		t.Fatalf("create legacy schema: %v", err)
	}
	_ = db.Close()

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open with migration: %v", err)
	}
	defer s.Close()

	got, err := s.ListEvents(context.Background(), httpapi.Filters{Order: httpapi.OrderAsc})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("imported %d events, want 2: %+v", len(got), got)
	}
	if got[0].ID != "abc" || got[0].Platform != core.PlatformTwitch || got[0].Message != "hello" {
		t.Fatalf("first import = %+v", got[0])
	}
	if got[0].Actor.Username != "alice" {
		t.Fatalf("username not lowered: %q", got[0].Actor.Username)
	}
	if got[1].ID == "" || got[1].Platform != core.PlatformYouTube {
		t.Fatalf("second import = %+v", got[1])
	}
	if want := time.UnixMilli(1700000002000).UTC(); !got[1].Timestamp.Equal(want) {
		t.Fatalf("millisecond timestamp = %v, want %v", got[1].Timestamp, want)
	}

	version, err := sqliteUserVersion(context.Background(), s.db)
	if err != nil {
		t.Fatalf("user_version: %v", err)
	}
	if version != schemaVersion {
		t.Fatalf("user_version = %d, want %d", version, schemaVersion)
	}
}

func TestArchiverSkipsUpdates(t *testing.T) {
	b := bus.New(bus.Config{})
	base := &recordingWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		Archive(ctx, b, base, nil)
	}()

	deadline := time.Now().Add(time.Second)
	for b.Stats().Subscribers == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("archiver never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	gift := core.Event{Platform: core.PlatformTikTok, Type: core.TypeGift, ID: "stack", Gift: &core.Gift{Count: 2, Stackable: true}}
	b.Publish(correlate.Outbound{Event: gift, Update: true})
	gift.Gift = &core.Gift{Count: 4, Final: true, Stackable: true}
	b.Publish(correlate.Outbound{Event: gift})
	b.SetConnectionState(core.PlatformTikTok, core.Connected(""))

	deadline = time.Now().Add(time.Second)
	for base.Count() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("final event was not archived")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	base.mu.Lock()
	defer base.mu.Unlock()
	if len(base.events) != 1 || base.events[0].Gift.Count != 4 {
		t.Fatalf("archived %+v, want only the final gift", base.events)
	}
}

func TestPrepareArchiveSetsWALAndBurstTuning(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "tuned.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := prepareArchive(ctx, db, true); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
	var timeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout;").Scan(&timeout); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", timeout)
	}
	var sync int
	if err := db.QueryRowContext(ctx, "PRAGMA synchronous;").Scan(&sync); err != nil {
		t.Fatalf("synchronous: %v", err)
	}
	if sync != 1 {
		t.Fatalf("synchronous = %d, want NORMAL (1)", sync)
	}
}
