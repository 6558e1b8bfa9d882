package twitchirc

import "sync/atomic"

// Stats tracks ingest counters for one client.
type Stats struct {
	Sessions atomic.Int64
	Seen     atomic.Int64
	Emitted  atomic.Int64
	Dropped  atomic.Int64
}

type StatsSnapshot struct {
	Sessions int64
	Seen     int64
	Emitted  int64
	Dropped  int64
}

func (s *Stats) Snapshot() StatsSnapshot {
	if s == nil {
		return StatsSnapshot{}
	}
	return StatsSnapshot{
		Sessions: s.Sessions.Load(),
		Seen:     s.Seen.Load(),
		Emitted:  s.Emitted.Load(),
		Dropped:  s.Dropped.Load(),
	}
}
