// Package sink archives final events from the bus into SQLite and serves them
// back for the HTTP archive query.
package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/httpapi"
)

const schema = `CREATE TABLE IF NOT EXISTS events (
  platform TEXT NOT NULL,
  id TEXT NOT NULL,
  type TEXT NOT NULL,
  ts INTEGER NOT NULL,
  username TEXT NOT NULL DEFAULT '',
  display_name TEXT NOT NULL DEFAULT '',
  counterpart TEXT NOT NULL DEFAULT '',
  amount REAL,
  currency TEXT NOT NULL DEFAULT '',
  message TEXT NOT NULL DEFAULT '',
  event_json TEXT NOT NULL,
  PRIMARY KEY (platform, id)
);
CREATE INDEX IF NOT EXISTS events_ts ON events(ts);`

type SQLiteSink struct {
	db *sql.DB
}

const defaultListLimit = 100

func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if err := prepareArchive(context.Background(), db, burstTuningEnabled()); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "prepare archive")
	}
	if err := Migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }

// Write stores a final event. Events already archived under the same platform
// and id are left untouched, except gifts: a stack re-finalized under its id
// replaces the earlier total.
func (s *SQLiteSink) Write(ev core.Event) error {
	const q = `INSERT INTO events (platform, id, type, ts, username, display_name, counterpart, amount, currency, message, event_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(platform, id) DO UPDATE SET amount = excluded.amount, event_json = excluded.event_json
WHERE events.type = 'gift' AND excluded.type = 'gift';`
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	var counterpart string
	if ev.Counterpart != nil {
		counterpart = firstNonEmpty(ev.Counterpart.Username, ev.Counterpart.DisplayName, ev.Counterpart.ID)
	}
	var amount any
	if ev.Amount != nil {
		amount = *ev.Amount
	}
	_, err = s.db.Exec(q,
		string(ev.Platform), ev.ID, string(ev.Type), ev.Timestamp.UTC().UnixMilli(),
		ev.Actor.Username, ev.Actor.DisplayName, counterpart, amount, ev.Currency, ev.Message,
		string(payload))
	return errors.Wrap(err, "insert event")
}

func (s *SQLiteSink) Ping() error {
	return s.db.Ping()
}

func (s *SQLiteSink) String() string {
	return fmt.Sprintf("SQLiteSink{%p}", s.db)
}

func (s *SQLiteSink) CountEvents(ctx context.Context, filters httpapi.Filters) (int64, error) {
	query, args := buildEventQuery(filters, true)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return n, nil
}

func (s *SQLiteSink) ListEvents(ctx context.Context, filters httpapi.Filters) ([]core.Event, error) {
	query, args := buildEventQuery(filters, false)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	defer rows.Close()

	out := make([]core.Event, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		var ev core.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, errors.Wrap(err, "decode event")
		}
		out = append(out, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate events")
	}
	return out, nil
}

func buildEventQuery(filters httpapi.Filters, count bool) (string, []any) {
	var builder strings.Builder
	if count {
		builder.WriteString("SELECT COUNT(*) FROM events")
	} else {
		builder.WriteString("SELECT event_json FROM events")
	}

	var (
		conditions []string
		args       []any
	)

	if len(filters.Platforms) > 0 {
		conditions = append(conditions, inClause("platform", filters.Platforms, &args))
	}

	if len(filters.Types) > 0 {
		conditions = append(conditions, inClause("type", filters.Types, &args))
	}

	if len(filters.Usernames) > 0 {
		ors := make([]string, 0, len(filters.Usernames))
		for _, u := range filters.Usernames {
			ors = append(ors, "(LOWER(username) LIKE '%' || ? || '%' OR LOWER(display_name) LIKE '%' || ? || '%')")
			args = append(args, u, u)
		}
		conditions = append(conditions, fmt.Sprintf("(%s)", strings.Join(ors, " OR ")))
	}

	if filters.Since != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, filters.Since.UTC().UnixMilli())
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	if !count {
		order := "DESC"
		if filters.Order == httpapi.OrderAsc {
			order = "ASC"
		}
		builder.WriteString(" ORDER BY ts ")
		builder.WriteString(order)
		limit := filters.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		builder.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	builder.WriteString(";")
	return builder.String(), args
}

func inClause(column string, values []string, args *[]any) string {
	placeholders := make([]string, 0, len(values))
	for _, v := range values {
		placeholders = append(placeholders, "?")
		*args = append(*args, v)
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ","))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
