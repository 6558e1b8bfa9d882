package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/normalize"
)

// schemaVersion 1 created the events table; 2 imported a legacy chat-only
// messages table when one was present.
const schemaVersion = 2

type sqliteColumn struct {
	Name        string
	Type        string
	NotNull     bool
	DefaultText string
}

// Migrate brings the archive up to schemaVersion. Chat lines from an older
// messages table are copied into events as chat events; the old table is kept.
func Migrate(ctx context.Context, db *sql.DB) error {
	path := sqlitePath(ctx, db)
	userVersion, err := sqliteUserVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("sqlite: user_version: %w", err)
	}
	slog.Info("sink: sqlite", "path", path, "user_version", userVersion)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}
	if userVersion >= schemaVersion {
		return nil
	}

	columns, err := sqliteTableInfo(ctx, db, "messages")
	if err != nil {
		return fmt.Errorf("sqlite: describe messages: %w", err)
	}
	if len(columns) > 0 {
		n, err := importLegacyMessages(ctx, db, columns)
		if err != nil {
			return err
		}
		slog.Info("sink: imported legacy messages", "rows", n)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version=%d;`, schemaVersion)); err != nil {
		return fmt.Errorf("sqlite: set user_version: %w", err)
	}
	return nil
}

func importLegacyMessages(ctx context.Context, db *sql.DB, columns map[string]sqliteColumn) (int64, error) {
	idCol := ""
	for _, c := range []string{"platform_msg_id", "id"} {
		if _, ok := columns[c]; ok {
			idCol = c
			break
		}
	}
	for _, required := range []string{"platform", "ts", "username", "text"} {
		if _, ok := columns[required]; !ok {
			slog.Warn("sink: legacy messages table lacks column; skipping import", "column", required)
			return 0, nil
		}
	}
	if idCol == "" {
		slog.Warn("sink: legacy messages table has no id column; skipping import")
		return 0, nil
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT platform, %s, ts, username, text FROM messages;`, idCol))
	if err != nil {
		return 0, fmt.Errorf("sqlite: read messages: %w", err)
	}
	var events []core.Event
	for rows.Next() {
		var (
			platform, username, text string
			id                       sql.NullString
			ts                       any
		)
		if err := rows.Scan(&platform, &id, &ts, &username, &text); err != nil {
			rows.Close()
			return 0, fmt.Errorf("sqlite: scan message: %w", err)
		}
		p, ok := core.ParsePlatform(platform)
		if !ok {
			continue
		}
		at := legacyTime(ts)
		ev := core.Event{
			Platform:  p,
			Type:      core.TypeChat,
			ID:        strings.TrimSpace(id.String),
			Actor:     core.Actor{Username: strings.ToLower(username), DisplayName: username},
			Message:   text,
			Timestamp: at,
		}
		if ev.ID == "" {
			ev.ID = normalize.SynthID(string(p), "legacy", username, strconv.FormatInt(at.UnixNano(), 10), text)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("sqlite: iterate messages: %w", err)
	}
	rows.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin import: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (platform, id, type, ts, username, display_name, message, event_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(platform, id) DO NOTHING;`)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("sqlite: prepare import: %w", err)
	}
	defer stmt.Close()

	var imported int64
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("sqlite: encode legacy message: %w", err)
		}
		res, err := stmt.ExecContext(ctx, string(ev.Platform), ev.ID, string(ev.Type), ev.Timestamp.UnixMilli(),
			ev.Actor.Username, ev.Actor.DisplayName, ev.Message, string(payload))
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("sqlite: import message: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			imported += n
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit import: %w", err)
	}
	return imported, nil
}

// legacyTime accepts the RFC3339 text and unix second/millisecond integers
// older schemas used.
func legacyTime(v any) time.Time {
	switch t := v.(type) {
	case int64:
		if t > 1e12 {
			return fromMillis(t)
		}
		return time.Unix(t, 0).UTC()
	case float64:
		return legacyTime(int64(t))
	case []byte:
		return legacyTime(string(t))
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UTC()
		}
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return legacyTime(n)
		}
	case time.Time:
		return t.UTC()
	}
	return time.Unix(0, 0).UTC()
}

func sqlitePath(ctx context.Context, db *sql.DB) string {
	rows, err := db.QueryContext(ctx, `PRAGMA database_list;`)
	if err != nil {
		return "(unknown)"
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int
			name string
			file sql.NullString
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return "(unknown)"
		}
		if strings.EqualFold(strings.TrimSpace(name), "main") {
			if file.Valid && strings.TrimSpace(file.String) != "" {
				return file.String
			}
			return "(memory)"
		}
	}
	return "(unknown)"
}

func sqliteUserVersion(ctx context.Context, db *sql.DB) (int, error) {
	var userVersion int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&userVersion); err != nil {
		return 0, err
	}
	return userVersion, nil
}

func sqliteTableInfo(ctx context.Context, db *sql.DB, table string) (map[string]sqliteColumn, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]sqliteColumn)
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		lower := strings.ToLower(strings.TrimSpace(name))
		out[lower] = sqliteColumn{
			Name:        name,
			Type:        strings.TrimSpace(colType),
			NotNull:     notNull == 1,
			DefaultText: strings.TrimSpace(defaultVal.String),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
