package credentials

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/you/gnasty-live/internal/core"
)

const credentialsSchema = `CREATE TABLE IF NOT EXISTS credentials (
  platform TEXT PRIMARY KEY,
  access_token TEXT NOT NULL DEFAULT '',
  refresh_token TEXT NOT NULL DEFAULT '',
  expiry TEXT NOT NULL DEFAULT '',
  updated_at TEXT NOT NULL
);`

// SQLiteStore keeps tokens in a single table, one row per platform.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open credentials db")
	}
	if _, err := db.Exec(credentialsSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply credentials schema")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Load(p core.Platform) (Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var tok Token
	var expiry string
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expiry FROM credentials WHERE platform = ?`, string(p),
	).Scan(&tok.Access, &tok.Refresh, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNoToken
	}
	if err != nil {
		return Token{}, errors.Wrapf(err, "load %s credentials", p)
	}
	if expiry != "" {
		if ts, err := time.Parse(time.RFC3339Nano, expiry); err == nil {
			tok.Expiry = ts
		}
	}
	tok.Access = BareToken(tok.Access)
	return tok, nil
}

// Save upserts the row. An empty refresh token keeps the stored one.
func (s *SQLiteStore) Save(p core.Platform, tok Token) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	expiry := ""
	if !tok.Expiry.IsZero() {
		expiry = tok.Expiry.UTC().Format(time.RFC3339Nano)
	}
	const q = `INSERT INTO credentials (platform, access_token, refresh_token, expiry, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(platform) DO UPDATE SET
  access_token = excluded.access_token,
  refresh_token = CASE WHEN excluded.refresh_token = '' THEN credentials.refresh_token ELSE excluded.refresh_token END,
  expiry = excluded.expiry,
  updated_at = excluded.updated_at;`
	_, err := s.db.ExecContext(ctx, q, string(p), BareToken(tok.Access), tok.Refresh, expiry, time.Now().UTC().Format(time.RFC3339Nano))
	return errors.Wrapf(err, "save %s credentials", p)
}
