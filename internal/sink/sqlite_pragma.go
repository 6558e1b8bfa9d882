package sink

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/pkg/errors"
)

// archivePragmas always run. The archive pump writes while the API reads, so
// WAL and a busy timeout are required rather than tuning.
var archivePragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA busy_timeout=5000;",
}

// burstPragmas favour write throughput for streams where gift combos and chat
// arrive in bursts. Enabled with GNASTY_SQLITE_TUNING=1.
var burstPragmas = []string{
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA wal_autocheckpoint=1000;",
	"PRAGMA temp_store=MEMORY;",
	"PRAGMA mmap_size=268435456;",
}

func burstTuningEnabled() bool {
	return os.Getenv("GNASTY_SQLITE_TUNING") == "1" || os.Getenv("GN_SQLITE_TUNING") == "1"
}

// prepareArchive applies the archive pragmas, failing on any of them, then the
// burst tuning when enabled. Tuning failures are only logged.
func prepareArchive(ctx context.Context, db *sql.DB, burst bool) error {
	for _, pragma := range archivePragmas {
		if _, err := pragmaValue(ctx, db, pragma); err != nil {
			return errors.Wrapf(err, "apply %q", pragma)
		}
	}
	if !burst {
		return nil
	}
	for _, pragma := range burstPragmas {
		value, err := pragmaValue(ctx, db, pragma)
		if err != nil {
			slog.Warn("sink: burst tuning skipped", "pragma", pragma, "err", err)
			continue
		}
		slog.Info("sink: burst tuning applied", "pragma", pragma, "value", value)
	}
	return nil
}

// pragmaValue runs pragma and returns the value SQLite reports, or "ok" for
// pragmas that report nothing.
func pragmaValue(ctx context.Context, db *sql.DB, pragma string) (any, error) {
	var value any
	err := db.QueryRowContext(ctx, pragma).Scan(&value)
	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, err
		}
		return "ok", nil
	default:
		return nil, err
	}
}
