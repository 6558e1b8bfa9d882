package harvester

import (
	"context"
	"log/slog"

	"github.com/you/gnasty-live/internal/core"
)

// TokenWatcher is implemented by credentials.Manager.
type TokenWatcher interface {
	WatchFiles(ctx context.Context, files map[string]core.Platform, onChange func(core.Platform)) error
}

// WatchTokenFiles restarts a platform's connector whenever its token file
// changes on disk, so a hand-edited or externally refreshed token takes effect
// without restarting the process.
func (h *Harvester) WatchTokenFiles(ctx context.Context, w TokenWatcher, files map[string]core.Platform) error {
	if len(files) == 0 {
		return nil
	}
	return w.WatchFiles(ctx, files, func(p core.Platform) {
		if err := h.Restart(p); err != nil {
			slog.Error("harvester: restart after token change failed", "platform", p, "err", err)
		}
	})
}
