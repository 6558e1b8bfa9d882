package credentials

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/you/gnasty-live/internal/core"
)

const watchDebounce = 250 * time.Millisecond

// WatchFiles reloads tokens when their files change on disk and calls onChange
// for every platform whose access token changed. Writes are debounced per burst.
func (m *Manager) WatchFiles(ctx context.Context, files map[string]core.Platform, onChange func(core.Platform)) error {
	if onChange == nil {
		onChange = func(core.Platform) {}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	added := false
	for path := range files {
		if path == "" {
			continue
		}
		if err := w.Add(path); err != nil {
			slog.Error("credentials: watch add", "path", path, "err", err)
			continue
		}
		added = true
	}
	if !added {
		w.Close()
		return nil
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		dirty := make(map[core.Platform]struct{})
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil {
						slog.Error("credentials: watch re-add", "path", ev.Name, "err", err)
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if p, ok := files[ev.Name]; ok {
					dirty[p] = struct{}{}
				}
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(watchDebounce)
			case <-debounce.C:
				for p := range dirty {
					changed, err := m.Reload(p)
					if err != nil {
						slog.Error("credentials: token reload failed", "platform", p, "err", err)
						continue
					}
					if changed {
						slog.Info("credentials: token file changed", "platform", p)
						onChange(p)
					}
				}
				clear(dirty)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("credentials: watch error", "err", err)
			}
		}
	}()
	return nil
}
