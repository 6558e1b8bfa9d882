package credentials

import (
	"context"
	"log/slog"
	"time"

	"github.com/you/gnasty-live/internal/core"
)

// StartAuto refreshes p's token at 85% of its lifetime until ctx is done.
// Tokens without a known expiry are refreshed after a minute, after which the
// exchange reports one.
func (m *Manager) StartAuto(ctx context.Context, p core.Platform) {
	go func() {
		wait := time.Minute
		if tok, ok := m.Token(p); ok && !tok.Expiry.IsZero() {
			wait = intervalFrom(time.Until(tok.Expiry))
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()

		backoff := time.Second
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			if !m.RefreshAccessToken(ctx, p) {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("credentials: auto-refresh failed", "platform", p, "retry_in", backoff)
				timer.Reset(backoff)
				if backoff < time.Minute {
					backoff *= 2
					if backoff > time.Minute {
						backoff = time.Minute
					}
				}
				continue
			}

			backoff = time.Second
			next := time.Hour
			if tok, ok := m.Token(p); ok && !tok.Expiry.IsZero() {
				next = time.Until(tok.Expiry)
			}
			timer.Reset(intervalFrom(next))
		}
	}()
}

func intervalFrom(exp time.Duration) time.Duration {
	next := time.Duration(float64(exp) * 0.85)
	if next < time.Minute {
		next = time.Minute
	}
	return next
}
