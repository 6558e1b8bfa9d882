// Package normalize maps platform-shaped raw events onto core.Event.
//
// Message text is HTML-escaped; recognized emotes and emoji shortcodes are
// replaced by <img> markup. Image references come from an assets.Resolver, which
// never blocks, so an unresolved emoji is left as plain text.
package normalize

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/you/gnasty-live/internal/assets"
	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/droplog"
)

// ErrMalformed is returned for payloads that cannot be mapped at all.
var ErrMalformed = errors.New("normalize: malformed payload")

var (
	idNamespace   = uuid.NewSHA1(uuid.NameSpaceURL, []byte("gnasty-live/event"))
	shortcodeRe   = regexp.MustCompile(`:[A-Za-z0-9_+\-]{2,64}:`)
	nopResolver   = resolverFunc(func(assets.Kind, string) (string, bool) { return "", false })
	defaultSource = "normalize"
)

type resolverFunc func(kind assets.Kind, key string) (string, bool)

func (f resolverFunc) Resolve(kind assets.Kind, key string) (string, bool) { return f(kind, key) }

// Normalizer is stateless apart from its drop summary and is safe for concurrent use.
type Normalizer struct {
	assets assets.Resolver
	drops  *droplog.Logger
	now    func() time.Time
}

func New(res assets.Resolver) *Normalizer {
	if res == nil {
		res = nopResolver
	}
	return &Normalizer{
		assets: res,
		drops:  droplog.New(defaultSource, time.Now(), droplog.DebugEnv("GNASTY_NORMALIZE_DEBUG_DROPS"), 0),
		now:    time.Now,
	}
}

// Normalize maps one raw event. Kinds that carry nothing for consumers return
// no events and a nil error.
func (n *Normalizer) Normalize(raw core.RawEvent) ([]core.Event, error) {
	var (
		events []core.Event
		err    error
	)
	switch raw.Platform {
	case core.PlatformTwitch:
		events, err = n.twitch(raw)
	case core.PlatformYouTube:
		events, err = n.youtube(raw)
	case core.PlatformTikTok:
		events, err = n.tiktok(raw)
	default:
		err = fmt.Errorf("%w: unknown platform %q", ErrMalformed, raw.Platform)
	}
	if err != nil {
		n.drops.Note(n.now(), "malformed", droplog.Item{Kind: string(raw.Platform) + "/" + raw.Kind, Sample: droplog.Sanitize(err.Error(), droplog.SampleMaxLen)})
		return nil, err
	}
	for i := range events {
		events[i].Platform = raw.Platform
		if events[i].Timestamp.IsZero() {
			events[i].Timestamp = received(raw)
		}
		events[i].Raw = raw.Payload
	}
	return events, nil
}

// DroppedTotal is the number of raw events that produced nothing.
func (n *Normalizer) DroppedTotal() int { return n.drops.Total() }

func (n *Normalizer) unsupported(raw core.RawEvent, kind string) {
	n.drops.Note(n.now(), "unsupported", droplog.Item{Kind: string(raw.Platform) + "/" + kind})
}

func received(raw core.RawEvent) time.Time {
	if raw.Received.IsZero() {
		return time.Now().UTC()
	}
	return raw.Received.UTC()
}

// SynthID derives a stable id from the given parts for sources that carry none.
func SynthID(parts ...string) string {
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "\x1f"))).String()
}

// escapeWithEmoji escapes text and swaps :shortcode: tokens the resolver knows
// for image markup.
func (n *Normalizer) escapeWithEmoji(text string) string {
	escaped := html.EscapeString(text)
	return shortcodeRe.ReplaceAllStringFunc(escaped, func(code string) string {
		ref, ok := n.assets.Resolve(assets.KindEmoji, code)
		if !ok {
			return code
		}
		return imgTag("emoji", ref, code)
	})
}

func imgTag(class, src, alt string) string {
	return fmt.Sprintf(`<img class="%s" src="%s" alt="%s">`, class, html.EscapeString(src), html.EscapeString(alt))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
