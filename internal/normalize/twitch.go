package normalize

import (
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"

	"github.com/gempir/go-twitch-irc/v4"

	"github.com/you/gnasty-live/internal/assets"
	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/twitchbadges"
	"github.com/you/gnasty-live/internal/twitchirc"
)

const emoteURL = "https://static-cdn.jtvnw.net/emoticons/v2/%s/default/dark/1.0"

func (n *Normalizer) twitch(raw core.RawEvent) ([]core.Event, error) {
	var line string
	switch p := raw.Payload.(type) {
	case twitchirc.Message:
		line = p.Raw
	case *twitchirc.Message:
		if p != nil {
			line = p.Raw
		}
	case string:
		line = p
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, fmt.Errorf("%w: empty irc line", ErrMalformed)
	}

	switch msg := twitch.ParseMessage(line).(type) {
	case *twitch.PrivateMessage:
		return n.twitchPrivmsg(msg), nil
	case *twitch.UserNoticeMessage:
		ev, ok := n.twitchUserNotice(msg)
		if !ok {
			n.unsupported(raw, "usernotice/"+msg.MsgID)
			return nil, nil
		}
		return []core.Event{ev}, nil
	default:
		n.unsupported(raw, "irc")
		return nil, nil
	}
}

// twitchPrivmsg maps chat lines. A cheer yields the chat event plus a separate
// bits event whose id is derived from the message id.
func (n *Normalizer) twitchPrivmsg(msg *twitch.PrivateMessage) []core.Event {
	ev := core.Event{
		Type:      core.TypeChat,
		ID:        msg.ID,
		Actor:     twitchActor(msg.User),
		Message:   renderEmotes(msg.Message, msg.Emotes),
		Badges:    n.twitchBadges(msg.User.Badges),
		Colour:    msg.User.Color,
		Timestamp: msg.Time.UTC(),
	}
	if ev.ID == "" {
		ev.ID = SynthID("twitch", "privmsg", msg.User.ID, msg.Tags["tmi-sent-ts"], msg.Message)
	}
	if msg.Bits <= 0 {
		return []core.Event{ev}
	}
	bits := ev
	bits.Type = core.TypeBits
	bits.ID = ev.ID + "#bits"
	bits.Amount = core.Amt(float64(msg.Bits))
	bits.Currency = "bits"
	return []core.Event{ev, bits}
}

func (n *Normalizer) twitchUserNotice(msg *twitch.UserNoticeMessage) (core.Event, bool) {
	p := msg.MsgParams
	ev := core.Event{
		ID:        msg.ID,
		Actor:     twitchActor(msg.User),
		Message:   renderEmotes(msg.Message, msg.Emotes),
		Badges:    n.twitchBadges(msg.User.Badges),
		Colour:    msg.User.Color,
		Timestamp: msg.Time.UTC(),
	}
	if login := msg.Tags["login"]; login != "" {
		ev.Actor.Username = strings.ToLower(login)
	}
	if ev.ID == "" {
		ev.ID = SynthID("twitch", "usernotice", msg.MsgID, msg.User.ID, msg.Tags["tmi-sent-ts"])
	}

	switch msg.MsgID {
	case "sub", "resub":
		ev.Type = core.TypeSubscription
		months := paramInt(p, "msg-param-cumulative-months")
		if months <= 0 {
			months = 1
		}
		ev.Amount = core.Amt(float64(months))
		ev.Currency = "months"
		if ev.Message == "" {
			ev.Message = html.EscapeString(msg.SystemMsg)
		}
	case "subgift", "anonsubgift":
		ev.Type = core.TypeGiftSubscription
		ev.Actor = core.Actor{
			ID:          p["msg-param-recipient-id"],
			Username:    p["msg-param-recipient-user-name"],
			DisplayName: firstNonEmpty(p["msg-param-recipient-display-name"], p["msg-param-recipient-user-name"]),
		}
		ev.Badges = nil
		ev.Colour = ""
		ev.Amount = core.Amt(1)
		ev.Currency = "gifts"
		if msg.MsgID == "subgift" {
			gifter := twitchActor(msg.User)
			if login := msg.Tags["login"]; login != "" {
				gifter.Username = strings.ToLower(login)
			}
			ev.Counterpart = &gifter
		}
	case "submysterygift", "anonsubmysterygift":
		ev.Type = core.TypeGiftPurchase
		count := paramInt(p, "msg-param-mass-gift-count")
		if count <= 0 {
			count = 1
		}
		ev.Amount = core.Amt(float64(count))
		ev.Currency = "gifts"
		if msg.MsgID == "anonsubmysterygift" {
			ev.Actor = core.Anonymous
			ev.Badges = nil
		}
	case "raid":
		ev.Type = core.TypeRaid
		ev.Actor = core.Actor{
			ID:          msg.User.ID,
			Username:    firstNonEmpty(p["msg-param-login"], msg.User.Name),
			DisplayName: firstNonEmpty(p["msg-param-displayName"], msg.User.DisplayName),
			AvatarURL:   p["msg-param-profileImageURL"],
		}
		ev.Amount = core.Amt(float64(paramInt(p, "msg-param-viewerCount")))
		ev.Currency = "viewers"
	default:
		return core.Event{}, false
	}
	return ev, true
}

func twitchActor(u twitch.User) core.Actor {
	return core.Actor{
		ID:          u.ID,
		Username:    strings.ToLower(u.Name),
		DisplayName: firstNonEmpty(u.DisplayName, u.Name),
	}
}

func (n *Normalizer) twitchBadges(badges map[string]int) []core.Badge {
	if len(badges) == 0 {
		return nil
	}
	sets := make([]string, 0, len(badges))
	for set := range badges {
		sets = append(sets, set)
	}
	sort.Strings(sets)
	out := make([]core.Badge, 0, len(sets))
	for _, set := range sets {
		version := strconv.Itoa(badges[set])
		b := core.Badge{ID: set, Version: version}
		if ref, ok := n.assets.Resolve(assets.KindBadge, twitchbadges.Key(set, version)); ok {
			b.URL = ref
		}
		out = append(out, b)
	}
	return out
}

type emoteSpan struct {
	start, end int
	id, name   string
}

// renderEmotes escapes text and replaces emote positions (rune offsets,
// inclusive end) with image markup.
func renderEmotes(text string, emotes []*twitch.Emote) string {
	if len(emotes) == 0 {
		return html.EscapeString(text)
	}
	runes := []rune(text)
	var spans []emoteSpan
	for _, e := range emotes {
		if e == nil {
			continue
		}
		for _, pos := range e.Positions {
			if pos.Start < 0 || pos.End < pos.Start || pos.End >= len(runes) {
				continue
			}
			spans = append(spans, emoteSpan{start: pos.Start, end: pos.End, id: e.ID, name: e.Name})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	cursor := 0
	for _, s := range spans {
		if s.start < cursor {
			continue
		}
		b.WriteString(html.EscapeString(string(runes[cursor:s.start])))
		name := s.name
		if name == "" {
			name = string(runes[s.start : s.end+1])
		}
		b.WriteString(imgTag("emote", fmt.Sprintf(emoteURL, s.id), name))
		cursor = s.end + 1
	}
	b.WriteString(html.EscapeString(string(runes[cursor:])))
	return b.String()
}

func paramInt(params map[string]string, key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(params[key]))
	if err != nil {
		return 0
	}
	return v
}
