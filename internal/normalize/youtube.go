package normalize

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/youtube/v3"

	"github.com/you/gnasty-live/internal/assets"
	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/ytlive"
)

func (n *Normalizer) youtube(raw core.RawEvent) ([]core.Event, error) {
	switch raw.Kind {
	case ytlive.KindViewers:
		viewers, ok := raw.Payload.(int64)
		if !ok {
			return nil, fmt.Errorf("%w: viewers payload %T", ErrMalformed, raw.Payload)
		}
		return []core.Event{metric(core.PlatformYouTube, raw, viewers)}, nil
	case ytlive.KindMessage:
	default:
		n.unsupported(raw, raw.Kind)
		return nil, nil
	}

	msg, ok := raw.Payload.(*youtube.LiveChatMessage)
	if !ok || msg == nil || msg.Snippet == nil {
		return nil, fmt.Errorf("%w: live chat payload %T", ErrMalformed, raw.Payload)
	}
	s := msg.Snippet

	ev := core.Event{
		ID:        msg.Id,
		Actor:     youtubeActor(msg.AuthorDetails, s.AuthorChannelId),
		Badges:    n.youtubeBadges(msg.AuthorDetails),
		Timestamp: parseRFC3339(s.PublishedAt),
	}
	if ev.ID == "" {
		ev.ID = SynthID("youtube", s.Type, s.AuthorChannelId, s.PublishedAt, s.DisplayMessage)
	}

	switch s.Type {
	case "textMessageEvent":
		ev.Type = core.TypeChat
		text := s.DisplayMessage
		if s.TextMessageDetails != nil && s.TextMessageDetails.MessageText != "" {
			text = s.TextMessageDetails.MessageText
		}
		ev.Message = n.escapeWithEmoji(text)
	case "superChatEvent":
		d := s.SuperChatDetails
		if d == nil {
			return nil, fmt.Errorf("%w: superChatEvent without details", ErrMalformed)
		}
		ev.Type = core.TypeSuperchat
		ev.Amount = core.Amt(micros(d.AmountMicros))
		ev.Currency = d.Currency
		ev.Message = n.escapeWithEmoji(d.UserComment)
	case "superStickerEvent":
		d := s.SuperStickerDetails
		if d == nil {
			return nil, fmt.Errorf("%w: superStickerEvent without details", ErrMalformed)
		}
		ev.Type = core.TypeSupersticker
		ev.Amount = core.Amt(micros(d.AmountMicros))
		ev.Currency = d.Currency
		if d.SuperStickerMetadata != nil {
			ev.Message = html.EscapeString(d.SuperStickerMetadata.AltText)
		}
	case "newSponsorEvent":
		ev.Type = core.TypeMembership
		ev.Message = html.EscapeString(s.DisplayMessage)
		if d := s.NewSponsorDetails; d != nil && d.MemberLevelName != "" {
			ev.Currency = d.MemberLevelName
		}
	case "memberMilestoneChatEvent":
		ev.Type = core.TypeMilestone
		if d := s.MemberMilestoneChatDetails; d != nil {
			ev.Amount = core.Amt(float64(d.MemberMonth))
			ev.Currency = "months"
			ev.Message = n.escapeWithEmoji(d.UserComment)
		}
	case "membershipGiftingEvent":
		d := s.MembershipGiftingDetails
		if d == nil {
			return nil, fmt.Errorf("%w: membershipGiftingEvent without details", ErrMalformed)
		}
		ev.Type = core.TypeGiftMembershipPurchase
		ev.Amount = core.Amt(float64(d.GiftMembershipsCount))
		ev.Currency = "gifts"
		ev.Message = html.EscapeString(s.DisplayMessage)
	case "giftMembershipReceivedEvent":
		ev.Type = core.TypeGiftMembershipReceived
		ev.Amount = core.Amt(1)
		ev.Currency = "gifts"
		ev.Message = html.EscapeString(s.DisplayMessage)
		if d := s.GiftMembershipReceivedDetails; d != nil && d.GifterChannelId != "" {
			// Only the gifter's channel id is known; the correlator fills in the rest.
			ev.Counterpart = &core.Actor{ID: d.GifterChannelId}
		}
	default:
		n.unsupported(raw, s.Type)
		return nil, nil
	}
	return []core.Event{ev}, nil
}

func youtubeActor(a *youtube.LiveChatMessageAuthorDetails, channelID string) core.Actor {
	if a == nil {
		return core.Actor{ID: channelID, Username: channelID, DisplayName: channelID}
	}
	display := strings.TrimPrefix(a.DisplayName, "@")
	return core.Actor{
		ID:          firstNonEmpty(a.ChannelId, channelID),
		Username:    strings.ToLower(strings.ReplaceAll(display, " ", "")),
		DisplayName: a.DisplayName,
		AvatarURL:   a.ProfileImageUrl,
	}
}

func (n *Normalizer) youtubeBadges(a *youtube.LiveChatMessageAuthorDetails) []core.Badge {
	if a == nil {
		return nil
	}
	var out []core.Badge
	add := func(on bool, id string) {
		if !on {
			return
		}
		b := core.Badge{ID: id}
		if ref, ok := n.assets.Resolve(assets.KindBadge, "youtube/"+id); ok {
			b.URL = ref
		}
		out = append(out, b)
	}
	add(a.IsChatOwner, "owner")
	add(a.IsChatModerator, "moderator")
	add(a.IsChatSponsor, "member")
	add(a.IsVerified, "verified")
	return out
}

func micros(v uint64) float64 {
	return float64(v) / 1e6
}

func parseRFC3339(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func metric(p core.Platform, raw core.RawEvent, viewers int64) core.Event {
	at := received(raw)
	return core.Event{
		Type:      core.TypeMetric,
		ID:        SynthID(string(p), "viewers", strconv.FormatInt(at.UnixNano(), 10)),
		Amount:    core.Amt(float64(viewers)),
		Currency:  "viewers",
		Timestamp: at,
	}
}
