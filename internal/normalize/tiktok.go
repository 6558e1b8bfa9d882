package normalize

import (
	"fmt"
	"strconv"

	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/tiktokrelay"
)

func (n *Normalizer) tiktok(raw core.RawEvent) ([]core.Event, error) {
	d, ok := raw.Payload.(tiktokrelay.Data)
	if !ok {
		return nil, fmt.Errorf("%w: relay payload %T", ErrMalformed, raw.Payload)
	}
	ts := d.CreateTime.Time(received(raw))

	ev := core.Event{
		ID:        d.MsgID,
		Actor:     tiktokActor(d),
		Timestamp: ts,
	}
	if ev.ID == "" {
		ev.ID = SynthID("tiktok", raw.Kind, d.UserID, d.UniqueID, strconv.FormatInt(int64(d.CreateTime), 10), d.Comment, d.GiftName, strconv.Itoa(d.RepeatCount))
	}

	switch raw.Kind {
	case tiktokrelay.EventChat:
		ev.Type = core.TypeChat
		ev.Message = n.escapeWithEmoji(d.Comment)
	case tiktokrelay.EventGift:
		count := d.RepeatCount
		if count <= 0 {
			count = 1
		}
		stackable := d.Stackable()
		ev.Type = core.TypeGift
		ev.Currency = "diamonds"
		ev.Gift = &core.Gift{
			Name:      d.GiftName,
			Count:     count,
			PerUnit:   d.DiamondCount,
			Final:     !stackable || d.RepeatEnd,
			Stackable: stackable,
		}
		ev.Amount = core.Amt(d.DiamondCount * float64(count))
	case tiktokrelay.EventFollow:
		ev.Type = core.TypeFollow
	case tiktokrelay.EventSubscribe:
		ev.Type = core.TypeSubscription
		if d.SubMonth > 0 {
			ev.Amount = core.Amt(float64(d.SubMonth))
			ev.Currency = "months"
		}
	case tiktokrelay.EventRoomUser:
		return []core.Event{metric(core.PlatformTikTok, raw, d.ViewerCount)}, nil
	case tiktokrelay.EventStreamEnd:
		// The connector reports the degraded state; there is nothing to display.
		return nil, nil
	default:
		n.unsupported(raw, raw.Kind)
		return nil, nil
	}
	return []core.Event{ev}, nil
}

func tiktokActor(d tiktokrelay.Data) core.Actor {
	return core.Actor{
		ID:          d.UserID,
		Username:    d.UniqueID,
		DisplayName: firstNonEmpty(d.Nickname, d.UniqueID),
		AvatarURL:   d.ProfilePictureURL,
	}
}
