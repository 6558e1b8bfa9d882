package tiktokrelay

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// Relay event names.
const (
	EventChat      = "chat"
	EventGift      = "gift"
	EventFollow    = "follow"
	EventSubscribe = "subscribe"
	EventShare     = "share"
	EventLike      = "like"
	EventMember    = "member"
	EventRoomUser  = "roomUser"
	EventStreamEnd = "streamEnd"
)

var knownEvents = map[string]struct{}{
	EventChat: {}, EventGift: {}, EventFollow: {}, EventSubscribe: {}, EventShare: {},
	EventLike: {}, EventMember: {}, EventRoomUser: {}, EventStreamEnd: {},
}

var errMissingEvent = errors.New("tiktokrelay: frame has no event name")

// Frame is one relay message: {"event": "...", "data": {...}}.
type Frame struct {
	Event string `json:"event"`
	Data  Data   `json:"data"`
}

// Data is the union of fields the relay sends across event kinds. Fields that
// do not apply to an event are left zero.
type Data struct {
	MsgID             string `json:"msgId"`
	UserID            string `json:"userId"`
	UniqueID          string `json:"uniqueId"`
	Nickname          string `json:"nickname"`
	ProfilePictureURL string `json:"profilePictureUrl"`
	Comment           string `json:"comment"`

	GiftID       int64   `json:"giftId"`
	GiftName     string  `json:"giftName"`
	GiftType     int     `json:"giftType"`
	DiamondCount float64 `json:"diamondCount"`
	RepeatCount  int     `json:"repeatCount"`
	RepeatEnd    bool    `json:"repeatEnd"`

	SubMonth    int   `json:"subMonth"`
	LikeCount   int64 `json:"likeCount"`
	ViewerCount int64 `json:"viewerCount"`

	CreateTime Millis `json:"createTime"`
}

// Stackable reports whether the gift arrives as a combo of repeat notifications.
func (d Data) Stackable() bool { return d.GiftType == 1 }

// Millis is a unix-millisecond timestamp the relay sends either as a number or a string.
type Millis int64

func (m *Millis) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*m = 0
			return nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*m = Millis(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*m = Millis(v)
	return nil
}

// Time converts the timestamp, falling back to fallback when unset.
func (m Millis) Time(fallback time.Time) time.Time {
	if m <= 0 {
		return fallback
	}
	return time.UnixMilli(int64(m)).UTC()
}

// DecodeFrame parses one relay message.
func DecodeFrame(payload []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Frame{}, err
	}
	if f.Event == "" {
		return Frame{}, errMissingEvent
	}
	return f, nil
}
