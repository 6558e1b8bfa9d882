package core

import (
	"strings"
	"time"
)

// Platform identifies the upstream service an event came from.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
	PlatformTikTok  Platform = "tiktok"
)

// Platforms lists every supported platform in a stable order.
var Platforms = []Platform{PlatformTwitch, PlatformYouTube, PlatformTikTok}

// ParsePlatform maps a user supplied name onto a Platform.
func ParsePlatform(raw string) (Platform, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "twitch", "tw":
		return PlatformTwitch, true
	case "youtube", "yt":
		return PlatformYouTube, true
	case "tiktok", "tt":
		return PlatformTikTok, true
	}
	return "", false
}

// EventType is the normalized kind of an Event.
type EventType string

const (
	TypeChat                   EventType = "chat"
	TypeFollow                 EventType = "follow"
	TypeSubscription           EventType = "subscription"
	TypeGiftSubscription       EventType = "gift_subscription"
	TypeGiftPurchase           EventType = "gift_purchase"
	TypeBits                   EventType = "bits"
	TypeRaid                   EventType = "raid"
	TypeMembership             EventType = "membership"
	TypeGiftMembershipPurchase EventType = "gift_membership_purchase"
	TypeGiftMembershipReceived EventType = "gift_membership_received"
	TypeSuperchat              EventType = "superchat"
	TypeSupersticker           EventType = "supersticker"
	TypeMilestone              EventType = "milestone"
	TypeGift                   EventType = "gift"
	TypeMetric                 EventType = "metric"
)

// Actor is a participant that triggered (or received) an event.
type Actor struct {
	ID          string `json:"id,omitempty"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Anonymous is used as counterpart when a gifter cannot be correlated.
var Anonymous = Actor{Username: "anonymous", DisplayName: "Anonymous"}

// Badge is a chat badge attached to an actor, resolved through the asset cache when possible.
type Badge struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Event is the canonical unit broadcast to consumers.
type Event struct {
	Platform    Platform  `json:"platform"`
	Type        EventType `json:"type"`
	ID          string    `json:"id"`
	Actor       Actor     `json:"actor"`
	Counterpart *Actor    `json:"counterpart,omitempty"`
	Amount      *float64  `json:"amount,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	Message     string    `json:"message,omitempty"`
	Badges      []Badge   `json:"badges,omitempty"`
	Colour      string    `json:"colour,omitempty"`
	Gift        *Gift     `json:"gift,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	// Raw keeps the source payload for diagnostics; it is never serialized.
	Raw any `json:"-"`
}

// Gift describes a platform-currency gift. Stackable gifts arrive as a series of
// notifications with a growing Count until Final is set.
type Gift struct {
	Name      string  `json:"name"`
	Count     int     `json:"count"`
	PerUnit   float64 `json:"perUnit"`
	Final     bool    `json:"final"`
	Stackable bool    `json:"-"`
}

// Amt returns a pointer to v for populating Event.Amount.
func Amt(v float64) *float64 { return &v }

// AmountValue returns the amount or 0 when unset.
func (e Event) AmountValue() float64 {
	if e.Amount == nil {
		return 0
	}
	return *e.Amount
}

// RawEvent is a platform-shaped payload emitted by a connector before normalization.
type RawEvent struct {
	Platform Platform
	Kind     string
	Payload  any
	Received time.Time
}

// Status is the coarse connectivity of a platform connector.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDegraded     Status = "degraded"
)

// ConnectionState is broadcast on every connector transition.
type ConnectionState struct {
	Status   Status    `json:"status"`
	Reason   string    `json:"reason,omitempty"`
	Terminal bool      `json:"terminal,omitempty"`
	Since    time.Time `json:"since"`
}

func Disconnected(reason string) ConnectionState {
	return ConnectionState{Status: StatusDisconnected, Reason: reason, Since: time.Now().UTC()}
}

// TerminalDisconnected marks a connector that stopped for good and needs external reconfiguration.
func TerminalDisconnected(reason string) ConnectionState {
	return ConnectionState{Status: StatusDisconnected, Reason: reason, Terminal: true, Since: time.Now().UTC()}
}

func Connecting() ConnectionState {
	return ConnectionState{Status: StatusConnecting, Since: time.Now().UTC()}
}

func Connected(reason string) ConnectionState {
	return ConnectionState{Status: StatusConnected, Reason: reason, Since: time.Now().UTC()}
}

func Degraded(reason string) ConnectionState {
	return ConnectionState{Status: StatusDegraded, Reason: reason, Since: time.Now().UTC()}
}

// IsConnected reports whether consumers should render the platform as up.
func (s ConnectionState) IsConnected() bool {
	return s.Status == StatusConnected
}
