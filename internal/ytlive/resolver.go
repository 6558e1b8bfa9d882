package ytlive

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"google.golang.org/api/youtube/v3"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,20}$`)

// errHandleURL is returned for channel handle URLs, which need a search call to
// find the current broadcast.
var errHandleURL = errors.New("ytlive: handle urls cannot be resolved without search; use a video id or watch url")

// session is the outcome of one videos.list lookup.
type session struct {
	LiveChatID string
	Viewers    *int64
	Pending    bool
}

// VideoID extracts the video id from a bare id or a watch, live, shorts, embed
// or youtu.be URL.
func VideoID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("ytlive: empty stream id")
	}
	if videoIDPattern.MatchString(trimmed) {
		return trimmed, nil
	}

	u, err := normalizeYouTubeURL(trimmed)
	if err != nil {
		return "", err
	}
	if isHandlePath(u.Path) {
		return "", errHandleURL
	}
	if strings.EqualFold(u.Path, "/watch") {
		return u.Query().Get("v"), nil
	}
	for _, prefix := range []string{"/live/", "/shorts/", "/embed/"} {
		if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
			id := strings.Trim(rest, "/")
			if videoIDPattern.MatchString(id) {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("ytlive: no video id in %q", raw)
}

// normalizeYouTubeURL coerces YouTube URLs and handle shorthand into canonical
// https://www.youtube.com URLs.
func normalizeYouTubeURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("ytlive: empty url")
	}

	if strings.HasPrefix(trimmed, "@") {
		trimmed = "https://www.youtube.com/" + trimmed
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("ytlive: parse url: %w", err)
	}
	u.Fragment = ""

	host := strings.ToLower(u.Host)
	switch host {
	case "youtu.be":
		id := strings.Trim(u.Path, "/")
		if id == "" {
			return nil, errors.New("ytlive: missing video id in youtu.be url")
		}
		return &url.URL{
			Scheme:   "https",
			Host:     "www.youtube.com",
			Path:     "/watch",
			RawQuery: url.Values{"v": []string{id}}.Encode(),
		}, nil
	case "youtube.com", "www.youtube.com", "m.youtube.com":
		u.Scheme = "https"
		u.Host = "www.youtube.com"

		if isHandlePath(u.Path) {
			u.Path = normalizeHandlePath(u.Path)
			u.RawQuery = ""
			return u, nil
		}

		if strings.EqualFold(u.Path, "/watch") {
			videoID := strings.TrimSpace(u.Query().Get("v"))
			if videoID == "" {
				return nil, errors.New("ytlive: watch url missing video id")
			}
			u.Path = "/watch"
			u.RawQuery = url.Values{"v": []string{videoID}}.Encode()
			return u, nil
		}

		u.Path = path.Clean(u.Path)
		u.RawQuery = ""
		return u, nil
	default:
		return nil, fmt.Errorf("ytlive: unsupported host %q", u.Host)
	}
}

func isHandlePath(p string) bool {
	return strings.HasPrefix(p, "/@")
}

func normalizeHandlePath(p string) string {
	trimmed := strings.TrimSuffix(p, "/")
	trimmed = strings.TrimSuffix(trimmed, "/live")
	if !strings.HasPrefix(trimmed, "/@") {
		return p
	}
	return trimmed + "/live"
}

// resolveSession looks the video up and decides whether its chat can be polled.
// An active chat id wins; an ended or offline video is ErrStreamEnded; an
// upcoming broadcast without chat is pending.
func (c *Client) resolveSession(ctx context.Context, videoID string) (session, error) {
	resp, err := c.svc.Videos.List([]string{"liveStreamingDetails", "snippet"}).
		Id(videoID).
		Context(ctx).
		Do()
	if err != nil {
		return session{}, classify(err)
	}
	if len(resp.Items) == 0 || resp.Items[0] == nil {
		return session{}, fmt.Errorf("%w: video %s not found", ErrStreamEnded, videoID)
	}
	return sessionFromVideo(resp.Items[0])
}

func sessionFromVideo(v *youtube.Video) (session, error) {
	content := ""
	if v.Snippet != nil {
		content = strings.ToLower(v.Snippet.LiveBroadcastContent)
	}
	details := v.LiveStreamingDetails

	if details != nil && details.ActiveLiveChatId != "" {
		s := session{LiveChatID: details.ActiveLiveChatId}
		if details.ConcurrentViewers > 0 || content == "live" {
			n := int64(details.ConcurrentViewers)
			s.Viewers = &n
		}
		return s, nil
	}
	if details != nil && details.ActualEndTime != "" {
		return session{}, fmt.Errorf("%w: ended at %s", ErrStreamEnded, details.ActualEndTime)
	}
	if content == "upcoming" {
		return session{Pending: true}, nil
	}
	return session{}, fmt.Errorf("%w: no active chat", ErrStreamEnded)
}
