package ytlive

import (
	"errors"
	"testing"

	"google.golang.org/api/youtube/v3"
)

func TestNormalizeYouTubeURL_HandleVariants(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare handle", "@creator", "https://www.youtube.com/@creator/live"},
		{"short host", "youtube.com/@creator/live", "https://www.youtube.com/@creator/live"},
		{"www host", "https://www.youtube.com/@creator", "https://www.youtube.com/@creator/live"},
		{"youtu.be", "https://youtu.be/abc123xyz", "https://www.youtube.com/watch?v=abc123xyz"},
		{"watch extra params", "https://m.youtube.com/watch?v=abc123xyz&t=30s#frag", "https://www.youtube.com/watch?v=abc123xyz"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := normalizeYouTubeURL(tc.in)
			if err != nil {
				t.Fatalf("normalizeYouTubeURL() error = %v", err)
			}
			if got.String() != tc.want {
				t.Fatalf("normalizeYouTubeURL() = %q, want %q", got.String(), tc.want)
			}
		})
	}
}

func TestVideoID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{in: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{in: "youtube.com/live/dQw4w9WgXcQ?feature=share", want: "dQw4w9WgXcQ"},
		{in: "https://youtu.be/dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{in: "https://www.youtube.com/shorts/dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{in: "@creator", wantErr: true},
		{in: "https://vimeo.com/12345678", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		got, err := VideoID(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("VideoID(%q) = %q, want error", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("VideoID(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
	if _, err := VideoID("https://www.youtube.com/@creator/live"); !errors.Is(err, errHandleURL) {
		t.Fatalf("handle url err = %v", err)
	}
}

func TestSessionFromVideo(t *testing.T) {
	live := &youtube.Video{
		Snippet:              &youtube.VideoSnippet{LiveBroadcastContent: "live"},
		LiveStreamingDetails: &youtube.VideoLiveStreamingDetails{ActiveLiveChatId: "chat1", ConcurrentViewers: 12},
	}
	s, err := sessionFromVideo(live)
	if err != nil || s.LiveChatID != "chat1" || s.Viewers == nil || *s.Viewers != 12 {
		t.Fatalf("live session = %+v, %v", s, err)
	}

	upcoming := &youtube.Video{Snippet: &youtube.VideoSnippet{LiveBroadcastContent: "upcoming"}}
	if s, err := sessionFromVideo(upcoming); err != nil || !s.Pending {
		t.Fatalf("upcoming session = %+v, %v", s, err)
	}

	// An active chat id wins even when the broadcast reports an end time.
	lingering := &youtube.Video{
		Snippet:              &youtube.VideoSnippet{LiveBroadcastContent: "none"},
		LiveStreamingDetails: &youtube.VideoLiveStreamingDetails{ActiveLiveChatId: "chat2", ActualEndTime: "2024-05-01T13:00:00Z"},
	}
	if s, err := sessionFromVideo(lingering); err != nil || s.LiveChatID != "chat2" {
		t.Fatalf("lingering session = %+v, %v", s, err)
	}

	ended := &youtube.Video{LiveStreamingDetails: &youtube.VideoLiveStreamingDetails{ActualEndTime: "2024-05-01T13:00:00Z"}}
	if _, err := sessionFromVideo(ended); !errors.Is(err, ErrStreamEnded) {
		t.Fatalf("ended err = %v", err)
	}
}
