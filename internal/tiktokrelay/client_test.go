package tiktokrelay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/you/gnasty-live/internal/core"
	"github.com/you/gnasty-live/internal/reconnect"
)

// relayServer accepts websocket clients and writes the next script of frames
// to each connection, then closes it.
type relayServer struct {
	t       *testing.T
	accepts atomic.Int32

	mu      sync.Mutex
	scripts [][]string
}

func (s *relayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.t.Errorf("accept: %v", err)
		return
	}
	s.accepts.Add(1)

	s.mu.Lock()
	var script []string
	if len(s.scripts) > 0 {
		script = s.scripts[0]
		s.scripts = s.scripts[1:]
	}
	s.mu.Unlock()

	ctx := r.Context()
	for _, frame := range script {
		if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
			return
		}
	}
	if script == nil {
		// Hold the last connection open until the client leaves.
		_, _, _ = conn.Read(ctx)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "script done")
}

type stateLog struct {
	mu     sync.Mutex
	states []core.ConnectionState
}

func (s *stateLog) report(st core.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}

func (s *stateLog) has(match func(core.ConnectionState) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.states {
		if match(st) {
			return true
		}
	}
	return false
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func recv(t *testing.T, ch <-chan core.RawEvent) core.RawEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("stream closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return core.RawEvent{}
}

func TestClientForwardsFramesAndSkipsMalformed(t *testing.T) {
	relay := &relayServer{t: t, scripts: [][]string{{
		`{"event":"chat","data":{"msgId":"c1","userId":"u1","uniqueId":"ann","nickname":"Ann","comment":"hi","createTime":"1714564800000"}}`,
		`not json`,
		`{"data":{}}`,
		`{"event":"mystery","data":{}}`,
		`{"event":"gift","data":{"msgId":"g1","uniqueId":"bob","giftName":"Rose","giftType":1,"diamondCount":1,"repeatCount":3,"repeatEnd":false,"createTime":1714564801000}}`,
	}}}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	c := New(Config{URL: wsURL(srv), Debounce: -1, PingInterval: -1, Policy: reconnect.Policy{Base: 10 * time.Millisecond, Max: 20 * time.Millisecond, Factor: 2}})
	out := c.Start(context.Background())
	defer c.Stop()

	chat := recv(t, out)
	if chat.Kind != EventChat || chat.Platform != core.PlatformTikTok {
		t.Fatalf("first event = %+v", chat)
	}
	data := chat.Payload.(Data)
	if data.Comment != "hi" || data.UniqueID != "ann" {
		t.Fatalf("chat data = %+v", data)
	}
	if got := data.CreateTime.Time(time.Time{}); !got.Equal(time.UnixMilli(1714564800000)) {
		t.Fatalf("create time = %v", got)
	}

	gift := recv(t, out)
	if gift.Kind != EventGift {
		t.Fatalf("second event = %+v", gift)
	}
	g := gift.Payload.(Data)
	if !g.Stackable() || g.RepeatCount != 3 || g.RepeatEnd {
		t.Fatalf("gift data = %+v", g)
	}

	if st := c.Stats(); st.Dropped != 3 {
		t.Fatalf("dropped = %d, want 3", st.Dropped)
	}
}

func TestClientReconnectsAfterClose(t *testing.T) {
	relay := &relayServer{t: t, scripts: [][]string{
		{`{"event":"follow","data":{"msgId":"f1","uniqueId":"ann"}}`},
		{`{"event":"follow","data":{"msgId":"f2","uniqueId":"bob"}}`},
	}}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	log := &stateLog{}
	c := New(Config{
		URL:          wsURL(srv),
		Debounce:     -1,
		PingInterval: -1,
		Policy:       reconnect.Policy{Base: 10 * time.Millisecond, Max: 20 * time.Millisecond, Factor: 2},
		OnState:      log.report,
	})
	out := c.Start(context.Background())

	first := recv(t, out).Payload.(Data)
	second := recv(t, out).Payload.(Data)
	if first.MsgID != "f1" || second.MsgID != "f2" {
		t.Fatalf("got %s then %s", first.MsgID, second.MsgID)
	}
	if n := relay.accepts.Load(); n < 2 {
		t.Fatalf("accepts = %d, want reconnect", n)
	}

	c.Stop()
	for range out {
	}
	if !log.has(func(s core.ConnectionState) bool { return s.Status == core.StatusDisconnected && !s.Terminal }) {
		t.Fatal("expected a non-terminal disconnect between sessions")
	}
	if !log.has(func(s core.ConnectionState) bool { return s.Reason == "stopped" }) {
		t.Fatal("expected stopped state after Stop")
	}
}

func TestClientStreamEndDegrades(t *testing.T) {
	relay := &relayServer{t: t, scripts: [][]string{{
		`{"event":"streamEnd","data":{}}`,
		`{"event":"chat","data":{"msgId":"c9","comment":"still here"}}`,
	}}}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	log := &stateLog{}
	c := New(Config{URL: wsURL(srv), Debounce: -1, PingInterval: -1, OnState: log.report,
		Policy: reconnect.Policy{Base: time.Second, Max: time.Second, Factor: 1}})
	out := c.Start(context.Background())
	defer c.Stop()

	if ev := recv(t, out); ev.Kind != EventStreamEnd {
		t.Fatalf("first event = %+v", ev)
	}
	recv(t, out)
	if !log.has(func(s core.ConnectionState) bool { return s.Status == core.StatusDegraded && s.Reason == "stream ended" }) {
		t.Fatal("expected degraded state")
	}
}

func TestClientWithoutURLIsTerminal(t *testing.T) {
	log := &stateLog{}
	c := New(Config{Debounce: -1, OnState: log.report})
	out := c.Start(context.Background())
	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("unexpected event")
		}
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
	if !log.has(func(s core.ConnectionState) bool { return s.Terminal }) {
		t.Fatal("expected terminal state")
	}
}

func TestDecodeFrameMillisVariants(t *testing.T) {
	for _, raw := range []string{
		`{"event":"like","data":{"createTime":1700000000000}}`,
		`{"event":"like","data":{"createTime":"1700000000000"}}`,
	} {
		f, err := DecodeFrame([]byte(raw))
		if err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if f.Data.CreateTime != 1700000000000 {
			t.Fatalf("create time = %d", f.Data.CreateTime)
		}
	}
	f, err := DecodeFrame([]byte(`{"event":"like","data":{"createTime":null}}`))
	if err != nil || f.Data.CreateTime != 0 {
		t.Fatalf("null create time = %d, %v", f.Data.CreateTime, err)
	}
	fallback := time.Unix(1, 0)
	if got := f.Data.CreateTime.Time(fallback); !got.Equal(fallback) {
		t.Fatalf("fallback = %v", got)
	}
}
