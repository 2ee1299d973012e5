package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/troikatech/pbx-voice-bridge/pkg/ari"
	"github.com/troikatech/pbx-voice-bridge/pkg/calllog"
)

const startEvent = `{"type":"StasisStart","application":"voice-bridge","channel":{"id":"%s"}}`

func start(id string) string {
	return strings.Replace(startEvent, "%s", id, 1)
}

func runListener(t *testing.T, cfg ListenerConfig, streams ...dialResult) (*recordingDispatcher, *fakeDialer, *recordedSleep) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer := &fakeDialer{results: streams, cancel: cancel}
	dispatcher := &recordingDispatcher{}
	sleeps := &recordedSleep{}

	l := NewListener(cfg, dialer, dispatcher, zap.NewNop())
	l.sleep = sleeps.sleep

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
	return dispatcher, dialer, sleeps
}

func TestListener_DispatchesOnlyStartEvents(t *testing.T) {
	stream := newFakeStream(
		start("ch-1"),
		`{"type":"StasisEnd","channel":{"id":"ch-1"}}`,
		`{"type":"ChannelDestroyed","channel":{"id":"ch-1"}}`,
		`{"type":"PlaybackFinished","playback":{"target_uri":"channel:ch-1"}}`,
		`{"type":"ChannelDtmfReceived","digit":"1","channel":{"id":"ch-1"}}`,
		`{"type":"StasisStart"}`,
		`garbage`,
		start("ch-2"),
	)

	dispatcher, _, _ := runListener(t, ListenerConfig{ReconnectDelay: time.Second}, dialResult{stream: stream})

	assert.Equal(t, []string{"ch-1", "ch-2"}, dispatcher.Channels())
	assert.True(t, stream.closed)
}

func TestListener_DispatchesChannelEnteredApplication(t *testing.T) {
	stream := newFakeStream(`{"type":"channel-entered-application","channel":{"id":"ch-1"}}`)

	dispatcher, _, _ := runListener(t, ListenerConfig{ReconnectDelay: time.Second}, dialResult{stream: stream})

	assert.Equal(t, []string{"ch-1"}, dispatcher.Channels())
}

func TestListener_ReconnectsAfterStreamEnds(t *testing.T) {
	first := newFakeStream(start("ch-1"))
	second := newFakeStream(start("ch-2"))

	dispatcher, dialer, sleeps := runListener(t, ListenerConfig{ReconnectDelay: 3 * time.Second},
		dialResult{stream: first},
		dialResult{stream: second},
	)

	assert.Equal(t, []string{"ch-1", "ch-2"}, dispatcher.Channels())
	assert.Equal(t, 3, dialer.dials)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, sleeps.Delays())
}

func TestListener_FixedDelayOnDialFailures(t *testing.T) {
	dialErr := &ari.UnavailableError{Op: "subscribe", Err: errors.New("refused")}

	dispatcher, _, sleeps := runListener(t, ListenerConfig{ReconnectDelay: time.Second},
		dialResult{err: dialErr},
		dialResult{err: dialErr},
		dialResult{stream: newFakeStream(start("ch-1"))},
	)

	assert.Equal(t, []string{"ch-1"}, dispatcher.Channels())
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, sleeps.Delays())
}

func TestListener_CappedBackoff(t *testing.T) {
	dialErr := &ari.UnavailableError{Op: "subscribe", Err: errors.New("refused")}

	_, _, sleeps := runListener(t, ListenerConfig{ReconnectDelay: time.Second, ReconnectMaxDelay: 5 * time.Second},
		dialResult{err: dialErr},
		dialResult{err: dialErr},
		dialResult{err: dialErr},
		dialResult{err: dialErr},
		dialResult{stream: newFakeStream()},
	)

	assert.Equal(t, []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		time.Second, // reset once a subscription succeeded
	}, sleeps.Delays())
}

// End to end against an in-process websocket server: the first connection
// delivers one call and drops, the second delivers another.
func TestListener_WebsocketReconnect(t *testing.T) {
	var connections int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := atomic.AddInt32(&connections, 1)
		if n == 1 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(start("ch-1")))
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(start("ch-2")))
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	tb := newTestBridge()
	dialer := ari.NewWebsocketDialer(ari.StreamConfig{
		EventsURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ari/events",
		App:       "voice-bridge",
		Username:  "bridge",
		Password:  "s3cret",
	})
	l := NewListener(ListenerConfig{ReconnectDelay: 10 * time.Millisecond}, dialer, tb.Bridge, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(tb.sink.Records()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop after cancel")
	}
	tb.Wait()

	ids := map[string]calllog.Outcome{}
	for _, rec := range tb.sink.Records() {
		ids[rec.ChannelID] = rec.Outcome
	}
	assert.Equal(t, map[string]calllog.Outcome{"ch-1": calllog.OutcomeFinished, "ch-2": calllog.OutcomeFinished}, ids)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&connections), int32(2))
}

// A peer that stops answering pings must not wedge the listener: the stream
// times out and the listener subscribes again.
func TestListener_RedialsSilentStream(t *testing.T) {
	var connections int32
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if atomic.AddInt32(&connections, 1) == 1 {
			<-release
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(start("ch-1")))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()
	defer close(release)

	dialer := ari.NewWebsocketDialer(ari.StreamConfig{
		EventsURL:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ari/events",
		App:          "voice-bridge",
		PingInterval: 50 * time.Millisecond,
		PongWait:     200 * time.Millisecond,
	})
	dispatcher := &recordingDispatcher{}
	l := NewListener(ListenerConfig{ReconnectDelay: 10 * time.Millisecond}, dialer, dispatcher, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(dispatcher.Channels()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop after cancel")
	}

	assert.Equal(t, []string{"ch-1"}, dispatcher.Channels())
	assert.GreaterOrEqual(t, atomic.LoadInt32(&connections), int32(2))
}
