package ari

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebsocketDialer_SubscriptionURL(t *testing.T) {
	d := NewWebsocketDialer(StreamConfig{
		EventsURL: "ws://pbx:8088/ari/events?subscribeAll=false",
		App:       "voice-bridge",
		Username:  "bridge",
		Password:  "s3cret",
	})

	target, err := d.SubscriptionURL()
	require.NoError(t, err)
	assert.Contains(t, target, "app=voice-bridge")
	assert.Contains(t, target, "api_key=bridge%3As3cret")
	assert.Contains(t, target, "subscribeAll=false")
}

func TestWebsocketDialer_ReceivesMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "voice-bridge", r.URL.Query().Get("app"))
		assert.Equal(t, "bridge:s3cret", r.URL.Query().Get("api_key"))
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bridge", user)

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x1})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"StasisStart","channel":{"id":"ch-1"}}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	d := NewWebsocketDialer(StreamConfig{
		EventsURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ari/events",
		App:       "voice-bridge",
		Username:  "bridge",
		Password:  "s3cret",
	})

	stream, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	msg, err := stream.Next()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "ch-1")

	_, err = stream.Next()
	assert.Error(t, err)
}

func TestWebsocketDialer_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	d := NewWebsocketDialer(StreamConfig{EventsURL: target, App: "voice-bridge"})
	_, err := d.Dial(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestWebsocketDialer_SilentPeerEndsStream(t *testing.T) {
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Never read, so pings go unanswered, and never write.
		<-release
	}))
	defer srv.Close()
	defer close(release)

	d := NewWebsocketDialer(StreamConfig{
		EventsURL:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ari/events",
		App:          "voice-bridge",
		PingInterval: 50 * time.Millisecond,
		PongWait:     200 * time.Millisecond,
	})

	stream, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	result := make(chan error, 1)
	go func() {
		_, err := stream.Next()
		result <- err
	}()

	select {
	case err := <-result:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Next still blocked on a silent peer")
	}
}

func TestWebsocketDialer_PongsKeepStreamOpen(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// The default ping handler answers with pongs while we read.
		go func() {
			time.Sleep(500 * time.Millisecond)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"StasisStart","channel":{"id":"late"}}`))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := NewWebsocketDialer(StreamConfig{
		EventsURL:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ari/events",
		App:          "voice-bridge",
		PingInterval: 50 * time.Millisecond,
		PongWait:     200 * time.Millisecond,
	})

	stream, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	msg, err := stream.Next()
	require.NoError(t, err, "stream must survive past the pong wait while the peer answers pings")
	assert.Contains(t, string(msg), "late")
}
