package ari

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Stream is one live event subscription.
type Stream interface {
	// Next blocks for the next text message. Any error ends the stream.
	Next() ([]byte, error)
	Close() error
}

// StreamDialer opens event subscriptions. The listener redials through it
// whenever a stream ends.
type StreamDialer interface {
	Dial(ctx context.Context) (Stream, error)
}

type StreamConfig struct {
	EventsURL        string
	App              string
	Username         string
	Password         string
	HandshakeTimeout time.Duration
	// PingInterval is how often the stream pings the exchange. A stream that
	// sees neither a pong nor an event for PongWait is closed.
	PingInterval time.Duration
	PongWait     time.Duration
}

// WebsocketDialer subscribes to the exchange's websocket event stream.
type WebsocketDialer struct {
	cfg    StreamConfig
	dialer websocket.Dialer
}

func NewWebsocketDialer(cfg StreamConfig) *WebsocketDialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = 3 * cfg.PingInterval
	}
	return &WebsocketDialer{
		cfg: cfg,
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

// SubscriptionURL builds {events_url}?app=..&api_key=user:pass, keeping any
// query parameters already present on the events URL.
func (d *WebsocketDialer) SubscriptionURL() (string, error) {
	u, err := url.Parse(d.cfg.EventsURL)
	if err != nil {
		return "", fmt.Errorf("invalid events url: %w", err)
	}

	q := u.Query()
	q.Set("app", d.cfg.App)
	q.Set("api_key", d.cfg.Username+":"+d.cfg.Password)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Stream, error) {
	target, err := d.SubscriptionURL()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	credentials := base64.StdEncoding.EncodeToString([]byte(d.cfg.Username + ":" + d.cfg.Password))
	header.Set("Authorization", "Basic "+credentials)

	conn, resp, err := d.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("event subscription rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, &UnavailableError{Op: "subscribe", Err: err}
	}

	s := &wsStream{
		conn:         conn,
		done:         make(chan struct{}),
		pingInterval: d.cfg.PingInterval,
		pongWait:     d.cfg.PongWait,
	}
	s.extendDeadline()
	conn.SetPongHandler(func(string) error {
		s.extendDeadline()
		return nil
	})
	go s.closeOnCancel(ctx)
	go s.keepAlive()
	return s, nil
}

type wsStream struct {
	conn         *websocket.Conn
	done         chan struct{}
	closeOnce    sync.Once
	pingInterval time.Duration
	pongWait     time.Duration
}

func (s *wsStream) extendDeadline() {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
}

// keepAlive pings until the stream closes. A half-open connection then
// fails the blocked read at the deadline instead of hanging forever.
func (s *wsStream) keepAlive() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.pingInterval)); err != nil {
				_ = s.conn.Close()
				return
			}
		}
	}
}

// Reads cannot take a context, so cancellation closes the connection to
// unblock them.
func (s *wsStream) closeOnCancel(ctx context.Context) {
	select {
	case <-ctx.Done():
		_ = s.Close()
	case <-s.done:
	}
}

func (s *wsStream) Next() ([]byte, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		s.extendDeadline()
		if msgType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
