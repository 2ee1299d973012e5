package bridge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/pbx-voice-bridge/pkg/ari"
	"github.com/troikatech/pbx-voice-bridge/pkg/logger"
	"github.com/troikatech/pbx-voice-bridge/pkg/metrics"
	"github.com/troikatech/pbx-voice-bridge/pkg/retry"
)

// Dispatcher starts handling a channel without blocking. *Bridge implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, channelID string)
}

type ListenerConfig struct {
	// ReconnectDelay is the pause after the stream ends before redialing.
	ReconnectDelay time.Duration
	// ReconnectMaxDelay above ReconnectDelay turns on exponential backoff
	// across consecutive failed dials, capped at this value.
	ReconnectMaxDelay time.Duration
}

// Listener holds the single event subscription and hands each start event to
// the dispatcher. It reconnects forever until its context is cancelled.
type Listener struct {
	cfg        ListenerConfig
	dialer     ari.StreamDialer
	dispatcher Dispatcher
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewListener(cfg ListenerConfig, dialer ari.StreamDialer, dispatcher Dispatcher, log *zap.Logger) *Listener {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	return &Listener{
		cfg:        cfg,
		dialer:     dialer,
		dispatcher: dispatcher,
		logger:     log,
		sleep:      sleepContext,
	}
}

// Run returns only once ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	failedDials := 0

	for {
		if ctx.Err() != nil {
			return
		}

		stream, err := l.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failedDials++
			l.logger.Warn("Event stream subscription failed", zap.Error(err), zap.Int("attempt", failedDials))
		} else {
			failedDials = 0
			l.logger.Info("Event stream connected")
			metrics.SetStreamConnected(true)

			l.consume(ctx, stream)

			metrics.SetStreamConnected(false)
			_ = stream.Close()
			if ctx.Err() != nil {
				return
			}
		}

		delay := l.reconnectDelay(failedDials)
		l.logger.Info("Reconnecting to event stream", zap.Duration("delay", delay))
		if err := l.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// reconnectDelay is the fixed delay unless a larger cap enables backoff.
func (l *Listener) reconnectDelay(failedDials int) time.Duration {
	if l.cfg.ReconnectMaxDelay <= l.cfg.ReconnectDelay || failedDials <= 1 {
		return l.cfg.ReconnectDelay
	}
	backoff := retry.Config{
		InitialDelay: l.cfg.ReconnectDelay,
		MaxDelay:     l.cfg.ReconnectMaxDelay,
		Multiplier:   2,
	}
	return backoff.Backoff(failedDials - 1)
}

func (l *Listener) consume(ctx context.Context, stream ari.Stream) {
	for {
		msg, err := stream.Next()
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Warn("Event stream closed", zap.Error(err))
			}
			return
		}

		event, err := ari.DecodeEvent(msg)
		if err != nil {
			l.logger.Warn("Dropping undecodable event", zap.Error(err), zap.Int("bytes", len(msg)))
			continue
		}
		metrics.RecordEvent(event.Kind())

		start, ok := event.(*ari.StasisStart)
		if !ok {
			l.logger.Debug("Ignoring event", logger.EventKind(event.Kind()), logger.Channel(event.ChannelID()))
			continue
		}
		if start.ChannelID() == "" {
			l.logger.Debug("Ignoring start event without channel")
			continue
		}

		l.dispatcher.Dispatch(ctx, start.ChannelID())
	}
}
