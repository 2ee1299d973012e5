package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/troikatech/pbx-voice-bridge/pkg/ari"
	"github.com/troikatech/pbx-voice-bridge/pkg/calllog"
	"github.com/troikatech/pbx-voice-bridge/pkg/logger"
	"github.com/troikatech/pbx-voice-bridge/pkg/metrics"
	"github.com/troikatech/pbx-voice-bridge/pkg/otel"
	"github.com/troikatech/pbx-voice-bridge/pkg/retry"
)

// State is a channel handler's position in the answer, speak, hangup flow.
type State string

const (
	StateEntered  State = "entered"
	StateAnswered State = "answered"
	StateSpeaking State = "speaking"
	StateHungUp   State = "hung_up"
	StateFailed   State = "failed"
)

func (s State) Terminal() bool {
	return s == StateHungUp || s == StateFailed
}

// ChannelHandler drives one inbound channel from entry to hangup. It is the
// only thing that issues commands for its channel and it runs to completion;
// nothing cancels it from outside.
type ChannelHandler struct {
	channelID string
	b         *Bridge
	log       *zap.Logger

	state     State
	history   []State
	startedAt time.Time
}

func newChannelHandler(b *Bridge, channelID string) *ChannelHandler {
	return &ChannelHandler{
		channelID: channelID,
		b:         b,
		log:       b.logger.With(logger.Channel(channelID)),
		state:     StateEntered,
		history:   []State{StateEntered},
		startedAt: b.now(),
	}
}

func (h *ChannelHandler) State() State {
	return h.state
}

// History lists every state the handler passed through, in order.
func (h *ChannelHandler) History() []State {
	return append([]State(nil), h.history...)
}

func (h *ChannelHandler) transition(next State) {
	h.log.Debug("Channel state change", zap.String("from", string(h.state)), logger.State(string(next)))
	h.state = next
	h.history = append(h.history, next)
}

// Run executes the flow and appends exactly one call record.
func (h *ChannelHandler) Run(ctx context.Context) State {
	ctx, span := otel.StartSpan(ctx, "bridge.channel", attribute.String("channel.id", h.channelID))
	metrics.HandlerStarted()

	h.log.Info("Handling channel")

	if err := h.b.control.Answer(ctx, h.channelID); err != nil {
		h.log.Error("Failed to answer channel", zap.Error(err))
		if hangupErr := h.b.control.Hangup(ctx, h.channelID); hangupErr != nil && !ari.IsChannelGone(hangupErr) {
			h.log.Warn("Cleanup hangup failed", zap.Error(hangupErr))
		}
		return h.finish(ctx, span, StateFailed, calllog.OutcomeFailed, fmt.Errorf("answer: %w", err))
	}
	h.transition(StateAnswered)

	var detail string
	mediaURI := h.b.greetingMedia(ctx, h.log)
	if _, err := h.b.control.Play(ctx, h.channelID, mediaURI); err != nil {
		// A silent connected call is worse than an abrupt hangup.
		h.log.Warn("Playback request failed, hanging up", zap.Error(err))
		detail = fmt.Sprintf("play: %v", err)
	} else {
		h.transition(StateSpeaking)
		if err := h.b.sleep(ctx, h.b.cfg.PlaybackWait); err != nil {
			h.log.Warn("Playback wait interrupted", zap.Error(err))
		}
	}

	err := h.hangup(ctx)
	switch {
	case err == nil:
		return h.finish(ctx, span, StateHungUp, calllog.OutcomeFinished, detailErr(detail))
	case ari.IsChannelGone(err):
		h.log.Info("Channel already gone before hangup")
		return h.finish(ctx, span, StateHungUp, calllog.OutcomeAbandoned, detailErr(detail))
	default:
		h.log.Error("Failed to hang up channel", zap.Error(err))
		return h.finish(ctx, span, StateFailed, calllog.OutcomeFailed, fmt.Errorf("hangup: %w", err))
	}
}

// hangup retries only when the exchange could not be reached.
func (h *ChannelHandler) hangup(ctx context.Context) error {
	cfg := h.b.cfg.HangupRetry
	cfg.Retryable = func(err error) bool { return errors.Is(err, ari.ErrUnavailable) }

	return retry.Do(ctx, cfg, func() error {
		return h.b.control.Hangup(ctx, h.channelID)
	})
}

func (h *ChannelHandler) finish(ctx context.Context, span trace.Span, final State, outcome calllog.Outcome, cause error) State {
	h.transition(final)

	rec := calllog.Record{
		ChannelID: h.channelID,
		Outcome:   outcome,
		StartedAt: h.startedAt,
		EndedAt:   h.b.now(),
		Direction: calllog.DirectionInbound,
	}
	if cause != nil {
		rec.Detail = cause.Error()
	}

	if err := h.b.sink.Append(ctx, rec); err != nil {
		h.log.Error("Failed to append call record", zap.Error(err))
	}

	metrics.HandlerFinished(string(outcome))
	h.log.Info("Channel handled",
		logger.State(string(final)),
		zap.String("outcome", string(outcome)),
		zap.Duration("duration", rec.EndedAt.Sub(rec.StartedAt)),
	)

	span.SetAttributes(attribute.String("channel.outcome", string(outcome)))
	if final == StateFailed {
		otel.EndSpan(span, cause)
	} else {
		otel.EndSpan(span, nil)
	}
	return final
}

func detailErr(detail string) error {
	if detail == "" {
		return nil
	}
	return errors.New(detail)
}
