package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/pbx-voice-bridge/pkg/ari"
	"github.com/troikatech/pbx-voice-bridge/pkg/calllog"
	"github.com/troikatech/pbx-voice-bridge/pkg/logger"
	"github.com/troikatech/pbx-voice-bridge/pkg/media"
	"github.com/troikatech/pbx-voice-bridge/pkg/metrics"
	"github.com/troikatech/pbx-voice-bridge/pkg/ownership"
	"github.com/troikatech/pbx-voice-bridge/pkg/retry"
	"github.com/troikatech/pbx-voice-bridge/pkg/utils"
)

// ControlPlane is the subset of the exchange's REST interface the bridge uses.
// *ari.Client implements it.
type ControlPlane interface {
	Answer(ctx context.Context, channelID string) error
	Play(ctx context.Context, channelID, mediaURI string) (*ari.Playback, error)
	Hangup(ctx context.Context, channelID string) error
	Originate(ctx context.Context, req ari.OriginateRequest) (*ari.Channel, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (media.Asset, error)
}

// MediaPublisher turns an asset name into the URL the exchange fetches.
type MediaPublisher interface {
	PublicURL(name string) string
}

// ValidationError is a caller mistake; no command is sent for it.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type Config struct {
	App           string
	GreetingText  string
	FallbackSound string
	PlaybackWait  time.Duration

	DialEndpointTemplate string
	DialCallerID         string

	HangupRetry retry.Config
}

func DefaultConfig() Config {
	return Config{
		App:                  "voice-bridge",
		GreetingText:         "Hello, thank you for calling. Goodbye.",
		FallbackSound:        "sound:hello-world",
		PlaybackWait:         4 * time.Second,
		DialEndpointTemplate: "PJSIP/%s",
		HangupRetry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
			Jitter:       true,
		},
	}
}

type Deps struct {
	Control   ControlPlane
	Synth     Synthesizer
	Publisher MediaPublisher
	Sink      calllog.Sink
	// Owners enables per-channel dedup when set.
	Owners ownership.Registry
	Logger *zap.Logger
}

// Bridge runs channel handlers for inbound calls and serves the outbound
// dial, play and hangup operations.
type Bridge struct {
	cfg       Config
	control   ControlPlane
	synth     Synthesizer
	publisher MediaPublisher
	sink      calllog.Sink
	owners    ownership.Registry
	logger    *zap.Logger

	wg    sync.WaitGroup
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func New(cfg Config, deps Deps) *Bridge {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Bridge{
		cfg:       cfg,
		control:   deps.Control,
		synth:     deps.Synth,
		publisher: deps.Publisher,
		sink:      deps.Sink,
		owners:    deps.Owners,
		logger:    deps.Logger,
		sleep:     sleepContext,
		now:       time.Now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Dispatch starts a handler for the channel and returns immediately. The
// handler does not inherit ctx's cancellation, so shutdown lets calls in
// progress finish; Wait drains them.
func (b *Bridge) Dispatch(ctx context.Context, channelID string) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.HandleChannel(context.WithoutCancel(ctx), channelID)
	}()
}

// Wait blocks until every dispatched handler has finished.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// HandleChannel runs one handler synchronously. With dedup enabled a channel
// that is already owned is skipped and the returned state is empty.
func (b *Bridge) HandleChannel(ctx context.Context, channelID string) State {
	if b.owners != nil {
		claimed, err := b.owners.Claim(ctx, channelID)
		if err != nil {
			// Registry down: handle the channel rather than drop the call.
			b.logger.Warn("Channel ownership check failed, handling anyway", logger.Channel(channelID), zap.Error(err))
		} else if !claimed {
			metrics.RecordDuplicateChannel()
			b.logger.Info("Channel already has a handler, ignoring start event", logger.Channel(channelID))
			return ""
		} else {
			defer func() {
				if err := b.owners.Release(ctx, channelID); err != nil {
					b.logger.Warn("Failed to release channel", logger.Channel(channelID), zap.Error(err))
				}
			}()
		}
	}

	return newChannelHandler(b, channelID).Run(ctx)
}

// greetingMedia synthesizes the greeting, or returns the fallback sound.
func (b *Bridge) greetingMedia(ctx context.Context, log *zap.Logger) string {
	return b.speakable(ctx, b.cfg.GreetingText, log)
}

func (b *Bridge) speakable(ctx context.Context, text string, log *zap.Logger) string {
	asset, err := b.synth.Synthesize(ctx, text)
	if err != nil {
		log.Warn("Speech synthesis failed, using fallback sound",
			zap.Error(err),
			zap.String("fallback", b.cfg.FallbackSound),
		)
		return b.cfg.FallbackSound
	}
	return ari.SoundURI(b.publisher.PublicURL(asset.Name))
}

type DialRequest struct {
	Endpoint  string `json:"endpoint"`
	To        string `json:"to"`
	App       string `json:"app"`
	Extension string `json:"exten"`
	Context   string `json:"context"`
	CallerID  string `json:"callerId"`
}

// Dial originates an outbound channel and logs it as ringing.
func (b *Bridge) Dial(ctx context.Context, req DialRequest) (*ari.Channel, error) {
	endpoint := strings.TrimSpace(req.Endpoint)
	if endpoint == "" {
		to := utils.NormalizeDialTarget(req.To)
		if to == "" {
			return nil, &ValidationError{Field: "endpoint", Message: "either endpoint or to is required"}
		}
		endpoint = fmt.Sprintf(b.cfg.DialEndpointTemplate, to)
	}

	app := req.App
	if app == "" {
		app = b.cfg.App
	}
	callerID := req.CallerID
	if callerID == "" {
		callerID = b.cfg.DialCallerID
	}

	startedAt := b.now()
	channel, err := b.control.Originate(ctx, ari.OriginateRequest{
		Endpoint:  endpoint,
		App:       app,
		Extension: req.Extension,
		Context:   req.Context,
		CallerID:  callerID,
	})
	if err != nil {
		b.logger.Error("Originate failed", logger.MaskEndpoint("endpoint", endpoint), zap.Error(err))
		return nil, err
	}

	rec := calllog.Record{
		ChannelID: channel.ID,
		Outcome:   calllog.OutcomeRinging,
		StartedAt: startedAt,
		Direction: calllog.DirectionOutbound,
		Endpoint:  endpoint,
	}
	if err := b.sink.Append(ctx, rec); err != nil {
		b.logger.Error("Failed to append call record", logger.Channel(channel.ID), zap.Error(err))
	}

	b.logger.Info("Outbound channel originated",
		logger.Channel(channel.ID),
		logger.MaskEndpoint("endpoint", endpoint),
	)
	return channel, nil
}

type PlayResult struct {
	Playback *ari.Playback
	Media    string
	// Fallback is set when synthesis failed and the static sound was played.
	Fallback bool
}

// PlayText speaks text on a channel someone else is tracking. It never
// touches a channel handler's state.
func (b *Bridge) PlayText(ctx context.Context, channelID, text string) (*PlayResult, error) {
	if strings.TrimSpace(channelID) == "" {
		return nil, &ValidationError{Field: "channel_id", Message: "is required"}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Field: "text", Message: "is required"}
	}

	log := b.logger.With(logger.Channel(channelID))
	mediaURI := b.speakable(ctx, text, log)

	playback, err := b.control.Play(ctx, channelID, mediaURI)
	if err != nil {
		log.Error("Mid-call playback failed", zap.Error(err))
		return nil, err
	}

	return &PlayResult{
		Playback: playback,
		Media:    mediaURI,
		Fallback: mediaURI == b.cfg.FallbackSound,
	}, nil
}

// Hangup ends a channel directly. A handler running on the same channel is
// not told and will find the channel gone on its own hangup.
func (b *Bridge) Hangup(ctx context.Context, channelID string) error {
	if strings.TrimSpace(channelID) == "" {
		return &ValidationError{Field: "channel_id", Message: "is required"}
	}
	if err := b.control.Hangup(ctx, channelID); err != nil {
		b.logger.Error("Hangup failed", logger.Channel(channelID), zap.Error(err))
		return err
	}
	b.logger.Info("Channel hung up on request", logger.Channel(channelID))
	return nil
}
