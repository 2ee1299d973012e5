package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/troikatech/pbx-voice-bridge/pkg/media"
	"github.com/troikatech/pbx-voice-bridge/pkg/otel"
)

// ErrNotConfigured is returned by providers that have no API key.
var ErrNotConfigured = errors.New("speech provider not configured")

// SynthesisError wraps any failure turning text into a stored asset.
type SynthesisError struct {
	Provider string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis via %s failed: %v", e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Audio is provider output ready to be stored.
type Audio struct {
	Data        []byte
	Extension   string
	ContentType string
}

// Provider is one text-to-speech upstream.
type Provider interface {
	Name() string
	IsAvailable() bool
	Speak(ctx context.Context, text string) (*Audio, error)
}

// AssetWriter persists synthesized audio. media.Store implements it.
type AssetWriter interface {
	Put(data []byte, ext, contentType string) (media.Asset, error)
}

// Synthesizer turns text into a media asset the exchange can fetch.
type Synthesizer struct {
	provider Provider
	store    AssetWriter
	logger   *zap.Logger
	budget   time.Duration
}

func NewSynthesizer(provider Provider, store AssetWriter, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{provider: provider, store: store, logger: logger}
}

// WithBudget caps one Synthesize call, retries and backoff included.
// Zero leaves the call bounded only by the caller's context.
func (s *Synthesizer) WithBudget(d time.Duration) *Synthesizer {
	s.budget = d
	return s
}

// Provider returns the configured upstream name.
func (s *Synthesizer) Provider() string {
	return s.provider.Name()
}

func (s *Synthesizer) IsAvailable() bool {
	return s.provider.IsAvailable()
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) (asset media.Asset, err error) {
	name := s.provider.Name()
	ctx, span := otel.StartClientSpan(ctx, "tts.synthesize",
		attribute.String("tts.provider", name),
		attribute.Int("tts.text_length", len(text)),
	)
	defer func() { otel.EndSpan(span, err) }()

	if strings.TrimSpace(text) == "" {
		return media.Asset{}, &SynthesisError{Provider: name, Err: errors.New("text cannot be empty")}
	}
	if !s.provider.IsAvailable() {
		return media.Asset{}, &SynthesisError{Provider: name, Err: ErrNotConfigured}
	}

	if s.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.budget)
		defer cancel()
	}

	start := time.Now()
	audio, err := s.provider.Speak(ctx, text)
	if err != nil {
		return media.Asset{}, &SynthesisError{Provider: name, Err: err}
	}
	if len(audio.Data) == 0 {
		return media.Asset{}, &SynthesisError{Provider: name, Err: errors.New("provider returned no audio")}
	}

	asset, err = s.store.Put(audio.Data, audio.Extension, audio.ContentType)
	if err != nil {
		return media.Asset{}, &SynthesisError{Provider: name, Err: err}
	}

	s.logger.Debug("Speech synthesized",
		zap.String("provider", name),
		zap.String("asset", asset.Name),
		zap.Int64("bytes", asset.Size),
		zap.Duration("latency", time.Since(start)),
	)
	return asset, nil
}

// extensionFor maps provider output formats to file extensions the exchange
// can play.
func extensionFor(format string) string {
	switch {
	case format == "wav":
		return ".wav"
	case format == "mp3" || strings.HasPrefix(format, "mp3_"):
		return ".mp3"
	case format == "ulaw_8000":
		return ".ulaw"
	case format == "pcm_8000":
		return ".sln"
	case format == "pcm_16000":
		return ".sln16"
	default:
		return ""
	}
}

// NewProvider picks the upstream named by TTS_PROVIDER.
func NewProvider(name string, openAI OpenAIConfig, elevenLabs ElevenLabsConfig, logger *zap.Logger) (Provider, error) {
	switch strings.ToLower(name) {
	case "", "openai":
		return NewOpenAIProvider(openAI, logger), nil
	case "elevenlabs":
		return NewElevenLabsProvider(elevenLabs, logger), nil
	default:
		return nil, fmt.Errorf("unknown speech provider %q", name)
	}
}
