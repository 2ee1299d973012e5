package tts

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/pbx-voice-bridge/pkg/client"
	"github.com/troikatech/pbx-voice-bridge/pkg/media"
)

type ElevenLabsConfig struct {
	APIKey       string
	BaseURL      string
	VoiceID      string
	ModelID      string
	OutputFormat string
	Timeout      time.Duration
}

// ElevenLabsProvider calls /text-to-speech/{voice}. The default ulaw_8000
// output plays on the exchange without transcoding.
type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	http   *client.HTTPClient
	logger *zap.Logger
}

func NewElevenLabsProvider(cfg ElevenLabsConfig, logger *zap.Logger) *ElevenLabsProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io/v1"
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = "21m00Tcm4TlvDq8ikWAM"
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "ulaw_8000"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &ElevenLabsProvider{
		cfg:    cfg,
		http:   client.NewHTTPClient("tts.elevenlabs", cfg.Timeout),
		logger: logger,
	}
}

func (p *ElevenLabsProvider) Name() string { return "elevenlabs" }

func (p *ElevenLabsProvider) IsAvailable() bool { return p.cfg.APIKey != "" }

func (p *ElevenLabsProvider) Speak(ctx context.Context, text string) (*Audio, error) {
	ext := extensionFor(p.cfg.OutputFormat)
	if ext == "" {
		return nil, fmt.Errorf("output format %q is not playable by the exchange", p.cfg.OutputFormat)
	}

	body := map[string]interface{}{
		"text":     text,
		"model_id": p.cfg.ModelID,
		"voice_settings": map[string]interface{}{
			"stability":        0.5,
			"similarity_boost": 0.5,
		},
	}
	headers := map[string]string{
		"xi-api-key": p.cfg.APIKey,
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s",
		strings.TrimRight(p.cfg.BaseURL, "/"), url.PathEscape(p.cfg.VoiceID), url.QueryEscape(p.cfg.OutputFormat))

	resp, err := p.http.PostJSON(ctx, endpoint, headers, body)
	if err != nil {
		return nil, err
	}

	return &Audio{Data: resp.Body, Extension: ext, ContentType: media.ContentTypeFor(ext)}, nil
}
