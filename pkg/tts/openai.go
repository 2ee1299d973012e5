package tts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/pbx-voice-bridge/pkg/audio"
	"github.com/troikatech/pbx-voice-bridge/pkg/client"
	"github.com/troikatech/pbx-voice-bridge/pkg/media"
)

// openAIPCMRate is the fixed sample rate of OpenAI's raw pcm output.
const openAIPCMRate = 24000

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	// Format is wav, mp3 or pcm. pcm is downsampled to 8 kHz signed linear.
	Format  string
	Timeout time.Duration
}

// OpenAIProvider calls the /audio/speech endpoint.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	http   *client.HTTPClient
	logger *zap.Logger
}

func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini-tts"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	if cfg.Format == "" {
		cfg.Format = "wav"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &OpenAIProvider{
		cfg:    cfg,
		http:   client.NewHTTPClient("tts.openai", cfg.Timeout),
		logger: logger,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) IsAvailable() bool { return p.cfg.APIKey != "" }

func (p *OpenAIProvider) Speak(ctx context.Context, text string) (*Audio, error) {
	body := map[string]interface{}{
		"model":           p.cfg.Model,
		"voice":           p.cfg.Voice,
		"input":           text,
		"response_format": p.cfg.Format,
	}
	headers := map[string]string{
		"Authorization": "Bearer " + p.cfg.APIKey,
	}

	resp, err := p.http.PostJSON(ctx, strings.TrimRight(p.cfg.BaseURL, "/")+"/audio/speech", headers, body)
	if err != nil {
		return nil, err
	}

	if p.cfg.Format == "pcm" {
		slin, err := audio.Downsample(resp.Body, openAIPCMRate, 8000)
		if err != nil {
			return nil, fmt.Errorf("failed to convert openai pcm: %w", err)
		}
		return &Audio{Data: slin, Extension: ".sln", ContentType: media.ContentTypeFor(".sln")}, nil
	}

	ext := extensionFor(p.cfg.Format)
	return &Audio{Data: resp.Body, Extension: ext, ContentType: media.ContentTypeFor(ext)}, nil
}
