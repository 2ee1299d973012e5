package env

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv             string `env:"APP_ENV" envDefault:"development"`
	AppPort            string `env:"APP_PORT" envDefault:"8080"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// ARI control plane and event stream
	ARIBaseURL      string        `env:"ARI_BASE_URL" envDefault:"http://localhost:8088/ari"`
	ARIEventsURL    string        `env:"ARI_EVENTS_URL" envDefault:"ws://localhost:8088/ari/events"`
	ARIUsername     string        `env:"ARI_USERNAME" envDefault:"asterisk"`
	ARIPassword     string        `env:"ARI_PASSWORD" envDefault:"asterisk"`
	ARIApp          string        `env:"ARI_APP" envDefault:"voice-bridge"`
	ARIReadTimeout  time.Duration `env:"ARI_READ_TIMEOUT" envDefault:"10s"`
	ARIWriteTimeout time.Duration `env:"ARI_WRITE_TIMEOUT" envDefault:"20s"`

	EventsReconnectDelay    time.Duration `env:"EVENTS_RECONNECT_DELAY" envDefault:"3s"`
	EventsReconnectMaxDelay time.Duration `env:"EVENTS_RECONNECT_MAX_DELAY" envDefault:"0s"` // 0 keeps the fixed delay
	EventsPingInterval      time.Duration `env:"EVENTS_PING_INTERVAL" envDefault:"20s"`

	// Media exporter
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	MediaRoot     string `env:"MEDIA_ROOT" envDefault:"/data/media"`

	// Channel handler
	GreetingText  string        `env:"GREETING_TEXT" envDefault:"Hello, thank you for calling. Goodbye."`
	FallbackSound string        `env:"FALLBACK_SOUND" envDefault:"sound:hello-world"`
	PlaybackWait  time.Duration `env:"PLAYBACK_WAIT" envDefault:"4s"`
	ChannelDedup  bool          `env:"CHANNEL_DEDUP" envDefault:"false"`

	// TTS
	TTSProvider            string        `env:"TTS_PROVIDER" envDefault:"openai"`
	TTSTimeout             time.Duration `env:"TTS_TIMEOUT" envDefault:"30s"`
	OpenAIApiKey           string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL          string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAITTSModel         string        `env:"OPENAI_TTS_MODEL" envDefault:"gpt-4o-mini-tts"`
	OpenAITTSVoice         string        `env:"OPENAI_TTS_VOICE" envDefault:"alloy"`
	OpenAITTSFormat        string        `env:"OPENAI_TTS_FORMAT" envDefault:"wav"` // wav, mp3 or pcm (stored as 8 kHz slin)
	ElevenLabsApiKey       string        `env:"ELEVENLABS_API_KEY"`
	ElevenLabsVoiceID      string        `env:"ELEVENLABS_VOICE_ID" envDefault:"21m00Tcm4TlvDq8ikWAM"`
	ElevenLabsModel        string        `env:"ELEVENLABS_MODEL" envDefault:"eleven_multilingual_v2"`
	ElevenLabsOutputFormat string        `env:"ELEVENLABS_OUTPUT_FORMAT" envDefault:"ulaw_8000"`

	// Outbound dialing
	DialEndpointTemplate string `env:"DIAL_ENDPOINT_TEMPLATE" envDefault:"PJSIP/%s"`
	DialCallerID         string `env:"DIAL_CALLER_ID"`

	// Outbound API auth
	JWTSecret   string `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer   string `env:"JWT_ISSUER" envDefault:"pbx-voice-bridge"`
	JWTAudience string `env:"JWT_AUDIENCE" envDefault:"pbx-voice-bridge-api"`

	// Optional backing services. Empty disables them.
	RedisURL string `env:"REDIS_URL"`
	MongoURI string `env:"MONGO_URI"`
	DBName   string `env:"DB_NAME" envDefault:"voice_bridge"`

	APIRateLimitRPM int `env:"API_RATE_LIMIT_RPM" envDefault:"120"`

	OTELEndpoint string `env:"OTEL_ENDPOINT"`
	OTELEnabled  bool   `env:"OTEL_ENABLED" envDefault:"false"`
}

func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// A missing .env is fine, production injects variables directly
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	cfg := &Config{}
	if err := cenv.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values that would otherwise fail late, on the first call.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"ARI_BASE_URL":    c.ARIBaseURL,
		"ARI_EVENTS_URL":  c.ARIEventsURL,
		"PUBLIC_BASE_URL": c.PublicBaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s %q: must be an absolute URL", name, raw)
		}
	}

	if c.ARIApp == "" {
		return fmt.Errorf("ARI_APP must not be empty")
	}
	if c.MediaRoot == "" {
		return fmt.Errorf("MEDIA_ROOT must not be empty")
	}
	if c.EventsReconnectDelay <= 0 {
		return fmt.Errorf("EVENTS_RECONNECT_DELAY must be positive")
	}
	if c.EventsPingInterval <= 0 {
		return fmt.Errorf("EVENTS_PING_INTERVAL must be positive")
	}
	if c.ARIReadTimeout <= 0 || c.ARIWriteTimeout <= 0 {
		return fmt.Errorf("ARI timeouts must be positive")
	}
	if c.PlaybackWait < 0 {
		return fmt.Errorf("PLAYBACK_WAIT must not be negative")
	}
	if !strings.Contains(c.DialEndpointTemplate, "%s") {
		return fmt.Errorf("DIAL_ENDPOINT_TEMPLATE must contain %%s")
	}

	switch strings.ToLower(c.TTSProvider) {
	case "openai", "elevenlabs":
	default:
		return fmt.Errorf("unknown TTS_PROVIDER: %s", c.TTSProvider)
	}

	switch c.OpenAITTSFormat {
	case "wav", "mp3", "pcm":
	default:
		return fmt.Errorf("unsupported OPENAI_TTS_FORMAT: %s", c.OpenAITTSFormat)
	}

	return nil
}
