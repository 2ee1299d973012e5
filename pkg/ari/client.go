package ari

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/troikatech/pbx-voice-bridge/pkg/metrics"
	"github.com/troikatech/pbx-voice-bridge/pkg/otel"
)

const maxErrorBody = 2048

// Channel is the subset of the ARI channel object the bridge reads.
type Channel struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	State  string `json:"state"`
	Caller struct {
		Name   string `json:"name"`
		Number string `json:"number"`
	} `json:"caller"`
	Dialplan struct {
		Context string `json:"context"`
		Exten   string `json:"exten"`
	} `json:"dialplan"`
}

type Playback struct {
	ID        string `json:"id"`
	MediaURI  string `json:"media_uri"`
	TargetURI string `json:"target_uri"`
	State     string `json:"state"`
}

type AsteriskInfo struct {
	System struct {
		Version  string `json:"version"`
		EntityID string `json:"entity_id"`
	} `json:"system"`
}

// OriginateRequest creates an outbound channel. Only Endpoint is required.
type OriginateRequest struct {
	Endpoint  string
	App       string
	Extension string
	Context   string
	CallerID  string
}

type Config struct {
	BaseURL      string
	Username     string
	Password     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Client issues REST commands against the exchange. It is safe for
// concurrent use by many channel handlers.
type Client struct {
	baseURL  string
	username string
	password string
	reads    *http.Client
	writes   *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 20 * time.Second
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		reads:    &http.Client{Timeout: cfg.ReadTimeout},
		writes:   &http.Client{Timeout: cfg.WriteTimeout},
	}
}

// SoundURI turns an HTTP(S) media URL into a playable media reference.
// References that already carry a scheme such as "sound:" pass through.
func SoundURI(mediaURL string) string {
	if strings.HasPrefix(mediaURL, "http://") || strings.HasPrefix(mediaURL, "https://") {
		return "sound:" + mediaURL
	}
	return mediaURL
}

func (c *Client) Answer(ctx context.Context, channelID string) error {
	return c.do(ctx, "answer", http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/answer", nil, nil, nil)
}

// Play starts playback and returns without waiting for it to finish.
func (c *Client) Play(ctx context.Context, channelID, mediaURI string) (*Playback, error) {
	var playback Playback
	body := map[string]string{"media": mediaURI}
	err := c.do(ctx, "play", http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/play", nil, body, &playback)
	if err != nil {
		return nil, err
	}
	return &playback, nil
}

func (c *Client) Hangup(ctx context.Context, channelID string) error {
	return c.do(ctx, "hangup", http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/hangup", nil, nil, nil)
}

func (c *Client) Originate(ctx context.Context, req OriginateRequest) (*Channel, error) {
	query := url.Values{}
	query.Set("endpoint", req.Endpoint)
	query.Set("app", req.App)
	if req.Extension != "" {
		query.Set("extension", req.Extension)
	}
	if req.Context != "" {
		query.Set("context", req.Context)
	}
	if req.CallerID != "" {
		query.Set("callerId", req.CallerID)
	}

	var channel Channel
	if err := c.do(ctx, "originate", http.MethodPost, "/channels", query, nil, &channel); err != nil {
		return nil, err
	}
	return &channel, nil
}

// Info fetches the exchange's system info. The health check uses it.
func (c *Client) Info(ctx context.Context) (*AsteriskInfo, error) {
	var info AsteriskInfo
	if err := c.do(ctx, "info", http.MethodGet, "/asterisk/info", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) (err error) {
	start := time.Now()
	ctx, span := otel.StartClientSpan(ctx, "ari."+op,
		attribute.String("ari.operation", op),
		attribute.String("http.method", method),
	)
	defer func() {
		metrics.RecordServiceCall("ari."+op, err == nil, time.Since(start))
		otel.EndSpan(span, err)
	}()

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return fmt.Errorf("ari %s: failed to encode body: %w", op, marshalErr)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("ari %s: failed to create request: %w", op, err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.writes
	if method == http.MethodGet {
		httpClient = c.reads
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return &UnavailableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ControlPlaneError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("ari %s: failed to decode response: %w", op, err)
	}
	return nil
}
