package handlers

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/troikatech/pbx-voice-bridge/internal/bridge"
	"github.com/troikatech/pbx-voice-bridge/pkg/ari"
	"github.com/troikatech/pbx-voice-bridge/pkg/audit"
	"github.com/troikatech/pbx-voice-bridge/pkg/errors"
	"github.com/troikatech/pbx-voice-bridge/pkg/logger"
	"github.com/troikatech/pbx-voice-bridge/pkg/metrics"
	"github.com/troikatech/pbx-voice-bridge/pkg/middleware"
	"github.com/troikatech/pbx-voice-bridge/pkg/tts"
)

type PlayRequest struct {
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

type HangupRequest struct {
	ChannelID string `json:"channel_id"`
}

func (h *Handler) Dial(c *gin.Context) {
	start := time.Now()
	var req bridge.DialRequest
	if !h.bind(c, &req) {
		metrics.RecordRequest("/dial", false, time.Since(start))
		return
	}
	req.Endpoint = middleware.SanitizeString(req.Endpoint)
	req.To = middleware.SanitizeString(req.To)

	channel, err := h.ops.Dial(c.Request.Context(), req)
	metrics.RecordRequest("/dial", err == nil, time.Since(start))

	entry := audit.Entry{
		Operator: c.GetString(middleware.ContextOperator),
		Action:   audit.ActionDial,
		Success:  err == nil,
		Metadata: map[string]interface{}{
			"endpoint": logger.MaskEndpointString(req.Endpoint),
			"to":       logger.MaskEndpointString(req.To),
		},
	}
	if channel != nil {
		entry.ChannelID = channel.ID
	}
	h.recordAudit(c.Request.Context(), entry)

	if err != nil {
		h.controlError(c, "dial", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"channel_id": channel.ID,
		"channel":    channel,
	})
}

func (h *Handler) Play(c *gin.Context) {
	start := time.Now()
	var req PlayRequest
	if !h.bind(c, &req) || !h.validChannel(c, req.ChannelID) {
		metrics.RecordRequest("/play", false, time.Since(start))
		return
	}
	text := middleware.SanitizeString(req.Text)

	result, err := h.ops.PlayText(c.Request.Context(), req.ChannelID, text)
	metrics.RecordRequest("/play", err == nil, time.Since(start))

	entry := audit.Entry{
		Operator:  c.GetString(middleware.ContextOperator),
		Action:    audit.ActionPlay,
		ChannelID: req.ChannelID,
		Success:   err == nil,
		Metadata:  map[string]interface{}{"chars": len(text)},
	}
	if result != nil {
		entry.Metadata["fallback"] = result.Fallback
	}
	h.recordAudit(c.Request.Context(), entry)

	if err != nil {
		h.controlError(c, "play", err)
		return
	}

	resp := gin.H{
		"ok":         true,
		"channel_id": req.ChannelID,
		"media":      result.Media,
		"fallback":   result.Fallback,
	}
	if result.Playback != nil {
		resp["playback_id"] = result.Playback.ID
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Hangup(c *gin.Context) {
	start := time.Now()
	var req HangupRequest
	if !h.bind(c, &req) || !h.validChannel(c, req.ChannelID) {
		metrics.RecordRequest("/hangup", false, time.Since(start))
		return
	}

	err := h.ops.Hangup(c.Request.Context(), req.ChannelID)
	metrics.RecordRequest("/hangup", err == nil, time.Since(start))

	h.recordAudit(c.Request.Context(), audit.Entry{
		Operator:  c.GetString(middleware.ContextOperator),
		Action:    audit.ActionHangup,
		ChannelID: req.ChannelID,
		Success:   err == nil,
	})

	if err != nil {
		h.controlError(c, "hangup", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "channel_id": req.ChannelID})
}

func (h *Handler) bind(c *gin.Context, out interface{}) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			errors.PayloadTooLarge(c, "request body too large")
			return false
		}
		errors.BadRequest(c, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

// validChannel lets an empty id through so the bridge reports the missing
// field the same way for every operation.
func (h *Handler) validChannel(c *gin.Context, channelID string) bool {
	if channelID != "" && !middleware.ValidChannelID(channelID) {
		errors.BadRequest(c, "channel_id: malformed channel id")
		return false
	}
	return true
}

func (h *Handler) recordAudit(ctx context.Context, entry audit.Entry) {
	// Errors are logged inside Record.
	_ = h.audit.Record(ctx, entry)
}

const maxCauseLength = 256

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// controlError maps the bridge's error taxonomy onto problem responses.
func (h *Handler) controlError(c *gin.Context, op string, err error) {
	var validation *bridge.ValidationError
	var rejected *ari.ControlPlaneError
	var synthesis *tts.SynthesisError

	switch {
	case stderrors.As(err, &validation):
		errors.BadRequest(c, validation.Error())
	case stderrors.As(err, &rejected):
		errors.BadGateway(c, fmt.Sprintf("%s rejected by exchange: status %d: %s",
			op, rejected.Status, truncate(rejected.Body, maxCauseLength)))
	case stderrors.Is(err, ari.ErrUnavailable):
		errors.ServiceUnavailable(c, fmt.Sprintf("%s: exchange unreachable", op))
	case stderrors.As(err, &synthesis):
		errors.BadGateway(c, fmt.Sprintf("%s: speech synthesis failed (%s)", op, synthesis.Provider))
	default:
		h.logger.Error("Unexpected control error", zap.String("op", op), zap.Error(err))
		errors.InternalError(c, err, h.logger)
	}
}
