package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/troikatech/pbx-voice-bridge/pkg/errors"
	"github.com/troikatech/pbx-voice-bridge/pkg/utils"
)

// ListCalls returns recent call records, newest first.
func (h *Handler) ListCalls(c *gin.Context) {
	if h.calls == nil {
		errors.ServiceUnavailable(c, "call log not configured")
		return
	}

	pagination := utils.ParsePagination(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	records, err := h.calls.Recent(ctx, pagination.Offset(), pagination.Limit)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, utils.PaginatedResponse{
		Data:  records,
		Page:  pagination.Page,
		Limit: pagination.Limit,
		Count: len(records),
	})
}
