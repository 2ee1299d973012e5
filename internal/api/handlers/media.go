package handlers

import (
	stderrors "errors"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/troikatech/pbx-voice-bridge/pkg/errors"
	"github.com/troikatech/pbx-voice-bridge/pkg/media"
)

// ServeMedia returns a synthesized asset to the exchange. Anything that does
// not resolve to a regular file inside the media root is a 404.
func (h *Handler) ServeMedia(c *gin.Context) {
	name := c.Param("name")

	f, info, err := h.media.Open(name)
	if err != nil {
		if !stderrors.Is(err, media.ErrNotFound) {
			h.logger.Warn("Media lookup failed", zap.String("name", name), zap.Error(err))
		}
		errors.NotFound(c, "media not found")
		return
	}
	defer f.Close()

	c.Header("Content-Type", media.ContentTypeFor(filepath.Ext(name)))
	c.Header("Cache-Control", "public, max-age=3600")
	http.ServeContent(c.Writer, c.Request, name, info.ModTime(), f)
}
