package user

import (
	"context"
	"net/http"
	"strings"

	"PPRelay/global"
	"PPRelay/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PresenceChecker answers whether a user currently has a live presence
// record.
type PresenceChecker interface {
	IsOnline(ctx context.Context, username string) (bool, error)
}

type Handler struct {
	presence PresenceChecker
	log      *zap.Logger
}

func NewHandler(p PresenceChecker, log *zap.Logger) *Handler {
	return &Handler{presence: p, log: log}
}

// Routes mounts the presence query on r.
func (h *Handler) Routes(r gin.IRoutes, opt middleware.RouteOpt) {
	middleware.GET(r, "/is-online/:username", h.IsOnline, opt)
}

// IsOnline handles GET /is-online/:username. A store failure is a 500, never
// a false "offline".
func (h *Handler) IsOnline(c *gin.Context) {
	username := strings.TrimSpace(c.Param("username"))
	online, err := h.presence.IsOnline(c.Request.Context(), username)
	if err != nil {
		h.log.Warn("presence lookup", zap.String("username", username), zap.Error(err),
			zap.String("request_id", c.GetString(middleware.CtxRequestID)))
		global.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"isOnline": online})
}
