package video

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coachline/backend/internal/middleware"
	"github.com/coachline/backend/pkg/response"
)

// Handler exposes the session video operations over HTTP. JWT required.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a video handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the session video routes. The group must already run the JWT middleware.
func (h *Handler) Register(api gin.IRoutes) {
	api.GET("/video/enabled", h.Enabled)
	api.POST("/sessions/:id/video/room", h.CreateRoom)
	api.POST("/sessions/:id/video/join", h.JoinRoom)
	api.POST("/sessions/:id/video/end", h.EndRoom)
	api.GET("/sessions/:id/recordings", h.ListRecordings)
}

// Enabled handles GET /video/enabled.
func (h *Handler) Enabled(c *gin.Context) {
	response.OK(c, gin.H{"enabled": h.svc.Enabled()})
}

// CreateRoom handles POST /sessions/:id/video/room. Host only.
func (h *Handler) CreateRoom(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	userID := middleware.UserID(c)
	res, err := h.svc.StartSessionVideo(c.Request.Context(), sessionID, userID, c.GetString(middleware.ContextUserName))
	if err != nil {
		h.fail(c, "create room", sessionID, err)
		return
	}
	response.OK(c, res)
}

// JoinRoom handles POST /sessions/:id/video/join.
func (h *Handler) JoinRoom(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	userID := middleware.UserID(c)
	res, err := h.svc.JoinSessionVideo(c.Request.Context(), sessionID, userID, c.GetString(middleware.ContextUserName))
	if err != nil {
		h.fail(c, "join room", sessionID, err)
		return
	}
	response.OK(c, res)
}

// EndRoom handles POST /sessions/:id/video/end. Host only.
func (h *Handler) EndRoom(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	userID := middleware.UserID(c)
	if err := h.svc.EndSessionVideo(c.Request.Context(), sessionID, userID); err != nil {
		h.fail(c, "end room", sessionID, err)
		return
	}
	response.OK(c, gin.H{"success": true})
}

// ListRecordings handles GET /sessions/:id/recordings.
func (h *Handler) ListRecordings(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	userID := middleware.UserID(c)
	list, err := h.svc.Recordings(c.Request.Context(), sessionID, userID)
	if err != nil {
		h.fail(c, "list recordings", sessionID, err)
		return
	}
	response.OK(c, list)
}

// CacheStats handles GET /video/cache-stats (admin).
func (h *Handler) CacheStats(c *gin.Context) {
	response.OK(c, h.svc.CacheStats())
}

func sessionParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid session id")
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(c *gin.Context, op string, sessionID int64, err error) {
	var perr *ProviderError
	switch {
	case errors.Is(err, ErrVideoDisabled):
		response.ServiceUnavailable(c, err.Error())
	case errors.Is(err, ErrNoRoom):
		response.ErrorCode(c, http.StatusNotFound, err.Error(), "NO_ROOM")
	case errors.Is(err, ErrSessionNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrNotHost), errors.Is(err, ErrNotParticipant):
		response.Forbidden(c, err.Error())
	case errors.As(err, &perr), errors.Is(err, context.DeadlineExceeded):
		h.logger.Error(op+" failed at provider", zap.Error(err), zap.Int64("session_id", sessionID))
		response.BadGateway(c, "video provider unavailable")
	default:
		h.logger.Error(op+" failed", zap.Error(err), zap.Int64("session_id", sessionID))
		response.Internal(c, "failed to "+op)
	}
}
