package realtime

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coachline/backend/pkg/response"
	"github.com/coachline/backend/pkg/wire"
)

// Handler exposes the hub over HTTP.
type Handler struct {
	hub    *Hub
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates a realtime handler.
func NewHandler(hub *Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{hub: hub, logger: logger, now: time.Now}
}

// NotifyRequest is the body for POST /notifications.
type NotifyRequest struct {
	UserIDs []string `json:"user_ids" binding:"required,min=1"`
	Type    string   `json:"type" binding:"required"`
	Title   string   `json:"title" binding:"required"`
	Message string   `json:"message"`
	Link    string   `json:"link"`
}

// Notify handles POST /notifications (admin). Users without an open connection miss it.
func (h *Handler) Notify(c *gin.Context) {
	var req NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	n := wire.Notification{
		ID:        uuid.NewString(),
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Link:      req.Link,
		CreatedAt: h.now().UnixMilli(),
	}
	delivered := h.hub.SendToUsers(req.UserIDs, wire.TypeNotification, n)
	h.logger.Info("notification pushed", zap.String("notification_id", n.ID), zap.Int("recipients", len(req.UserIDs)), zap.Int("delivered", delivered))
	response.OK(c, gin.H{"id": n.ID, "delivered": delivered})
}

// Presence handles GET /presence.
func (h *Handler) Presence(c *gin.Context) {
	users := h.hub.PresenceSnapshot()
	response.OK(c, gin.H{"users": users, "count": len(users)})
}
