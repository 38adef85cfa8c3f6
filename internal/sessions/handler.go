package sessions

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coachline/backend/internal/middleware"
	"github.com/coachline/backend/internal/models"
	"github.com/coachline/backend/pkg/response"
)

// Store is the persistence the handler needs.
type Store interface {
	Create(ctx context.Context, s *models.ScheduledSession) error
	GetByID(ctx context.Context, id int64) (*models.ScheduledSession, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.ScheduledSession, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
}

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	ParticipantUserID string `json:"participant_user_id" binding:"required,uuid"`
	Title             string `json:"title" binding:"required"`
	ScheduledAt       string `json:"scheduled_at" binding:"required"`
	DurationMinutes   int    `json:"duration_minutes"`
}

// StatusRequest is the body for PATCH /sessions/:id/status.
type StatusRequest struct {
	Status string `json:"status" binding:"required,oneof=scheduled completed cancelled"`
}

// Handler handles scheduled session endpoints.
type Handler struct {
	repo   Store
	logger *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(repo Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// Create handles POST /sessions (coach or admin). The caller becomes the host.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		response.BadRequest(c, "invalid scheduled_at")
		return
	}
	hostID := middleware.UserID(c)
	participantID := uuid.MustParse(req.ParticipantUserID)
	if participantID == hostID {
		response.BadRequest(c, "participant must differ from host")
		return
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = 60
	}

	s := &models.ScheduledSession{
		HostUserID:        hostID,
		ParticipantUserID: participantID,
		Title:             req.Title,
		ScheduledAt:       scheduledAt,
		DurationMinutes:   req.DurationMinutes,
		Status:            models.SessionStatusScheduled,
	}
	if err := h.repo.Create(c.Request.Context(), s); err != nil {
		h.logger.Error("create session failed", zap.Error(err))
		response.Internal(c, "failed to create session")
		return
	}
	response.Created(c, s)
}

// List handles GET /sessions: the caller's sessions as host or participant.
func (h *Handler) List(c *gin.Context) {
	userID := middleware.UserID(c)
	list, err := h.repo.ListForUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list sessions failed", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "failed to list sessions")
		return
	}
	response.OK(c, list)
}

// GetByID handles GET /sessions/:id. Members only.
func (h *Handler) GetByID(c *gin.Context) {
	s, ok := h.load(c)
	if !ok {
		return
	}
	response.OK(c, s)
}

// UpdateStatus handles PATCH /sessions/:id/status. Host only.
func (h *Handler) UpdateStatus(c *gin.Context) {
	s, ok := h.load(c)
	if !ok {
		return
	}
	if s.HostUserID != middleware.UserID(c) {
		response.Forbidden(c, "only the session host can do this")
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.repo.UpdateStatus(c.Request.Context(), s.ID, req.Status); err != nil {
		h.logger.Error("update session status failed", zap.Error(err), zap.Int64("session_id", s.ID))
		response.Internal(c, "failed to update session")
		return
	}
	s.Status = req.Status
	response.OK(c, s)
}

func (h *Handler) load(c *gin.Context) (*models.ScheduledSession, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid session id")
		return nil, false
	}
	s, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("load session failed", zap.Error(err), zap.Int64("session_id", id))
		response.Internal(c, "failed to load session")
		return nil, false
	}
	if s == nil {
		response.NotFound(c, "session not found")
		return nil, false
	}
	if !s.IsMember(middleware.UserID(c)) {
		response.Forbidden(c, "not a member of this session")
		return nil, false
	}
	return s, true
}
