package recordings

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coachline/backend/internal/models"
	"github.com/coachline/backend/internal/video"
	"github.com/coachline/backend/pkg/response"
)

// ShareResolver resolves public share tokens.
type ShareResolver interface {
	RecordingByShareToken(ctx context.Context, token string) (*models.RecordingRef, error)
}

// Presigner signs download links for archived recordings.
type Presigner interface {
	PresignRecording(ctx context.Context, key string) (string, time.Duration, error)
}

// Handler serves shared recordings. No JWT: the share token is the credential.
type Handler struct {
	recordings ShareResolver
	s3         Presigner
	logger     *zap.Logger
}

// NewHandler creates a recordings handler. s3 may be nil when archiving is not configured.
func NewHandler(recordings ShareResolver, s3 Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{recordings: recordings, s3: s3, logger: logger}
}

// Shared handles GET /recordings/shared/:token.
func (h *Handler) Shared(c *gin.Context) {
	rec, err := h.recordings.RecordingByShareToken(c.Request.Context(), c.Param("token"))
	switch {
	case errors.Is(err, video.ErrRecordingNotFound):
		response.NotFound(c, err.Error())
		return
	case errors.Is(err, video.ErrShareExpired):
		response.Gone(c, err.Error())
		return
	case err != nil:
		h.logger.Error("resolve share token failed", zap.Error(err))
		response.Internal(c, "failed to load recording")
		return
	}

	out := gin.H{"recording": rec}
	if rec.ArchiveStatus == models.ArchiveStatusArchived && rec.S3Key != "" && h.s3 != nil {
		url, expire, err := h.s3.PresignRecording(c.Request.Context(), rec.S3Key)
		if err != nil {
			h.logger.Error("presign recording download failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
			response.Internal(c, "failed to generate download URL")
			return
		}
		out["download_url"] = url
		out["expires_in"] = int(expire.Seconds())
	}
	response.OK(c, out)
}
