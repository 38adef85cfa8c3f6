package recordings

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coachline/backend/internal/models"
	"github.com/coachline/backend/internal/video"
	"github.com/coachline/backend/pkg/queue"
	"github.com/coachline/backend/pkg/response"
)

// EventRecordingReady is the provider event sent once a cloud recording can be downloaded.
const EventRecordingReady = "recording.ready-to-download"

const maxWebhookBody = 1 << 20

// WebhookEvent is the provider webhook envelope.
type WebhookEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RecordingReadyPayload is the payload of EventRecordingReady.
type RecordingReadyPayload struct {
	RecordingID string `json:"recording_id"`
	RoomName    string `json:"room_name"`
	Duration    int    `json:"duration"`
}

// RecordingSaver stores provider recordings against their session.
type RecordingSaver interface {
	SaveRecording(ctx context.Context, sessionID int64, providerRecordingID string, durationSeconds int) (*models.RecordingRef, error)
}

// ArchiveQueue schedules recordings for archiving.
type ArchiveQueue interface {
	EnqueueRecordingArchive(ctx context.Context, payload queue.RecordingArchivePayload) error
}

// WebhookHandler handles recording webhooks from the room provider.
type WebhookHandler struct {
	saver      RecordingSaver
	queue      ArchiveQueue
	roomPrefix string
	secret     []byte
	logger     *zap.Logger
}

// NewWebhookHandler creates a webhook handler. secret is the provider's base64 HMAC secret;
// empty disables signature checks.
func NewWebhookHandler(saver RecordingSaver, q ArchiveQueue, roomPrefix, secret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &WebhookHandler{saver: saver, queue: q, roomPrefix: roomPrefix, logger: logger}
	if secret != "" {
		key, err := base64.StdEncoding.DecodeString(secret)
		if err != nil {
			key = []byte(secret)
		}
		h.secret = key
	}
	return h
}

// Sign computes the signature the provider sends in X-Webhook-Signature.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp + "."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Provider handles POST /webhooks/daily. Unknown events and rooms this server did not name are
// acknowledged and ignored so the provider stops retrying them.
func (h *WebhookHandler) Provider(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if h.secret != nil {
		want := Sign(h.secret, c.GetHeader("X-Webhook-Timestamp"), body)
		if !hmac.Equal([]byte(want), []byte(c.GetHeader("X-Webhook-Signature"))) {
			response.Unauthorized(c, "invalid signature")
			return
		}
	}

	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if ev.Type != EventRecordingReady {
		h.logger.Debug("ignoring provider event", zap.String("type", ev.Type))
		c.JSON(http.StatusOK, gin.H{"success": true, "ignored": true})
		return
	}

	var p RecordingReadyPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.RecordingID == "" {
		h.logger.Warn("ignoring recording event without recording_id", zap.String("room_name", p.RoomName))
		c.JSON(http.StatusOK, gin.H{"success": true, "ignored": true})
		return
	}
	sessionID, ok := video.ParseRoomName(h.roomPrefix, p.RoomName)
	if !ok {
		h.logger.Warn("recording for unknown room", zap.String("room_name", p.RoomName), zap.String("provider_recording_id", p.RecordingID))
		c.JSON(http.StatusOK, gin.H{"success": true, "ignored": true})
		return
	}

	rec, err := h.saver.SaveRecording(c.Request.Context(), sessionID, p.RecordingID, p.Duration)
	if err != nil {
		if errors.Is(err, video.ErrVideoDisabled) {
			response.ServiceUnavailable(c, err.Error())
			return
		}
		if errors.Is(err, video.ErrSessionNotFound) {
			h.logger.Warn("recording for deleted session", zap.Int64("session_id", sessionID), zap.String("provider_recording_id", p.RecordingID))
			c.JSON(http.StatusOK, gin.H{"success": true, "ignored": true})
			return
		}
		h.logger.Error("save recording failed", zap.Error(err), zap.Int64("session_id", sessionID))
		response.Internal(c, "failed to save recording")
		return
	}

	if rec.ArchiveStatus == models.ArchiveStatusPending && h.queue != nil {
		if err := h.queue.EnqueueRecordingArchive(c.Request.Context(), queue.RecordingArchivePayload{
			RecordingID:         rec.ID,
			SessionID:           rec.SessionID,
			ProviderRecordingID: rec.ProviderRecordingID,
		}); err != nil {
			h.logger.Error("enqueue recording archive failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
			response.Internal(c, "failed to enqueue archive")
			return
		}
	}

	h.logger.Info("recording webhook processed",
		zap.String("recording_id", rec.ID.String()),
		zap.Int64("session_id", sessionID),
	)
	c.JSON(http.StatusOK, gin.H{"success": true, "recording_id": rec.ID, "share_token": rec.ShareToken})
}
