package recordings

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"

	"github.com/coachline/backend/internal/models"
	"github.com/coachline/backend/internal/video"
	"github.com/coachline/backend/pkg/queue"
)

type mockSaver struct {
	mock.Mock
}

func (m *mockSaver) SaveRecording(ctx context.Context, sessionID int64, providerRecordingID string, durationSeconds int) (*models.RecordingRef, error) {
	args := m.Called(ctx, sessionID, providerRecordingID, durationSeconds)
	if rec, ok := args.Get(0).(*models.RecordingRef); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) EnqueueRecordingArchive(ctx context.Context, payload queue.RecordingArchivePayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

const readyBody = `{"type":"recording.ready-to-download","payload":{"recording_id":"rec-1","room_name":"session-42-1700000000000","duration":1800}}`

func postWebhook(h *WebhookHandler, body string, header map[string]string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/daily", h.Provider)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/daily", strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func Test_WebhookRecordingReady(t *testing.T) {
	saver := &mockSaver{}
	q := &mockQueue{}
	defer saver.AssertExpectations(t)
	defer q.AssertExpectations(t)

	rec := &models.RecordingRef{
		ID:                  uuid.New(),
		SessionID:           42,
		ProviderRecordingID: "rec-1",
		ShareToken:          "tok",
		ArchiveStatus:       models.ArchiveStatusPending,
	}
	saver.On("SaveRecording", mock.Anything, int64(42), "rec-1", 1800).Return(rec, nil).Once()
	q.On("EnqueueRecordingArchive", mock.Anything, queue.RecordingArchivePayload{
		RecordingID:         rec.ID,
		SessionID:           42,
		ProviderRecordingID: "rec-1",
	}).Return(nil).Once()

	h := NewWebhookHandler(saver, q, "session-", "", zaptest.NewLogger(t))
	w := postWebhook(h, readyBody, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"share_token":"tok"`)
}

func Test_WebhookAlreadyArchivedIsNotRequeued(t *testing.T) {
	saver := &mockSaver{}
	q := &mockQueue{}
	saver.On("SaveRecording", mock.Anything, int64(42), "rec-1", 1800).
		Return(&models.RecordingRef{ID: uuid.New(), SessionID: 42, ArchiveStatus: models.ArchiveStatusArchived}, nil).Once()

	w := postWebhook(NewWebhookHandler(saver, q, "session-", "", zaptest.NewLogger(t)), readyBody, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	q.AssertNotCalled(t, "EnqueueRecordingArchive", mock.Anything, mock.Anything)
}

func Test_WebhookIgnored(t *testing.T) {
	saver := &mockSaver{}
	h := NewWebhookHandler(saver, &mockQueue{}, "session-", "", zaptest.NewLogger(t))

	for _, body := range []string{
		`{"type":"meeting.started","payload":{}}`,
		`{"type":"recording.ready-to-download","payload":{"recording_id":"rec-1","room_name":"someone-else"}}`,
		`{"type":"recording.ready-to-download","payload":{"room_name":"session-42-1"}}`,
		`{"type":"recording.ready-to-download","payload":"not an object"}`,
	} {
		w := postWebhook(h, body, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"ignored":true`)
	}
	saver.AssertNotCalled(t, "SaveRecording", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func Test_WebhookDeletedSessionIgnored(t *testing.T) {
	saver := &mockSaver{}
	q := &mockQueue{}
	saver.On("SaveRecording", mock.Anything, int64(42), "rec-1", 1800).Return(nil, video.ErrSessionNotFound).Once()

	w := postWebhook(NewWebhookHandler(saver, q, "session-", "", zaptest.NewLogger(t)), readyBody, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"ignored":true`)
	saver.AssertExpectations(t)
	q.AssertNotCalled(t, "EnqueueRecordingArchive", mock.Anything, mock.Anything)
}

func Test_WebhookFailures(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		saveErr error
		queue   error
		status  int
	}{
		{name: "malformed", body: `{`, status: http.StatusBadRequest},
		{name: "video disabled", body: readyBody, saveErr: video.ErrVideoDisabled, status: http.StatusServiceUnavailable},
		{name: "store failure", body: readyBody, saveErr: errors.New("db down"), status: http.StatusInternalServerError},
		{name: "queue failure", body: readyBody, queue: errors.New("redis down"), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			saver := &mockSaver{}
			q := &mockQueue{}
			if tc.saveErr != nil {
				saver.On("SaveRecording", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, tc.saveErr)
			} else {
				saver.On("SaveRecording", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(&models.RecordingRef{ID: uuid.New(), ArchiveStatus: models.ArchiveStatusPending}, nil)
			}
			q.On("EnqueueRecordingArchive", mock.Anything, mock.Anything).Return(tc.queue)

			w := postWebhook(NewWebhookHandler(saver, q, "session-", "", zaptest.NewLogger(t)), tc.body, nil)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}
}

func Test_WebhookSignature(t *testing.T) {
	saver := &mockSaver{}
	saver.On("SaveRecording", mock.Anything, int64(42), "rec-1", 1800).
		Return(&models.RecordingRef{ID: uuid.New(), ArchiveStatus: models.ArchiveStatusArchived}, nil).Once()
	secret := "c2VjcmV0LWtleQ==" // base64("secret-key")
	h := NewWebhookHandler(saver, nil, "session-", secret, zaptest.NewLogger(t))

	ts := "1700000000"
	w := postWebhook(h, readyBody, map[string]string{
		"X-Webhook-Timestamp": ts,
		"X-Webhook-Signature": "bogus",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postWebhook(h, readyBody, map[string]string{
		"X-Webhook-Timestamp": ts,
		"X-Webhook-Signature": Sign([]byte("secret-key"), ts, []byte(readyBody)),
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) RecordingByShareToken(ctx context.Context, token string) (*models.RecordingRef, error) {
	args := m.Called(ctx, token)
	if rec, ok := args.Get(0).(*models.RecordingRef); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockPresigner struct {
	mock.Mock
}

func (m *mockPresigner) PresignRecording(ctx context.Context, key string) (string, time.Duration, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Get(1).(time.Duration), args.Error(2)
}

func getShared(h *Handler, token string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/recordings/shared/:token", h.Shared)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/recordings/shared/"+token, nil))
	return w
}

func Test_SharedRecording(t *testing.T) {
	resolver := &mockResolver{}
	presigner := &mockPresigner{}
	archived := &models.RecordingRef{ID: uuid.New(), ArchiveStatus: models.ArchiveStatusArchived, S3Key: "recordings/42/x.mp4"}
	pending := &models.RecordingRef{ID: uuid.New(), ArchiveStatus: models.ArchiveStatusPending}
	resolver.On("RecordingByShareToken", mock.Anything, "archived").Return(archived, nil)
	resolver.On("RecordingByShareToken", mock.Anything, "pending").Return(pending, nil)
	resolver.On("RecordingByShareToken", mock.Anything, "old").Return(nil, video.ErrShareExpired)
	resolver.On("RecordingByShareToken", mock.Anything, "nope").Return(nil, video.ErrRecordingNotFound)
	presigner.On("PresignRecording", mock.Anything, "recordings/42/x.mp4").Return("https://signed.example/x", 15*time.Minute, nil).Once()

	h := NewHandler(resolver, presigner, zaptest.NewLogger(t))

	w := getShared(h, "archived")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"download_url":"https://signed.example/x"`)
	assert.Contains(t, w.Body.String(), `"expires_in":900`)
	assert.NotContains(t, w.Body.String(), "recordings/42", "expected the S3 key to stay private")

	w = getShared(h, "pending")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "download_url")

	assert.Equal(t, http.StatusGone, getShared(h, "old").Code)
	assert.Equal(t, http.StatusNotFound, getShared(h, "nope").Code)
	presigner.AssertExpectations(t)
}
