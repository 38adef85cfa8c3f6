package video

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/coachline/backend/internal/models"
	"github.com/coachline/backend/pkg/wire"
)

type MockRoomProvider struct {
	mock.Mock
}

func (m *MockRoomProvider) CreateRoom(ctx context.Context, p CreateRoomParams) (*Room, error) {
	args := m.Called(ctx, p)
	if room, ok := args.Get(0).(*Room); ok {
		return room, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRoomProvider) CreateMeetingToken(ctx context.Context, p TokenParams) (*MeetingToken, error) {
	args := m.Called(ctx, p)
	if tok, ok := args.Get(0).(*MeetingToken); ok {
		return tok, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRoomProvider) GetRoom(ctx context.Context, name string) (*Room, error) {
	args := m.Called(ctx, name)
	if room, ok := args.Get(0).(*Room); ok {
		return room, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRoomProvider) DeleteRoom(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) GetByID(ctx context.Context, id int64) (*models.ScheduledSession, error) {
	args := m.Called(ctx, id)
	if sess, ok := args.Get(0).(*models.ScheduledSession); ok {
		return sess, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockSessionStore) SetMeetingURL(ctx context.Context, id int64, meetingURL string) error {
	args := m.Called(ctx, id, meetingURL)
	return args.Error(0)
}

type MockRecordingStore struct {
	mock.Mock
}

func (m *MockRecordingStore) Create(ctx context.Context, rec *models.RecordingRef) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}
func (m *MockRecordingStore) ListBySession(ctx context.Context, sessionID int64) ([]models.RecordingRef, error) {
	args := m.Called(ctx, sessionID)
	if list, ok := args.Get(0).([]models.RecordingRef); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRecordingStore) GetByShareToken(ctx context.Context, token string) (*models.RecordingRef, error) {
	args := m.Called(ctx, token)
	if rec, ok := args.Get(0).(*models.RecordingRef); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) SendToUsers(userIDs []string, t wire.MessageType, payload interface{}) int {
	args := m.Called(userIDs, t, payload)
	return args.Int(0)
}
