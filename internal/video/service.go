package video

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/coachline/backend/internal/models"
	"github.com/coachline/backend/pkg/utils"
	"github.com/coachline/backend/pkg/wire"
)

// Config holds the lifecycle settings.
type Config struct {
	Enabled         bool
	RoomPrefix      string
	MaxDuration     time.Duration
	MaxParticipants int
	EnableRecording bool
	// LookupTimeout bounds a shared room lookup, which outlives the caller that started it.
	LookupTimeout time.Duration
}

// SessionStore reads scheduled sessions and records their meeting URL.
// GetByID returns (nil, nil) when the session does not exist.
type SessionStore interface {
	GetByID(ctx context.Context, id int64) (*models.ScheduledSession, error)
	SetMeetingURL(ctx context.Context, id int64, meetingURL string) error
}

// RecordingStore persists recording references.
type RecordingStore interface {
	Create(ctx context.Context, rec *models.RecordingRef) error
	ListBySession(ctx context.Context, sessionID int64) ([]models.RecordingRef, error)
	GetByShareToken(ctx context.Context, token string) (*models.RecordingRef, error)
}

// Broadcaster delivers best-effort realtime messages to users.
type Broadcaster interface {
	SendToUsers(userIDs []string, t wire.MessageType, payload interface{}) int
}

// StartResult is returned to the host that opened the room.
type StartResult struct {
	URL      string `json:"url"`
	Token    string `json:"token"`
	RoomName string `json:"roomName"`
}

// JoinResult is returned to a member joining an open room.
type JoinResult struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// Service runs the video room lifecycle of scheduled sessions.
type Service struct {
	cfg        Config
	provider   RoomProvider
	cache      *RoomCache
	sessions   SessionStore
	recordings RecordingStore
	broadcast  Broadcaster
	logger     *zap.Logger
	lookups    singleflight.Group

	now        func() time.Time
	shareToken func() string
}

// NewService creates the lifecycle service. provider may be nil when video is not configured.
func NewService(cfg Config, provider RoomProvider, cache *RoomCache, sessions SessionStore, recordings RecordingStore, broadcast Broadcaster, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewRoomCache(0, 0)
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 60 * time.Minute
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 10 * time.Second
	}
	return &Service{
		cfg:        cfg,
		provider:   provider,
		cache:      cache,
		sessions:   sessions,
		recordings: recordings,
		broadcast:  broadcast,
		logger:     logger,
		now:        time.Now,
		shareToken: utils.NewShareToken,
	}
}

// Enabled reports whether a room provider is configured.
func (s *Service) Enabled() bool {
	return s.cfg.Enabled && s.provider != nil
}

// CacheStats exposes room cache counters.
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}

// RoomName builds the unique provider room name for a session at a point in time.
func (s *Service) RoomName(sessionID int64, at time.Time) string {
	return s.cfg.RoomPrefix + strconv.FormatInt(sessionID, 10) + "-" + strconv.FormatInt(at.UnixMilli(), 10)
}

// ParseRoomName extracts the session id from a room name built by RoomName.
func ParseRoomName(prefix, name string) (int64, bool) {
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	rest := strings.TrimPrefix(name, prefix)
	i := strings.LastIndexByte(rest, '-')
	if i <= 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(rest[:i], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// roomNameFromURL returns the last path segment of a meeting URL.
func roomNameFromURL(meetingURL string) string {
	u, err := url.Parse(meetingURL)
	if err != nil {
		return ""
	}
	name := path.Base(strings.TrimRight(u.Path, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func (s *Service) loadSession(ctx context.Context, id int64) (*models.ScheduledSession, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %d: %w", id, err)
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// StartSessionVideo creates a fresh room for the session, records its URL, issues the host an
// owner token and tells the participant the room is ready.
func (s *Service) StartSessionVideo(ctx context.Context, sessionID int64, hostID uuid.UUID, hostName string) (*StartResult, error) {
	if !s.Enabled() {
		return nil, ErrVideoDisabled
	}
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.HostUserID != hostID {
		return nil, ErrNotHost
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.MaxDuration)
	room, err := s.provider.CreateRoom(ctx, CreateRoomParams{
		Name:            s.RoomName(sessionID, now),
		ExpiresAt:       expiresAt,
		MaxParticipants: s.cfg.MaxParticipants,
		EnableRecording: s.cfg.EnableRecording,
	})
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	if room.ExpiresAt.IsZero() {
		room.ExpiresAt = expiresAt
	}
	s.cache.Put(room.Name, room)

	if err := s.sessions.SetMeetingURL(ctx, sessionID, room.URL); err != nil {
		return nil, fmt.Errorf("save meeting url: %w", err)
	}

	token, err := s.provider.CreateMeetingToken(ctx, TokenParams{
		RoomName:            room.Name,
		UserID:              hostID.String(),
		UserName:            hostName,
		IsOwner:             true,
		ExpiresAt:           room.ExpiresAt,
		StartCloudRecording: s.cfg.EnableRecording,
	})
	if err != nil {
		return nil, fmt.Errorf("create host token: %w", err)
	}

	s.broadcast.SendToUsers([]string{sess.ParticipantUserID.String()}, wire.TypeRoomReady, wire.RoomReadyPayload{
		SessionID: sessionID,
		URL:       room.URL,
		RoomName:  room.Name,
	})
	s.logger.Info("session video started",
		zap.Int64("session_id", sessionID),
		zap.String("room_name", room.Name),
		zap.Time("expires_at", room.ExpiresAt),
	)
	return &StartResult{URL: room.URL, Token: token.Token, RoomName: room.Name}, nil
}

// JoinSessionVideo issues a non-owner token for the session's current room.
// A session without a recorded meeting URL fails with ErrNoRoom before any provider call.
func (s *Service) JoinSessionVideo(ctx context.Context, sessionID int64, userID uuid.UUID, userName string) (*JoinResult, error) {
	if !s.Enabled() {
		return nil, ErrVideoDisabled
	}
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsMember(userID) {
		return nil, ErrNotParticipant
	}
	if sess.MeetingURL == "" {
		return nil, ErrNoRoom
	}
	name := roomNameFromURL(sess.MeetingURL)
	if name == "" {
		return nil, ErrNoRoom
	}

	room, err := s.lookupRoom(ctx, name)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return nil, ErrNoRoom
		}
		return nil, fmt.Errorf("get room: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.MaxDuration)
	if !room.ExpiresAt.IsZero() && room.ExpiresAt.Before(expiresAt) {
		expiresAt = room.ExpiresAt
	}
	if !expiresAt.After(now) {
		s.cache.Remove(name)
		return nil, ErrNoRoom
	}

	token, err := s.provider.CreateMeetingToken(ctx, TokenParams{
		RoomName:  name,
		UserID:    userID.String(),
		UserName:  userName,
		IsOwner:   false,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create participant token: %w", err)
	}
	s.logger.Debug("session video joined", zap.Int64("session_id", sessionID), zap.String("user_id", userID.String()))
	return &JoinResult{URL: sess.MeetingURL, Token: token.Token}, nil
}

// lookupRoom answers from the cache, collapsing concurrent misses into one provider call.
// The shared call is detached from any single caller's cancellation; each caller still stops
// waiting when its own ctx is done.
func (s *Service) lookupRoom(ctx context.Context, name string) (*Room, error) {
	if room, ok := s.cache.Get(name); ok {
		return room, nil
	}
	ch := s.lookups.DoChan(name, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LookupTimeout)
		defer cancel()
		room, err := s.provider.GetRoom(lookupCtx, name)
		if err != nil {
			return nil, err
		}
		s.cache.Put(name, room)
		return room, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		room := *res.Val.(*Room)
		return &room, nil
	}
}

// EndSessionVideo tells host and participant the room is over. The room itself is left to
// expire at the provider. A session without a room is a no-op.
func (s *Service) EndSessionVideo(ctx context.Context, sessionID int64, callerID uuid.UUID) error {
	if !s.Enabled() {
		return ErrVideoDisabled
	}
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.HostUserID != callerID {
		return ErrNotHost
	}
	if sess.MeetingURL == "" {
		return nil
	}
	if name := roomNameFromURL(sess.MeetingURL); name != "" {
		s.cache.Remove(name)
	}
	s.broadcast.SendToUsers(
		[]string{sess.HostUserID.String(), sess.ParticipantUserID.String()},
		wire.TypeRoomEnded,
		wire.RoomEndedPayload{SessionID: sessionID},
	)
	s.logger.Info("session video ended", zap.Int64("session_id", sessionID))
	return nil
}

// SaveRecording stores a provider recording with an opaque share token valid for 30 days.
// It returns ErrSessionNotFound when the session has since been deleted.
func (s *Service) SaveRecording(ctx context.Context, sessionID int64, providerRecordingID string, durationSeconds int) (*models.RecordingRef, error) {
	if !s.Enabled() {
		return nil, ErrVideoDisabled
	}
	if _, err := s.loadSession(ctx, sessionID); err != nil {
		return nil, err
	}
	now := s.now()
	rec := &models.RecordingRef{
		SessionID:           sessionID,
		ProviderRecordingID: providerRecordingID,
		DurationSeconds:     durationSeconds,
		ShareToken:          s.shareToken(),
		ExpiresAt:           now.Add(models.RecordingShareTTL),
		ArchiveStatus:       models.ArchiveStatusPending,
		CreatedAt:           now,
	}
	if err := s.recordings.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("save recording: %w", err)
	}
	s.logger.Info("session recording saved",
		zap.Int64("session_id", sessionID),
		zap.String("provider_recording_id", providerRecordingID),
	)
	return rec, nil
}

// Recordings lists a session's recordings for its host or participant.
func (s *Service) Recordings(ctx context.Context, sessionID int64, callerID uuid.UUID) ([]models.RecordingRef, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsMember(callerID) {
		return nil, ErrNotParticipant
	}
	list, err := s.recordings.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	if list == nil {
		list = []models.RecordingRef{}
	}
	return list, nil
}

// RecordingByShareToken resolves a public share link.
func (s *Service) RecordingByShareToken(ctx context.Context, token string) (*models.RecordingRef, error) {
	rec, err := s.recordings.GetByShareToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("get recording: %w", err)
	}
	if rec == nil {
		return nil, ErrRecordingNotFound
	}
	if rec.Expired(s.now()) {
		return nil, ErrShareExpired
	}
	return rec, nil
}
