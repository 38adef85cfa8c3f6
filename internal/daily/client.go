// Package daily implements video.RoomProvider against the Daily REST API.
package daily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coachline/backend/internal/video"
)

const (
	// DefaultBaseURL is the public Daily REST endpoint.
	DefaultBaseURL = "https://api.daily.co/v1"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 64 * 1024
)

// Config configures the client.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client is a stateless adapter over the provider HTTP surface.
type Client struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  *zap.Logger
}

var _ video.RoomProvider = (*Client)(nil)

// NewClient creates a Daily client. Every call is bounded by cfg.Timeout.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

type roomProperties struct {
	Exp             int64  `json:"exp,omitempty"`
	MaxParticipants int    `json:"max_participants,omitempty"`
	EnableRecording string `json:"enable_recording,omitempty"`
	EjectAtRoomExp  bool   `json:"eject_at_room_exp,omitempty"`
}

type createRoomRequest struct {
	Name       string         `json:"name"`
	Privacy    string         `json:"privacy"`
	Properties roomProperties `json:"properties"`
}

type roomResponse struct {
	Name      string         `json:"name"`
	URL       string         `json:"url"`
	CreatedAt string         `json:"created_at"`
	Config    roomProperties `json:"config"`
}

func (r roomResponse) toRoom() *video.Room {
	room := &video.Room{
		Name:            r.Name,
		URL:             r.URL,
		MaxParticipants: r.Config.MaxParticipants,
	}
	if t, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
		room.CreatedAt = t
	}
	if r.Config.Exp > 0 {
		room.ExpiresAt = time.Unix(r.Config.Exp, 0)
	}
	return room
}

type tokenProperties struct {
	RoomName            string `json:"room_name"`
	UserID              string `json:"user_id,omitempty"`
	UserName            string `json:"user_name,omitempty"`
	IsOwner             bool   `json:"is_owner"`
	Exp                 int64  `json:"exp"`
	StartCloudRecording bool   `json:"start_cloud_recording,omitempty"`
}

type tokenRequest struct {
	Properties tokenProperties `json:"properties"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type accessLinkResponse struct {
	DownloadLink string `json:"download_link"`
	Expires      int64  `json:"expires"`
}

// CreateRoom creates a private room that the provider closes at p.ExpiresAt.
func (c *Client) CreateRoom(ctx context.Context, p video.CreateRoomParams) (*video.Room, error) {
	req := createRoomRequest{
		Name:    p.Name,
		Privacy: "private",
		Properties: roomProperties{
			Exp:             p.ExpiresAt.Unix(),
			MaxParticipants: p.MaxParticipants,
			EjectAtRoomExp:  true,
		},
	}
	if p.EnableRecording {
		req.Properties.EnableRecording = "cloud"
	}
	var out roomResponse
	if err := c.do(ctx, "create room", http.MethodPost, "/rooms", req, &out); err != nil {
		return nil, err
	}
	room := out.toRoom()
	if room.ExpiresAt.IsZero() {
		room.ExpiresAt = time.Unix(p.ExpiresAt.Unix(), 0)
	}
	c.logger.Debug("daily room created", zap.String("room_name", room.Name))
	return room, nil
}

// CreateMeetingToken issues a per-user room token.
func (c *Client) CreateMeetingToken(ctx context.Context, p video.TokenParams) (*video.MeetingToken, error) {
	req := tokenRequest{Properties: tokenProperties{
		RoomName:            p.RoomName,
		UserID:              p.UserID,
		UserName:            p.UserName,
		IsOwner:             p.IsOwner,
		Exp:                 p.ExpiresAt.Unix(),
		StartCloudRecording: p.StartCloudRecording,
	}}
	var out tokenResponse
	if err := c.do(ctx, "create meeting token", http.MethodPost, "/meeting-tokens", req, &out); err != nil {
		return nil, err
	}
	return &video.MeetingToken{
		Token:     out.Token,
		RoomName:  p.RoomName,
		UserID:    p.UserID,
		IsOwner:   p.IsOwner,
		ExpiresAt: time.Unix(p.ExpiresAt.Unix(), 0),
	}, nil
}

// GetRoom fetches a room by name. An unknown room matches video.ErrRoomNotFound.
func (c *Client) GetRoom(ctx context.Context, name string) (*video.Room, error) {
	var out roomResponse
	if err := c.do(ctx, "get room", http.MethodGet, "/rooms/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return out.toRoom(), nil
}

// DeleteRoom deletes a room by name.
func (c *Client) DeleteRoom(ctx context.Context, name string) error {
	return c.do(ctx, "delete room", http.MethodDelete, "/rooms/"+url.PathEscape(name), nil, nil)
}

// RecordingAccessLink returns a short-lived download URL for a cloud recording.
func (c *Client) RecordingAccessLink(ctx context.Context, recordingID string) (string, error) {
	var out accessLinkResponse
	if err := c.do(ctx, "recording access link", http.MethodGet, "/recordings/"+url.PathEscape(recordingID)+"/access-link", nil, &out); err != nil {
		return "", err
	}
	if out.DownloadLink == "" {
		return "", &video.ProviderError{Op: "recording access link", Err: fmt.Errorf("empty download link")}
	}
	return out.DownloadLink, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &video.ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("daily request failed",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
		)
		return &video.ProviderError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &video.ProviderError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
