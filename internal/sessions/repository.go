package sessions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachline/backend/internal/models"
)

const selectColumns = `SELECT id, host_user_id, participant_user_id, title, scheduled_at, duration_minutes, status, COALESCE(meeting_url,''), created_at, updated_at
	FROM coaching_sessions`

// Repository handles scheduled session persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new scheduled session.
func (r *Repository) Create(ctx context.Context, s *models.ScheduledSession) error {
	const q = `INSERT INTO coaching_sessions (host_user_id, participant_user_id, title, scheduled_at, duration_minutes, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, s.HostUserID, s.ParticipantUserID, s.Title, s.ScheduledAt, s.DurationMinutes, s.Status).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// GetByID returns a session by ID, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.ScheduledSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// ListForUser returns the sessions userID hosts or attends, soonest first.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.ScheduledSession, error) {
	rows, err := r.pool.Query(ctx, selectColumns+` WHERE host_user_id = $1 OR participant_user_id = $1 ORDER BY scheduled_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.ScheduledSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// SetMeetingURL records the room URL of the session's current video room.
func (r *Repository) SetMeetingURL(ctx context.Context, id int64, meetingURL string) error {
	const q = `UPDATE coaching_sessions SET meeting_url = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, meetingURL, id)
	return err
}

// UpdateStatus sets the session status.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status string) error {
	const q = `UPDATE coaching_sessions SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, status, id)
	return err
}

func scanSession(row pgx.Row) (*models.ScheduledSession, error) {
	var s models.ScheduledSession
	err := row.Scan(&s.ID, &s.HostUserID, &s.ParticipantUserID, &s.Title, &s.ScheduledAt, &s.DurationMinutes, &s.Status, &s.MeetingURL, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
