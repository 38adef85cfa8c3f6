package recordings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachline/backend/internal/models"
)

const selectColumns = `SELECT id, session_id, provider_recording_id, duration_seconds, share_token, expires_at, COALESCE(s3_key,''), archive_status, created_at
	FROM session_recordings`

// Repository handles recording persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a recording reference. A provider recording already stored is returned as is.
func (r *Repository) Create(ctx context.Context, rec *models.RecordingRef) error {
	const q = `INSERT INTO session_recordings (session_id, provider_recording_id, duration_seconds, share_token, expires_at, archive_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_recording_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, share_token, expires_at, archive_status, created_at`
	return r.pool.QueryRow(ctx, q, rec.SessionID, rec.ProviderRecordingID, rec.DurationSeconds, rec.ShareToken, rec.ExpiresAt, rec.ArchiveStatus, rec.CreatedAt).
		Scan(&rec.ID, &rec.ShareToken, &rec.ExpiresAt, &rec.ArchiveStatus, &rec.CreatedAt)
}

// GetByID returns a recording by ID, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.RecordingRef, error) {
	return r.getOne(ctx, selectColumns+` WHERE id = $1`, id)
}

// GetByShareToken returns a recording by share token, or nil when it does not exist.
func (r *Repository) GetByShareToken(ctx context.Context, token string) (*models.RecordingRef, error) {
	return r.getOne(ctx, selectColumns+` WHERE share_token = $1`, token)
}

// ListBySession returns a session's recordings, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID int64) ([]models.RecordingRef, error) {
	rows, err := r.pool.Query(ctx, selectColumns+` WHERE session_id = $1 ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.RecordingRef{}
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

// MarkArchived records the S3 key of an archived recording.
func (r *Repository) MarkArchived(ctx context.Context, id uuid.UUID, s3Key string) error {
	const q = `UPDATE session_recordings SET s3_key = $1, archive_status = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, s3Key, models.ArchiveStatusArchived, id)
	return err
}

// MarkFailed flags a recording whose archive job was given up.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE session_recordings SET archive_status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, models.ArchiveStatusFailed, id)
	return err
}

func (r *Repository) getOne(ctx context.Context, q string, arg interface{}) (*models.RecordingRef, error) {
	rec, err := scanRecording(r.pool.QueryRow(ctx, q, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func scanRecording(row pgx.Row) (*models.RecordingRef, error) {
	var rec models.RecordingRef
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.ProviderRecordingID, &rec.DurationSeconds, &rec.ShareToken, &rec.ExpiresAt, &rec.S3Key, &rec.ArchiveStatus, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
