package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coachline/backend/internal/models"
	"github.com/coachline/backend/pkg/queue"
	"github.com/coachline/backend/pkg/storage"
	"github.com/coachline/backend/pkg/wire"
)

const downloadTimeout = 30 * time.Minute

// RecordingStore is the recording persistence the processor needs.
type RecordingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.RecordingRef, error)
	MarkArchived(ctx context.Context, id uuid.UUID, s3Key string) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// SessionStore reads the session a recording belongs to.
type SessionStore interface {
	GetByID(ctx context.Context, id int64) (*models.ScheduledSession, error)
}

// LinkProvider returns short-lived download links for provider recordings.
type LinkProvider interface {
	RecordingAccessLink(ctx context.Context, recordingID string) (string, error)
}

// Archive stores recording files.
type Archive interface {
	UploadRecording(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) error
}

// JobQueue is the job source.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Notifier delivers best-effort realtime messages to users.
type Notifier interface {
	SendToUsers(userIDs []string, t wire.MessageType, payload interface{}) int
}

// RecordingProcessor archives provider recordings: fetch a download link, stream the file to
// S3, mark the recording archived and notify the session members.
type RecordingProcessor struct {
	recordings RecordingStore
	sessions   SessionStore
	provider   LinkProvider
	archive    Archive
	queue      JobQueue
	notify     Notifier
	http       *http.Client
	backoff    time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewRecordingProcessor creates a recording archive processor. notify may be nil.
func NewRecordingProcessor(recordings RecordingStore, sessions SessionStore, provider LinkProvider, archive Archive, q JobQueue, notify Notifier, logger *zap.Logger) *RecordingProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordingProcessor{
		recordings: recordings,
		sessions:   sessions,
		provider:   provider,
		archive:    archive,
		queue:      q,
		notify:     notify,
		http:       &http.Client{Timeout: downloadTimeout},
		backoff:    queue.RetryBackoff,
		logger:     logger,
		now:        time.Now,
	}
}

// Process executes one recording archive job.
func (p *RecordingProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeRecordingArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.RecordingArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	rec, err := p.recordings.GetByID(ctx, payload.RecordingID)
	if err != nil {
		return fmt.Errorf("load recording: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("recording not found: %s", payload.RecordingID)
	}
	if rec.ArchiveStatus == models.ArchiveStatusArchived {
		p.logger.Info("recording already archived", zap.String("recording_id", rec.ID.String()))
		return nil
	}

	link, err := p.provider.RecordingAccessLink(ctx, rec.ProviderRecordingID)
	if err != nil {
		return fmt.Errorf("access link: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	key := storage.RecordingKey(rec.SessionID, rec.ID.String())

	// Stream upload to S3 (no full buffer)
	if err := p.archive.UploadRecording(ctx, key, contentType, resp.Body, resp.ContentLength); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	if err := p.recordings.MarkArchived(ctx, rec.ID, key); err != nil {
		return fmt.Errorf("update db: %w", err)
	}

	p.logger.Info("recording archived", zap.String("recording_id", rec.ID.String()), zap.String("s3_key", key))
	p.announce(ctx, rec)
	return nil
}

// announce tells the session members their recording can be shared.
func (p *RecordingProcessor) announce(ctx context.Context, rec *models.RecordingRef) {
	if p.notify == nil || p.sessions == nil {
		return
	}
	sess, err := p.sessions.GetByID(ctx, rec.SessionID)
	if err != nil || sess == nil {
		p.logger.Warn("recording notification skipped", zap.Int64("session_id", rec.SessionID), zap.Error(err))
		return
	}
	p.notify.SendToUsers(
		[]string{sess.HostUserID.String(), sess.ParticipantUserID.String()},
		wire.TypeNotification,
		wire.Notification{
			ID:        uuid.NewString(),
			Type:      "recording",
			Title:     "Session recording ready",
			Message:   sess.Title,
			Link:      "/recordings/shared/" + rec.ShareToken,
			CreatedAt: p.now().UnixMilli(),
		},
	)
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *RecordingProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("recording worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			p.retry(ctx, job)
			p.sleep(ctx)
		}
	}
}

func (p *RecordingProcessor) retry(ctx context.Context, job *queue.Job) {
	if err := p.queue.Retry(ctx, job); err != nil {
		p.logger.Error("retry enqueue failed", zap.Error(err))
		return
	}
	if job.Attempt < queue.MaxRetries {
		return
	}
	var payload queue.RecordingArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.RecordingID == uuid.Nil {
		return
	}
	if err := p.recordings.MarkFailed(ctx, payload.RecordingID); err != nil {
		p.logger.Error("mark recording failed", zap.Error(err), zap.String("recording_id", payload.RecordingID.String()))
	}
}

func (p *RecordingProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
