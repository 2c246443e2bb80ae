package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hapticdef/hapticdef/internal/database"
	"github.com/hapticdef/hapticdef/internal/schedule"
)

const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Analysis is one uploaded video and the cues detected in it.
type Analysis struct {
	ID           string
	FileKey      string
	FileName     string
	FileSize     int64
	Status       string
	Records      []schedule.RawRecord
	Error        string
	FrameCount   int
	CreatedAt    time.Time
	FilePurgedAt *time.Time
}

type Repository struct {
	db database.DBTX
}

func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, a Analysis) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO analyses (id, file_key, file_name, file_size, status)
		 VALUES ($1, $2, $3, $4, 'processing')`,
		a.ID, a.FileKey, a.FileName, a.FileSize,
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

func (r *Repository) MarkProcessing(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE analyses SET status = 'processing', error = NULL, updated_at = now() WHERE id = $1`,
		id,
	)
	return err
}

func (r *Repository) MarkReady(ctx context.Context, id string, records []schedule.RawRecord, frameCount int) error {
	if records == nil {
		records = []schedule.RawRecord{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	_, err = r.db.Exec(ctx,
		`UPDATE analyses SET status = 'ready', records = $2, frame_count = $3, error = NULL, updated_at = now()
		 WHERE id = $1`,
		id, payload, frameCount,
	)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, id string, reason string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE analyses SET status = 'failed', error = $2, updated_at = now() WHERE id = $1`,
		id, reason,
	)
	return err
}

// Get returns pgx.ErrNoRows when the analysis does not exist.
func (r *Repository) Get(ctx context.Context, id string) (*Analysis, error) {
	var a Analysis
	var records []byte
	var errText *string
	err := r.db.QueryRow(ctx,
		`SELECT id::text, file_key, file_name, file_size, status, records, error, frame_count, created_at, file_purged_at
		 FROM analyses WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.FileKey, &a.FileName, &a.FileSize, &a.Status, &records, &errText, &a.FrameCount, &a.CreatedAt, &a.FilePurgedAt)
	if err != nil {
		return nil, err
	}
	if errText != nil {
		a.Error = *errText
	}
	if len(records) > 0 {
		if err := json.Unmarshal(records, &a.Records); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
	}
	return &a, nil
}

type expiredVideo struct {
	ID      string
	FileKey string
}

func (r *Repository) listExpired(ctx context.Context, retention time.Duration) ([]expiredVideo, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id::text, file_key FROM analyses
		 WHERE file_purged_at IS NULL AND status != 'processing'
		   AND created_at < now() - make_interval(secs => $1)
		 ORDER BY created_at ASC
		 LIMIT 50`,
		retention.Seconds(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []expiredVideo
	for rows.Next() {
		var v expiredVideo
		if err := rows.Scan(&v.ID, &v.FileKey); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *Repository) markPurged(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE analyses SET file_purged_at = now() WHERE id = $1`, id)
	return err
}
