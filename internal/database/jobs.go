package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("not found")

// JobRow is one caption job. It never carries the credential or the media.
type JobRow struct {
	ID           uuid.UUID `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Source       string    `json:"source"` // "upload", "api", "watch"
	Filename     string    `json:"filename"`
	SizeBytes    int64     `json:"size_bytes"`
	Mode         string    `json:"mode"`
	Status       string    `json:"status"` // "completed", "failed"
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	Language     string    `json:"language,omitempty"`
	SegmentCount int       `json:"segment_count"`
	Transcript   string    `json:"transcript,omitempty"`
	Romanized    string    `json:"romanized,omitempty"`
	CaptionKey   string    `json:"caption_key,omitempty"`
	Warnings     []string  `json:"warnings"`
	Error        string    `json:"error,omitempty"`
	DurationMs   int       `json:"duration_ms"`
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Mode   string
	Status string
	Limit  int
	Offset int
}

// InsertJob records a finished job.
func (db *DB) InsertJob(ctx context.Context, j *JobRow) error {
	warnings := j.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO caption_jobs (
			id, created_at, source, filename, size_bytes, mode, status,
			provider, model, language, segment_count, transcript,
			romanized, caption_key, warnings, error, duration_ms
		) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		j.ID.String(), j.CreatedAt, j.Source, j.Filename, j.SizeBytes, j.Mode, j.Status,
		j.Provider, j.Model, j.Language, j.SegmentCount, j.Transcript,
		pqStringPtr(j.Romanized), pqStringPtr(j.CaptionKey), warnings, pqStringPtr(j.Error), j.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert caption job: %w", err)
	}
	return nil
}

const jobColumns = `id::text, created_at, source, filename, size_bytes, mode, status,
	provider, model, language, segment_count, transcript,
	COALESCE(romanized, ''), COALESCE(caption_key, ''), warnings, COALESCE(error, ''), duration_ms`

func scanJob(row pgx.Row) (*JobRow, error) {
	var j JobRow
	var id string
	err := row.Scan(&id, &j.CreatedAt, &j.Source, &j.Filename, &j.SizeBytes, &j.Mode, &j.Status,
		&j.Provider, &j.Model, &j.Language, &j.SegmentCount, &j.Transcript,
		&j.Romanized, &j.CaptionKey, &j.Warnings, &j.Error, &j.DurationMs)
	if err != nil {
		return nil, err
	}
	if j.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	if j.Warnings == nil {
		j.Warnings = []string{}
	}
	return &j, nil
}

// GetJob returns a single job by ID.
func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*JobRow, error) {
	j, err := scanJob(db.Pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM caption_jobs WHERE id = $1::uuid`, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// ListJobs returns jobs newest first plus the total matching count.
func (db *DB) ListJobs(ctx context.Context, f JobFilter) ([]JobRow, int, error) {
	limit := clampLimit(f.Limit)
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM caption_jobs
		WHERE ($1::text IS NULL OR mode = $1)
		  AND ($2::text IS NULL OR status = $2)`,
		pqString(f.Mode), pqString(f.Status),
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count caption jobs: %w", err)
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT `+jobColumns+` FROM caption_jobs
		WHERE ($1::text IS NULL OR mode = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		pqString(f.Mode), pqString(f.Status), limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list caption jobs: %w", err)
	}
	defer rows.Close()

	jobs := []JobRow{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, total, rows.Err()
}
