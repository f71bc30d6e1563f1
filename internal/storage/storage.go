package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/tamil-captioner/internal/config"
)

// ErrInvalidKey is returned for keys that would escape the store root.
var ErrInvalidKey = errors.New("storage: invalid key")

// CaptionStore abstracts storage backends for per-job caption artifacts.
type CaptionStore interface {
	// Save stores data. key format: {YYYY-MM-DD}/{job-id}/{filename}
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// URL returns a presigned URL for the object.
	// Returns "" for local-only backends.
	URL(ctx context.Context, key string) (string, error)

	// Open returns a reader for the object.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if the object exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}

// Key builds the storage key for a job artifact. The date directory comes
// from the timestamp embedded in a version 7 job ID, so a key can be rebuilt
// from the ID alone.
func Key(jobID uuid.UUID, name string) string {
	return path.Join(JobTime(jobID).Format("2006-01-02"), jobID.String(), name)
}

// JobTime returns the creation time carried by a version 7 UUID, or the zero
// time for other versions.
func JobTime(id uuid.UUID) time.Time {
	if id.Version() != 7 {
		return time.Time{}
	}
	ms := binary.BigEndian.Uint64(id[:8]) >> 16
	return time.UnixMilli(int64(ms)).UTC()
}

// New creates a CaptionStore based on config. Returns the store and the
// background services (pruner, reconciler, uploader) the caller must
// Start/Stop. Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, captionDir string, retention time.Duration, log zerolog.Logger) (CaptionStore, []BackgroundService, error) {
	if !cfg.Enabled() {
		local := NewLocalStore(captionDir)
		var services []BackgroundService
		if retention > 0 {
			services = append(services, NewPruner(captionDir, retention, nil, log))
		}
		return local, services, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	if !cfg.LocalCache {
		return s3store, nil, nil
	}

	// Tiered mode: local primary, S3 copy pushed in the background
	uploader := NewAsyncUploader(s3store, 64, 2, log)
	tiered := NewTieredStore(s3store, NewLocalStore(captionDir), uploader, log)

	services := []BackgroundService{uploader, NewUploadReconciler(captionDir, s3store, log)}
	if retention > 0 {
		services = append(services, NewPruner(captionDir, retention, s3store, log))
	}
	return tiered, services, nil
}

// contentTypeFromExt returns the MIME type for a stored artifact.
func contentTypeFromExt(ext string) string {
	switch ext {
	case ".srt", ".txt":
		return "text/plain; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
