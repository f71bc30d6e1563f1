package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UploadReconciler scans recent local caption artifacts for ones missing from
// S3 and uploads them. Covers dropped async uploads and crash recovery.
type UploadReconciler struct {
	dir      string
	s3       *S3Store
	interval time.Duration
	window   time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewUploadReconciler creates a reconciler that checks for missing S3 uploads.
func NewUploadReconciler(dir string, s3 *S3Store, log zerolog.Logger) *UploadReconciler {
	return &UploadReconciler{
		dir:      dir,
		s3:       s3,
		interval: 5 * time.Minute,
		window:   48 * time.Hour,
		log:      log.With().Str("component", "upload-reconciler").Logger(),
		stop:     make(chan struct{}),
	}
}

func (r *UploadReconciler) Start() { go r.loop() }

func (r *UploadReconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *UploadReconciler) loop() {
	// Delay first run to let startup uploads settle
	select {
	case <-time.After(2 * time.Minute):
	case <-r.stop:
		return
	}

	r.reconcile()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stop:
			return
		}
	}
}

func (r *UploadReconciler) reconcile() {
	var uploaded, failed, checked int
	cutoff := time.Now().Add(-r.window)

	dateDirs, _ := os.ReadDir(r.dir)
	for _, dateDir := range dateDirs {
		if !dateDir.IsDir() {
			continue
		}
		if dirDate, err := time.Parse("2006-01-02", dateDir.Name()); err == nil && dirDate.Before(cutoff) {
			continue
		}
		datePath := filepath.Join(r.dir, dateDir.Name())
		jobDirs, _ := os.ReadDir(datePath)
		for _, jobDir := range jobDirs {
			if !jobDir.IsDir() {
				continue
			}
			jobPath := filepath.Join(datePath, jobDir.Name())
			files, _ := os.ReadDir(jobPath)
			for _, f := range files {
				if f.IsDir() || isTempFile(f.Name()) {
					continue
				}
				checked++
				key := dateDir.Name() + "/" + jobDir.Name() + "/" + f.Name()

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				exists := r.s3.Exists(ctx, key)
				cancel()
				if exists {
					continue
				}

				data, err := os.ReadFile(filepath.Join(jobPath, f.Name()))
				if err != nil {
					continue
				}
				ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
				if err := r.s3.Save(ctx, key, data, contentTypeFromExt(filepath.Ext(f.Name()))); err != nil {
					r.log.Warn().Err(err).Str("key", key).Msg("reconcile upload failed")
					failed++
				} else {
					uploaded++
				}
				cancel()
			}
		}
	}

	if uploaded > 0 || failed > 0 {
		r.log.Info().
			Int("uploaded", uploaded).
			Int("failed", failed).
			Int("checked", checked).
			Msg("reconcile complete")
	}
}
