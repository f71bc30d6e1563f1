package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pruner deletes local caption artifacts older than the retention window.
// When an S3 store is attached, a file is only removed once its S3 copy is
// confirmed, so S3 keeps everything.
type Pruner struct {
	dir       string
	retention time.Duration
	interval  time.Duration
	s3        *S3Store
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
	now       func() time.Time
}

// NewPruner creates a retention pruner over dir. s3 may be nil.
func NewPruner(dir string, retention time.Duration, s3 *S3Store, log zerolog.Logger) *Pruner {
	interval := time.Hour
	if retention > 0 && retention < 4*interval {
		interval = retention / 4
	}
	return &Pruner{
		dir:       dir,
		retention: retention,
		interval:  interval,
		s3:        s3,
		log:       log.With().Str("component", "caption-pruner").Logger(),
		stop:      make(chan struct{}),
		now:       time.Now,
	}
}

func (p *Pruner) Start() {
	go p.loop()
}

func (p *Pruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Pruner) loop() {
	// Run once on startup to clear any backlog from downtime
	p.Prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Prune()
		case <-p.stop:
			return
		}
	}
}

// Prune runs a single pass and returns the number of files removed.
func (p *Pruner) Prune() int {
	if p.retention <= 0 {
		return 0
	}

	cutoff := p.now().Add(-p.retention)
	var prunedCount, skippedNotInS3 int
	var prunedBytes int64

	filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		rel, err := filepath.Rel(p.dir, path)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)

		if p.s3 != nil && !isTempFile(d.Name()) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			inS3 := p.s3.Exists(ctx, key)
			cancel()
			if !inS3 {
				skippedNotInS3++
				p.log.Warn().Str("key", key).Msg("skipping prune: file not in S3")
				return nil
			}
		}
		if err := os.Remove(path); err == nil {
			prunedCount++
			prunedBytes += info.Size()
		}
		return nil
	})

	p.removeEmptyDirs()

	if prunedCount > 0 || skippedNotInS3 > 0 {
		p.log.Info().
			Int("pruned", prunedCount).
			Str("freed", humanizeBytes(prunedBytes)).
			Int("skipped_not_in_s3", skippedNotInS3).
			Msg("caption prune complete")
	}
	return prunedCount
}

// removeEmptyDirs clears empty {job-id} and {date} directories left behind.
func (p *Pruner) removeEmptyDirs() {
	dateDirs, _ := os.ReadDir(p.dir)
	for _, dateDir := range dateDirs {
		if !dateDir.IsDir() {
			continue
		}
		datePath := filepath.Join(p.dir, dateDir.Name())
		jobDirs, _ := os.ReadDir(datePath)
		for _, jobDir := range jobDirs {
			if !jobDir.IsDir() {
				continue
			}
			jobPath := filepath.Join(datePath, jobDir.Name())
			if remaining, _ := os.ReadDir(jobPath); len(remaining) == 0 {
				os.Remove(jobPath)
			}
		}
		if remaining, _ := os.ReadDir(datePath); len(remaining) == 0 {
			os.Remove(datePath)
		}
	}
}

func isTempFile(name string) bool {
	return strings.HasPrefix(name, ".caption-") && strings.HasSuffix(name, ".tmp")
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
