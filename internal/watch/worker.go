// Package watch captions media files dropped into a directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/tamil-captioner/internal/caption"
	"github.com/snarg/tamil-captioner/internal/pipeline"
)

// Runner executes one caption job.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Job is one media file waiting to be captioned.
type Job struct {
	Path string
}

// QueueStats reports the current state of the watch queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
}

// WorkerPoolOptions configures the watch-folder worker pool.
type WorkerPoolOptions struct {
	Runner     Runner
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	Log        zerolog.Logger
}

// WorkerPool runs watch-folder jobs through the pipeline.
type WorkerPool struct {
	jobs   chan Job
	runner Runner
	opts   WorkerPoolOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex // guards jobs against send-after-close
	stopped bool

	completed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(opts WorkerPoolOptions) *WorkerPool {
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 15 * time.Minute
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobs:   make(chan Job, opts.QueueSize),
		runner: opts.Runner,
		opts:   opts,
		log:    opts.Log.With().Str("component", "watch-worker").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.log.Info().Int("workers", wp.opts.Workers).Int("queue_size", wp.opts.QueueSize).Msg("watch worker pool started")
}

// Stop cancels running jobs, drops queued ones and waits for the workers to
// exit. Dropped files have no captions yet, so the next backfill picks them up.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.stopped {
		wp.stopped = true
		wp.cancel()
		close(wp.jobs)
	}
	wp.mu.Unlock()
	wp.wg.Wait()
	wp.log.Info().
		Int64("completed", wp.completed.Load()).
		Int64("failed", wp.failed.Load()).
		Int64("skipped", wp.skipped.Load()).
		Msg("watch worker pool stopped")
}

// Enqueue adds a job. Returns false if the queue is full or stopped.
func (wp *WorkerPool) Enqueue(j Job) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return false
	}
	select {
	case wp.jobs <- j:
		return true
	default:
		return false
	}
}

// Stats returns current queue statistics.
func (wp *WorkerPool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(wp.jobs),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
		Skipped:   wp.skipped.Load(),
	}
}

// QueueDepth returns the number of jobs waiting for a worker.
func (wp *WorkerPool) QueueDepth() int { return len(wp.jobs) }

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log := wp.log.With().Int("worker", id).Logger()

	for job := range wp.jobs {
		if wp.ctx.Err() != nil {
			wp.skipped.Add(1)
			continue
		}
		if err := wp.safeProcess(job); err != nil {
			wp.failed.Add(1)
			log.Warn().Err(err).Str("path", job.Path).Msg("watch job failed")
		} else {
			wp.completed.Add(1)
		}
	}
}

// safeProcess keeps one bad file from taking the process down.
func (wp *WorkerPool) safeProcess(job Job) (err error) {
	defer func() {
		if rv := recover(); rv != nil {
			err = fmt.Errorf("panic: %v", rv)
		}
	}()
	return wp.processJob(job)
}

// processJob captions one file and writes {name}.srt and {name}.txt beside it.
func (wp *WorkerPool) processJob(job Job) error {
	ctx, cancel := context.WithTimeout(wp.ctx, wp.opts.JobTimeout)
	defer cancel()

	f, err := os.Open(job.Path)
	if err != nil {
		return fmt.Errorf("open media: %w", err)
	}
	defer f.Close()

	res, err := wp.runner.Run(ctx, pipeline.Request{
		Media:    f,
		Filename: filepath.Base(job.Path),
		Mode:     pipeline.ModeNative,
		Source:   "watch",
	})
	if err != nil {
		return err
	}

	srtPath, txtPath := OutputPaths(job.Path)
	if err := writeAtomic(txtPath, []byte(res.Transcript)); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	if !res.HasDocument() {
		return fmt.Errorf("caption generation: %w", res.CaptionErr)
	}
	if err := writeAtomic(srtPath, []byte(res.Document)); err != nil {
		return fmt.Errorf("write captions: %w", err)
	}
	return nil
}

// OutputPaths returns the caption and transcript paths for a media file.
func OutputPaths(mediaPath string) (srt, txt string) {
	base := strings.TrimSuffix(mediaPath, filepath.Ext(mediaPath))
	return base + ".srt", base + ".txt"
}

// Captioned reports whether mediaPath already has a readable caption file at
// least as new as the media. A truncated or hand-edited file that no longer
// parses is captioned again.
func Captioned(mediaPath string) bool {
	srt, _ := OutputPaths(mediaPath)
	out, err := os.Stat(srt)
	if err != nil {
		return false
	}
	in, err := os.Stat(mediaPath)
	switch {
	case err == nil && out.ModTime().Before(in.ModTime()):
		return false
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return false
	}
	data, err := os.ReadFile(srt)
	if err != nil {
		return false
	}
	_, err = caption.Parse(string(data))
	return err == nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".caption-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
