package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AsyncUploader pushes locally saved artifacts to S3 without blocking the
// request that produced them.
type AsyncUploader struct {
	s3       *S3Store
	ch       chan uploadJob
	workers  int
	log      zerolog.Logger
	mu       sync.RWMutex // guards ch against send-after-close
	stopped  bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type uploadJob struct {
	key         string
	data        []byte
	contentType string
}

// NewAsyncUploader creates an uploader with the given queue size and worker count.
func NewAsyncUploader(s3 *S3Store, bufferSize, workers int, log zerolog.Logger) *AsyncUploader {
	if workers < 1 {
		workers = 1
	}
	return &AsyncUploader{
		s3:      s3,
		ch:      make(chan uploadJob, bufferSize),
		workers: workers,
		log:     log.With().Str("component", "async-uploader").Logger(),
	}
}

// Enqueue adds an upload. Non-blocking: drops with a warning if the queue is
// full or the uploader is stopped. The local copy is already on disk.
func (u *AsyncUploader) Enqueue(key string, data []byte, contentType string) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.stopped {
		return
	}
	select {
	case u.ch <- uploadJob{key: key, data: data, contentType: contentType}:
	default:
		u.log.Warn().Str("key", key).Msg("upload queue full, skipping (reconciler will retry)")
	}
}

// Start launches the worker goroutines.
func (u *AsyncUploader) Start() {
	for i := 0; i < u.workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", u.workers).Int("buffer", cap(u.ch)).Msg("async uploader started")
}

// Stop closes the queue and waits for in-flight uploads to drain.
func (u *AsyncUploader) Stop() {
	u.stopOnce.Do(func() {
		u.mu.Lock()
		u.stopped = true
		close(u.ch)
		u.mu.Unlock()
	})
	u.wg.Wait()
}

func (u *AsyncUploader) worker() {
	defer u.wg.Done()
	for job := range u.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := u.s3.Save(ctx, job.key, job.data, job.contentType); err != nil {
			u.log.Error().Err(err).Str("key", job.key).Msg("async S3 upload failed (local copy kept)")
		}
		cancel()
	}
}
