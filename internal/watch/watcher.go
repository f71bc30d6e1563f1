package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/snarg/tamil-captioner/internal/pipeline"
)

// debounceDelay coalesces the Create+Write bursts of a file being copied in.
const debounceDelay = 2 * time.Second

// Status is the watcher state reported by the health endpoint.
type Status struct {
	Status       string `json:"status"` // "starting", "backfilling", "watching", "stopped"
	WatchDir     string `json:"watch_dir"`
	FilesQueued  int64  `json:"files_queued"`
	FilesSkipped int64  `json:"files_skipped"`
}

// FileWatcher monitors a directory tree for new media files and hands them to
// the worker pool.
type FileWatcher struct {
	pool     *WorkerPool
	watchDir string
	delay    time.Duration
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	filesQueued  atomic.Int64
	filesSkipped atomic.Int64
	status       atomic.Value // string
}

// NewFileWatcher creates a watcher over watchDir feeding pool.
func NewFileWatcher(pool *WorkerPool, watchDir string, log zerolog.Logger) *FileWatcher {
	fw := &FileWatcher{
		pool:           pool,
		watchDir:       watchDir,
		delay:          debounceDelay,
		log:            log.With().Str("component", "watcher").Logger(),
		done:           make(chan struct{}),
		debounceTimers: make(map[string]*time.Timer),
	}
	fw.status.Store("starting")
	return fw
}

// Start adds every directory under watchDir to fsnotify, begins watching,
// and queues existing media that has no captions yet.
func (fw *FileWatcher) Start() error {
	if err := os.MkdirAll(fw.watchDir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	fw.watcher = w

	dirCount := 0
	err = filepath.WalkDir(fw.watchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fw.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil
		}
		if d.IsDir() {
			if addErr := w.Add(path); addErr != nil {
				fw.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		w.Close()
		return err
	}

	fw.log.Info().
		Int("directories", dirCount).
		Str("watch_dir", fw.watchDir).
		Msg("file watcher initialized")

	fw.wg.Add(2)
	go fw.watchLoop()
	go fw.backfill()
	return nil
}

// Stop closes the fsnotify watcher and cancels pending debounced files.
func (fw *FileWatcher) Stop() {
	fw.status.Store("stopped")
	close(fw.done)
	if fw.watcher != nil {
		fw.watcher.Close()
	}
	fw.wg.Wait()

	fw.debounceMu.Lock()
	for path, t := range fw.debounceTimers {
		t.Stop()
		delete(fw.debounceTimers, path)
	}
	fw.debounceMu.Unlock()

	fw.log.Info().
		Int64("files_queued", fw.filesQueued.Load()).
		Int64("files_skipped", fw.filesSkipped.Load()).
		Msg("file watcher stopped")
}

// Status returns the current watcher status.
func (fw *FileWatcher) Status() Status {
	s, _ := fw.status.Load().(string)
	return Status{
		Status:       s,
		WatchDir:     fw.watchDir,
		FilesQueued:  fw.filesQueued.Load(),
		FilesSkipped: fw.filesSkipped.Load(),
	}
}

func (fw *FileWatcher) watchLoop() {
	defer fw.wg.Done()
	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			// New subdirectory: watch it too
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := fw.watcher.Add(event.Name); err != nil {
					fw.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				}
				continue
			}

			if !IsMedia(event.Name) {
				continue
			}
			fw.scheduleProcess(event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleProcess debounces a path so the file is fully written before it
// is queued.
func (fw *FileWatcher) scheduleProcess(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if t, ok := fw.debounceTimers[path]; ok {
		t.Reset(fw.delay)
		return
	}

	fw.debounceTimers[path] = time.AfterFunc(fw.delay, func() {
		fw.debounceMu.Lock()
		delete(fw.debounceTimers, path)
		fw.debounceMu.Unlock()

		fw.enqueue(path)
	})
}

func (fw *FileWatcher) enqueue(path string) {
	if Captioned(path) {
		fw.filesSkipped.Add(1)
		return
	}
	if !fw.pool.Enqueue(Job{Path: path}) {
		fw.filesSkipped.Add(1)
		fw.log.Warn().Str("path", path).Msg("watch queue full, skipping file")
		return
	}
	fw.filesQueued.Add(1)
	fw.log.Debug().Str("path", path).Msg("media queued")
}

// backfill queues media already present when the watcher starts.
func (fw *FileWatcher) backfill() {
	defer fw.wg.Done()
	fw.status.Store("backfilling")

	var paths []string
	filepath.WalkDir(fw.watchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !IsMedia(path) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})

	for _, path := range paths {
		select {
		case <-fw.done:
			return
		default:
		}
		fw.enqueue(path)
	}

	if len(paths) > 0 {
		fw.log.Info().Int("files", len(paths)).Msg("backfill complete")
	}
	fw.status.CompareAndSwap("backfilling", "watching")
}

// IsMedia reports whether path has an accepted media extension and is not a
// hidden temp file.
func IsMedia(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return pipeline.Allowed(name)
}
