// Package pipeline runs one caption job: validate the upload, transcribe it,
// optionally romanize the transcript, and compose the caption document.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/tamil-captioner/internal/caption"
	"github.com/snarg/tamil-captioner/internal/database"
	"github.com/snarg/tamil-captioner/internal/metrics"
	"github.com/snarg/tamil-captioner/internal/romanize"
	"github.com/snarg/tamil-captioner/internal/storage"
	"github.com/snarg/tamil-captioner/internal/transcribe"
)

// Artifact names stored under each job key.
const (
	TranscriptFile = "transcript.txt"
	ThanglishFile  = "thanglish.txt"
	JobFile        = "job.json"
)

// Romanizer rewrites Tamil text into Thanglish.
type Romanizer interface {
	Romanize(ctx context.Context, text, credential string) (string, error)
}

// JobRecorder persists job history.
type JobRecorder interface {
	InsertJob(ctx context.Context, j *database.JobRow) error
}

// EventPublisher announces finished jobs.
type EventPublisher interface {
	Publish(event string, v any) error
}

// Request is one interaction's input. Credential lives only for this call.
type Request struct {
	Media      io.Reader
	Filename   string
	Mode       Mode
	Credential string
	Source     string // "upload", "api", "watch"
}

// Result is the output of a job that got past transcription.
type Result struct {
	JobID      uuid.UUID     `json:"job_id"`
	CreatedAt  time.Time     `json:"created_at"`
	Filename   string        `json:"filename"`
	Mode       Mode          `json:"mode"`
	Provider   string        `json:"provider"`
	Model      string        `json:"model,omitempty"`
	Language   string        `json:"language,omitempty"`
	Transcript string        `json:"transcript"`
	Romanized  string        `json:"romanized,omitempty"`
	Document   string        `json:"document"`
	Segments   int           `json:"segment_count"`
	CaptionKey string        `json:"caption_key,omitempty"`
	Warnings   []Warning     `json:"warnings"`
	Duration   time.Duration `json:"-"`

	// CaptionErr is set when the segments could not be composed. Document
	// is empty in that case; the transcript is still valid.
	CaptionErr error `json:"-"`
}

// HasDocument reports whether a caption document was produced.
func (r *Result) HasDocument() bool { return r.CaptionErr == nil }

// Options wires the pipeline's collaborators. Store, History and Events are
// optional.
type Options struct {
	Transcriber transcribe.Provider
	Romanizer   Romanizer
	Store       storage.CaptionStore
	History     JobRecorder
	Events      EventPublisher
	Language    string
	Temperature float64
	Prompt      string // vocabulary hint for Whisper-style providers
	BeamSize    int
	VadFilter   bool
	Preprocess  bool
	TempDir     string
	Log         zerolog.Logger
}

// Pipeline runs caption jobs. It holds no per-job state; concurrent Run
// calls are independent.
type Pipeline struct {
	stt         transcribe.Provider
	romanizer   Romanizer
	store       storage.CaptionStore
	history     JobRecorder
	events      EventPublisher
	language    string
	temperature float64
	prompt      string
	beamSize    int
	vadFilter   bool
	preprocess  bool
	tempDir     string
	log         zerolog.Logger
	inFlight    atomic.Int64
	now         func() time.Time
	newID       func() (uuid.UUID, error)
}

func New(opts Options) *Pipeline {
	return &Pipeline{
		stt:         opts.Transcriber,
		romanizer:   opts.Romanizer,
		store:       opts.Store,
		history:     opts.History,
		events:      opts.Events,
		language:    opts.Language,
		temperature: opts.Temperature,
		prompt:      opts.Prompt,
		beamSize:    opts.BeamSize,
		vadFilter:   opts.VadFilter,
		preprocess:  opts.Preprocess,
		tempDir:     opts.TempDir,
		log:         opts.Log.With().Str("component", "pipeline").Logger(),
		now:         time.Now,
		newID:       uuid.NewV7,
	}
}

// InFlight returns the number of jobs currently running.
func (p *Pipeline) InFlight() int { return int(p.inFlight.Load()) }

// Run executes one job. It returns *InputError before any service call if
// the upload is unusable, and *transcribe.Error if transcription fails; in
// both cases no Result is produced. Romanization, caption and storage
// problems are reported as Result.Warnings.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	source := req.Source
	if source == "" {
		source = "upload"
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeNative
	}

	if err := checkName(req.Filename); err != nil {
		metrics.JobsTotal.WithLabelValues(source, string(mode), "rejected").Inc()
		return nil, err
	}
	if mode != ModeNative && mode != ModeThanglish {
		metrics.JobsTotal.WithLabelValues(source, "invalid", "rejected").Inc()
		return nil, &InputError{Kind: InputBadMode, Filename: req.Filename, Detail: fmt.Sprintf("unknown mode %q", mode)}
	}
	head, err := sniff(req.Filename, req.Media)
	if err != nil {
		metrics.JobsTotal.WithLabelValues(source, string(mode), "rejected").Inc()
		return nil, err
	}

	id, err := p.newID()
	if err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}
	start := p.now()
	log := p.log.With().
		Str("job_id", id.String()).
		Str("source", source).
		Str("filename", req.Filename).
		Str("mode", string(mode)).
		Logger()

	// Upload is scoped to this job: removed on every return path.
	mediaPath, size, err := p.spool(req.Filename, head, req.Media)
	if err != nil {
		return nil, err
	}
	defer os.Remove(mediaPath)
	metrics.UploadSize.Observe(float64(size))
	log.Info().Int64("size", size).Msg("caption job started")

	res := &Result{
		JobID:     id,
		CreatedAt: start.UTC(),
		Filename:  req.Filename,
		Mode:      mode,
		Provider:  p.stt.Name(),
		Model:     p.stt.Model(),
		Language:  p.language,
		Warnings:  []Warning{},
	}

	audioPath := mediaPath
	if p.preprocess {
		wav, cleanup, perr := transcribe.Preprocess(ctx, mediaPath)
		if perr != nil {
			log.Warn().Err(perr).Msg("preprocess failed, sending original upload")
		}
		defer cleanup()
		audioPath = wav
	}

	t0 := p.now()
	resp, err := p.stt.Transcribe(ctx, audioPath, transcribe.TranscribeOpts{
		Language:    p.language,
		Temperature: p.temperature,
		Prompt:      p.prompt,
		BeamSize:    p.beamSize,
		VadFilter:   p.vadFilter,
	})
	metrics.StageDuration.WithLabelValues("transcribe", p.stt.Name()).Observe(p.now().Sub(t0).Seconds())
	if err != nil {
		var te *transcribe.Error
		if !errors.As(err, &te) {
			err = &transcribe.Error{Provider: p.stt.Name(), Err: err}
		}
		log.Error().Err(err).Msg("transcription failed")
		res.Duration = p.now().Sub(start)
		p.finish(ctx, log, source, size, res, err)
		return nil, err
	}
	res.Transcript = resp.Text
	if resp.Language != "" {
		res.Language = resp.Language
	}
	log.Info().
		Int("segments", len(resp.Segments)).
		Int("chars", len(resp.Text)).
		Dur("elapsed", p.now().Sub(t0)).
		Msg("transcription complete")

	if mode == ModeThanglish {
		p.romanizeInto(ctx, log, res, req.Credential)
	}

	t0 = p.now()
	doc, err := caption.Compose(resp.Segments)
	metrics.StageDuration.WithLabelValues("compose", "").Observe(p.now().Sub(t0).Seconds())
	if err != nil {
		res.CaptionErr = err
		res.warn(WarnCaptionFailed, "Captions could not be generated: "+err.Error())
		log.Warn().Err(err).Msg("caption composition failed")
	} else {
		res.Document = doc
		res.Segments = len(resp.Segments)
		metrics.CaptionSegments.Observe(float64(res.Segments))
	}

	res.Duration = p.now().Sub(start)
	p.save(ctx, log, source, size, res)
	p.finish(ctx, log, source, size, res, nil)
	return res, nil
}

func (r *Result) warn(kind WarningKind, msg string) {
	r.Warnings = append(r.Warnings, Warning{Kind: kind, Message: msg})
	metrics.JobWarningsTotal.WithLabelValues(string(kind)).Inc()
}

func (p *Pipeline) romanizeInto(ctx context.Context, log zerolog.Logger, res *Result, credential string) {
	if strings.TrimSpace(credential) == "" {
		res.warn(WarnMissingCredential, "Thanglish output unavailable: no API key was supplied.")
		return
	}
	if p.romanizer == nil {
		res.warn(WarnRomanizationFailed, "Thanglish conversion is not configured on this server.")
		return
	}
	if strings.TrimSpace(res.Transcript) == "" {
		return
	}

	t0 := p.now()
	out, err := p.romanizer.Romanize(ctx, res.Transcript, credential)
	metrics.StageDuration.WithLabelValues("romanize", "").Observe(p.now().Sub(t0).Seconds())
	switch {
	case errors.Is(err, romanize.ErrMissingCredential):
		res.warn(WarnMissingCredential, "Thanglish output unavailable: no API key was supplied.")
	case err != nil:
		res.warn(WarnRomanizationFailed, "Thanglish conversion failed: "+err.Error())
		var re *romanize.Error
		status := 0
		if errors.As(err, &re) {
			status = re.StatusCode
		}
		log.Warn().Int("status", status).Msg("romanization failed")
	default:
		res.Romanized = out
		log.Info().Int("chars", len(out)).Dur("elapsed", p.now().Sub(t0)).Msg("romanization complete")
	}
}

// spool writes the upload to a private temp file and returns its path and size.
func (p *Pipeline) spool(filename string, head []byte, rest io.Reader) (string, int64, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	f, err := os.CreateTemp(p.tempDir, "captioner-upload-*"+ext)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	n, err := io.Copy(f, io.MultiReader(bytes.NewReader(head), rest))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("write temp file: %w", err)
	}
	return path, n, nil
}

// save writes the job artifacts. Failures become warnings; the in-memory
// document is unaffected.
func (p *Pipeline) save(ctx context.Context, log zerolog.Logger, source string, size int64, res *Result) {
	if p.store == nil {
		return
	}
	t0 := p.now()
	defer func() {
		metrics.StageDuration.WithLabelValues("store", p.store.Type()).Observe(p.now().Sub(t0).Seconds())
	}()

	type artifact struct {
		name, contentType string
		data              []byte
	}
	artifacts := []artifact{{TranscriptFile, "text/plain; charset=utf-8", []byte(res.Transcript)}}
	if res.HasDocument() {
		artifacts = append(artifacts, artifact{caption.Filename, caption.ContentType, []byte(res.Document)})
	}
	if res.Romanized != "" {
		artifacts = append(artifacts, artifact{ThanglishFile, "text/plain; charset=utf-8", []byte(res.Romanized)})
	}

	var failed []string
	for _, a := range artifacts {
		key := storage.Key(res.JobID, a.name)
		if err := p.store.Save(ctx, key, a.data, a.contentType); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to store artifact")
			failed = append(failed, a.name)
			continue
		}
		if a.name == caption.Filename {
			res.CaptionKey = key
		}
	}

	// job.json lets the download routes work without a database.
	summary, err := json.Marshal(p.jobRow(res, source, size, nil))
	if err == nil {
		err = p.store.Save(ctx, storage.Key(res.JobID, JobFile), summary, "application/json")
	}
	if err != nil {
		log.Warn().Err(err).Msg("failed to store job summary")
		failed = append(failed, JobFile)
	}

	if len(failed) > 0 {
		res.warn(WarnStoreFailed, "Could not save "+strings.Join(failed, ", ")+"; use the download on this page.")
	}
}

// jobRow converts a result (or failure) into a history row.
func (p *Pipeline) jobRow(res *Result, source string, size int64, jobErr error) *database.JobRow {
	status := "completed"
	errMsg := ""
	if jobErr != nil {
		status = "failed"
		errMsg = jobErr.Error()
	}
	return &database.JobRow{
		ID:           res.JobID,
		CreatedAt:    res.CreatedAt,
		Source:       source,
		Filename:     res.Filename,
		SizeBytes:    size,
		Mode:         string(res.Mode),
		Status:       status,
		Provider:     res.Provider,
		Model:        res.Model,
		Language:     res.Language,
		SegmentCount: res.Segments,
		Transcript:   res.Transcript,
		Romanized:    res.Romanized,
		CaptionKey:   res.CaptionKey,
		Warnings:     warningKinds(res.Warnings),
		Error:        errMsg,
		DurationMs:   int(res.Duration.Milliseconds()),
	}
}

// warningKinds is what outlives the request. Messages can quote provider
// errors, which sometimes echo part of the user's key.
func warningKinds(ws []Warning) []string {
	kinds := make([]string, len(ws))
	for i, w := range ws {
		kinds[i] = string(w.Kind)
	}
	return kinds
}

// JobEvent is the MQTT payload. It carries no transcript text and never the
// credential.
type JobEvent struct {
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"`
	Source       string    `json:"source"`
	Filename     string    `json:"filename"`
	Mode         string    `json:"mode"`
	Provider     string    `json:"provider"`
	SegmentCount int       `json:"segment_count"`
	Warnings     []string  `json:"warnings"`
	Error        string    `json:"error,omitempty"`
	DurationMs   int       `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

func (p *Pipeline) finish(ctx context.Context, log zerolog.Logger, source string, size int64, res *Result, jobErr error) {
	row := p.jobRow(res, source, size, jobErr)

	outcome := "completed"
	if jobErr != nil {
		outcome = "failed"
	} else if len(res.Warnings) > 0 {
		outcome = "completed_with_warnings"
	}
	metrics.JobsTotal.WithLabelValues(source, string(res.Mode), outcome).Inc()

	if p.history != nil {
		// History writes outlive a cancelled request.
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := p.history.InsertJob(hctx, row); err != nil {
			log.Warn().Err(err).Msg("failed to record job history")
		}
		cancel()
	}

	if p.events != nil {
		ev := JobEvent{
			JobID:        res.JobID.String(),
			Status:       row.Status,
			Source:       source,
			Filename:     res.Filename,
			Mode:         string(res.Mode),
			Provider:     res.Provider,
			SegmentCount: res.Segments,
			Warnings:     row.Warnings,
			DurationMs:   row.DurationMs,
			CreatedAt:    res.CreatedAt,
		}
		if jobErr != nil {
			ev.Error = "transcription_failed"
		}
		if err := p.events.Publish(row.Status, ev); err != nil {
			metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
			log.Warn().Err(err).Msg("failed to publish job event")
		} else {
			metrics.EventsPublishedTotal.WithLabelValues("ok").Inc()
		}
	}

	ev := log.Info()
	if jobErr != nil {
		ev = log.Warn()
	}
	ev.Str("status", row.Status).
		Int("segments", res.Segments).
		Int("warnings", len(res.Warnings)).
		Dur("elapsed", res.Duration).
		Msg("caption job finished")
}
