package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/tamil-captioner/internal/caption"
	"github.com/snarg/tamil-captioner/internal/database"
	"github.com/snarg/tamil-captioner/internal/pipeline"
	"github.com/snarg/tamil-captioner/internal/storage"
)

// JobHistory reads recorded jobs. Backed by Postgres when configured.
type JobHistory interface {
	GetJob(ctx context.Context, id uuid.UUID) (*database.JobRow, error)
	ListJobs(ctx context.Context, f database.JobFilter) ([]database.JobRow, int, error)
}

// artifacts maps downloadable names to the Content-Type they are served with.
var artifacts = map[string]string{
	caption.Filename:        caption.ContentType,
	pipeline.TranscriptFile: "text/plain; charset=utf-8",
	pipeline.ThanglishFile:  "text/plain; charset=utf-8",
}

type JobsHandler struct {
	history JobHistory
	store   storage.CaptionStore
	log     zerolog.Logger
}

// NewJobsHandler builds the job routes. history and store may each be nil.
func NewJobsHandler(history JobHistory, store storage.CaptionStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		history: history,
		store:   store,
		log:     log.With().Str("handler", "jobs").Logger(),
	}
}

func (h *JobsHandler) Routes(r chi.Router) {
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{id}", h.GetJob)
	r.Get("/jobs/{id}/{file}", h.Download)
}

// JobListResponse is the body of GET /api/v1/jobs.
type JobListResponse struct {
	Jobs   []database.JobRow `json:"jobs"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// ListJobs handles GET /api/v1/jobs.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		WriteErrorWithCode(w, http.StatusServiceUnavailable, ErrUnavailable, "job history requires DATABASE_URL")
		return
	}
	p, err := ParsePagination(r)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	filter := database.JobFilter{Limit: p.Limit, Offset: p.Offset}
	if v, ok := QueryString(r, "mode"); ok {
		mode, err := pipeline.ParseMode(v)
		if err != nil {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
			return
		}
		filter.Mode = string(mode)
	}
	if v, ok := QueryString(r, "status"); ok {
		filter.Status = v
	}

	jobs, total, err := h.history.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list jobs")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []database.JobRow{}
	}
	WriteJSON(w, http.StatusOK, JobListResponse{Jobs: jobs, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

// JobResponse is the body of GET /api/v1/jobs/{id}.
type JobResponse struct {
	*database.JobRow
	DownloadURL string `json:"download_url,omitempty"`
}

// GetJob handles GET /api/v1/jobs/{id}. The database is consulted first, then
// the job summary kept beside the stored captions.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	job, err := h.lookup(r.Context(), id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "job not found")
		return
	case err != nil:
		h.log.Error().Err(err).Str("job_id", id.String()).Msg("failed to load job")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "failed to load job")
		return
	}

	resp := JobResponse{JobRow: job}
	if h.store != nil && job.CaptionKey != "" {
		if u, err := h.store.URL(r.Context(), job.CaptionKey); err == nil {
			resp.DownloadURL = u
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *JobsHandler) lookup(ctx context.Context, id uuid.UUID) (*database.JobRow, error) {
	if h.history != nil {
		job, err := h.history.GetJob(ctx, id)
		if !errors.Is(err, database.ErrNotFound) {
			return job, err
		}
	}
	if h.store == nil {
		return nil, database.ErrNotFound
	}
	key := storage.Key(id, pipeline.JobFile)
	if !h.store.Exists(ctx, key) {
		return nil, database.ErrNotFound
	}
	rc, err := h.store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var job database.JobRow
	if err := json.NewDecoder(rc).Decode(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Download handles GET /api/v1/jobs/{id}/{file} for the stored artifacts.
func (h *JobsHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "file")
	contentType, known := artifacts[name]
	if !known || h.store == nil {
		WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "file not found")
		return
	}

	key := storage.Key(id, name)
	if !h.store.Exists(r.Context(), key) {
		WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "file not found")
		return
	}
	rc, err := h.store.Open(r.Context(), key)
	if err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("failed to open artifact")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "failed to open file")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn().Err(err).Str("key", key).Msg("artifact download interrupted")
	}
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "invalid job id")
		return uuid.Nil, false
	}
	return id, true
}
