package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/tamil-captioner/internal/caption"
	"github.com/snarg/tamil-captioner/internal/pipeline"
	"github.com/snarg/tamil-captioner/internal/transcribe"
)

// Multipart parts above this size are spooled to disk by net/http.
const formMemory = 32 << 20

// Runner executes one caption job.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// CaptionHandler accepts uploads on the JSON API.
type CaptionHandler struct {
	runner    Runner
	maxUpload int64
	log       zerolog.Logger
}

func NewCaptionHandler(runner Runner, maxUpload int64, log zerolog.Logger) *CaptionHandler {
	return &CaptionHandler{
		runner:    runner,
		maxUpload: maxUpload,
		log:       log.With().Str("handler", "captions").Logger(),
	}
}

// Routes registers the upload endpoint.
func (h *CaptionHandler) Routes(r chi.Router) {
	r.Post("/captions", h.Create)
}

// CaptionResponse is the JSON body returned for a finished job.
type CaptionResponse struct {
	*pipeline.Result
	CaptionError string            `json:"caption_error,omitempty"`
	Links        map[string]string `json:"links,omitempty"`
}

// Create handles POST /api/v1/captions.
// Multipart fields: file (required), mode (native|thanglish), api_key.
func (h *CaptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	res, err := runUpload(w, r, h.runner, h.maxUpload, "api")
	if err != nil {
		status, code := jobErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Str("request_id", r.Header.Get("X-Request-ID")).Msg("caption job failed")
			WriteErrorWithCode(w, status, code, "internal server error")
			return
		}
		WriteErrorWithCode(w, status, code, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, newCaptionResponse(res))
}

func newCaptionResponse(res *pipeline.Result) CaptionResponse {
	out := CaptionResponse{Result: res}
	if res.CaptionErr != nil {
		out.CaptionError = res.CaptionErr.Error()
	}
	if res.CaptionKey != "" {
		out.Links = jobLinks(res)
	}
	return out
}

func jobLinks(res *pipeline.Result) map[string]string {
	base := "/api/v1/jobs/" + res.JobID.String()
	links := map[string]string{
		"job":        base,
		"transcript": base + "/" + pipeline.TranscriptFile,
	}
	if res.HasDocument() {
		links["captions"] = base + "/" + caption.Filename
	}
	if res.Romanized != "" {
		links["thanglish"] = base + "/" + pipeline.ThanglishFile
	}
	return links
}

// runUpload reads the multipart upload and runs it through the pipeline.
// The credential is read from the form and handed to the job only.
func runUpload(w http.ResponseWriter, r *http.Request, runner Runner, maxUpload int64, source string) (*pipeline.Result, error) {
	if maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	}
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, &pipeline.InputError{Kind: pipeline.InputTooLarge, Detail: fmt.Sprintf("upload exceeds %d bytes", mbe.Limit)}
		}
		return nil, &formError{err: err}
	}
	defer r.MultipartForm.RemoveAll()

	mode, err := pipeline.ParseMode(r.FormValue("mode"))
	if err != nil {
		return nil, err
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, &pipeline.InputError{Kind: pipeline.InputMissing, Detail: "no file was uploaded"}
		}
		return nil, &formError{err: err}
	}
	defer file.Close()

	return runner.Run(r.Context(), pipeline.Request{
		Media:      file,
		Filename:   header.Filename,
		Mode:       mode,
		Credential: r.FormValue("api_key"),
		Source:     source,
	})
}

// formError is a request body that is not a usable multipart form.
type formError struct{ err error }

func (e *formError) Error() string { return "invalid multipart form: " + e.err.Error() }
func (e *formError) Unwrap() error { return e.err }

// jobErrorStatus maps a job error onto an HTTP status and error code.
func jobErrorStatus(err error) (int, string) {
	var ie *pipeline.InputError
	var fe *formError
	var te *transcribe.Error
	switch {
	case errors.As(err, &ie):
		switch ie.Kind {
		case pipeline.InputUnsupported:
			return http.StatusUnsupportedMediaType, ErrUnsupportedMedia
		case pipeline.InputTooLarge:
			return http.StatusRequestEntityTooLarge, ErrTooLarge
		}
		return http.StatusBadRequest, ErrBadRequest
	case errors.As(err, &fe):
		return http.StatusBadRequest, ErrInvalidBody
	case errors.As(err, &te):
		return http.StatusBadGateway, ErrTranscriptionFailed
	}
	return http.StatusInternalServerError, ErrInternal
}
