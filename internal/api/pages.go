package api

import (
	"bytes"
	"encoding/base64"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snarg/tamil-captioner/internal/caption"
	"github.com/snarg/tamil-captioner/internal/pipeline"
)

// PagesHandler serves the upload form and renders job results as HTML.
type PagesHandler struct {
	runner    Runner
	maxUpload int64
	tmpl      *template.Template
	log       zerolog.Logger
}

// NewPagesHandler parses every *.html template in webFS.
func NewPagesHandler(webFS fs.FS, runner Runner, maxUpload int64, log zerolog.Logger) (*PagesHandler, error) {
	tmpl, err := template.ParseFS(webFS, "*.html")
	if err != nil {
		return nil, err
	}
	return &PagesHandler{
		runner:    runner,
		maxUpload: maxUpload,
		tmpl:      tmpl,
		log:       log.With().Str("handler", "pages").Logger(),
	}, nil
}

type formView struct {
	Accept string
	Mode   string
	Error  string
}

type resultView struct {
	Filename     string
	Transcript   string
	Romanized    string
	Warnings     []pipeline.Warning
	DownloadHref template.URL
	DownloadName string
}

func newFormView(mode, errMsg string) formView {
	exts := pipeline.AllowedExtensions()
	accept := make([]string, len(exts))
	for i, e := range exts {
		accept[i] = "." + e
	}
	return formView{Accept: strings.Join(accept, ","), Mode: mode, Error: errMsg}
}

// Index handles GET /.
func (h *PagesHandler) Index(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "index.html", newFormView("", ""))
}

// Submit handles POST /caption. Input and transcription failures re-render
// the form with a message; anything else renders the result page.
func (h *PagesHandler) Submit(w http.ResponseWriter, r *http.Request) {
	res, err := runUpload(w, r, h.runner, h.maxUpload, "upload")
	if err != nil {
		status, _ := jobErrorStatus(err)
		msg := formMessage(err, status)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Msg("caption job failed")
		}
		h.render(w, status, "index.html", newFormView(r.FormValue("mode"), msg))
		return
	}
	h.render(w, http.StatusOK, "result.html", newResultView(res))
}

func formMessage(err error, status int) string {
	switch status {
	case http.StatusBadGateway:
		return "Transcription failed: " + err.Error()
	case http.StatusInternalServerError:
		return "Something went wrong while processing the file. Please try again."
	}
	return err.Error()
}

// newResultView embeds the caption document as a data URL so the download
// works from the page alone.
func newResultView(res *pipeline.Result) resultView {
	v := resultView{
		Filename:   res.Filename,
		Transcript: res.Transcript,
		Romanized:  res.Romanized,
		Warnings:   res.Warnings,
	}
	if res.HasDocument() {
		v.DownloadName = caption.Filename
		v.DownloadHref = template.URL("data:" + caption.ContentType + ";charset=utf-8;base64," +
			base64.StdEncoding.EncodeToString([]byte(res.Document)))
	}
	return v
}

func (h *PagesHandler) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := h.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		h.log.Error().Err(err).Str("template", name).Msg("template render failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
