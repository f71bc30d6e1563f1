package api

import (
	"encoding/base64"
	"html"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	captioner "github.com/snarg/tamil-captioner"
	"github.com/snarg/tamil-captioner/internal/pipeline"
	"github.com/snarg/tamil-captioner/internal/transcribe"
)

func webFS(t *testing.T) fs.FS {
	t.Helper()
	sub, err := fs.Sub(captioner.WebFiles, "web")
	if err != nil {
		t.Fatal(err)
	}
	return sub
}

func newTestPages(t *testing.T, runner Runner) *PagesHandler {
	t.Helper()
	h, err := NewPagesHandler(webFS(t), runner, 1<<20, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPagesHandler: %v", err)
	}
	return h
}

func submitForm(t *testing.T, h *PagesHandler, fields map[string]string, fileData []byte, fileName string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := buildMultipartForm(t, fields, "file", fileData, fileName)
	req := httptest.NewRequest("POST", "/caption", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.Submit(rec, req)
	return rec
}

func TestPages_Index(t *testing.T) {
	h := newTestPages(t, &mockRunner{})
	rec := httptest.NewRecorder()
	h.Index(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	page := rec.Body.String()
	for _, want := range []string{
		`enctype="multipart/form-data"`,
		`accept=".mp4,.mp3,.wav,.m4a"`,
		`name="mode" value="native" checked`,
		`name="mode" value="thanglish"`,
		`type="password" name="api_key"`,
	} {
		if !strings.Contains(page, want) {
			t.Errorf("form missing %s", want)
		}
	}
}

func TestPages_SubmitRendersResult(t *testing.T) {
	mock := &mockRunner{}
	h := newTestPages(t, mock)

	rec := submitForm(t, h, map[string]string{"mode": "native"}, []byte("fake"), "clip.mp4")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if mock.lastReq.Source != "upload" {
		t.Errorf("source = %q, want upload", mock.lastReq.Source)
	}
	page := rec.Body.String()
	if !strings.Contains(page, "வணக்கம்") {
		t.Error("transcript not rendered")
	}
	if !strings.Contains(page, `download="captions.srt"`) {
		t.Error("download link missing")
	}
	doc := "1\n00:00:00,000 --> 00:00:01,500\nவணக்கம்\n\n"
	href := "data:text/plain;charset=utf-8;base64," + base64.StdEncoding.EncodeToString([]byte(doc))
	if !strings.Contains(html.UnescapeString(page), href) {
		t.Error("download link does not carry the caption document")
	}
}

func TestPages_SubmitWarningsAndThanglish(t *testing.T) {
	mock := &mockRunner{result: &pipeline.Result{
		Filename:   "clip.mp3",
		Transcript: "வணக்கம்",
		Romanized:  "vanakkam",
		Warnings:   []pipeline.Warning{{Kind: pipeline.WarnStoreFailed, Message: "Could not save captions.srt"}},
	}}
	h := newTestPages(t, mock)

	rec := submitForm(t, h, map[string]string{"mode": "thanglish", "api_key": "sk-secret"}, []byte("fake"), "clip.mp3")
	page := rec.Body.String()
	if !strings.Contains(page, "vanakkam") {
		t.Error("romanized text not rendered")
	}
	if !strings.Contains(page, "Could not save captions.srt") {
		t.Error("warning not rendered")
	}
	if strings.Contains(page, "sk-secret") {
		t.Error("credential echoed into the page")
	}
}

func TestPages_NoDownloadWithoutDocument(t *testing.T) {
	mock := &mockRunner{result: &pipeline.Result{
		Transcript: "text",
		CaptionErr: &transcribe.Error{Provider: "x"},
		Warnings:   []pipeline.Warning{{Kind: pipeline.WarnCaptionFailed, Message: "Captions could not be generated"}},
	}}
	h := newTestPages(t, mock)

	rec := submitForm(t, h, nil, []byte("fake"), "clip.mp3")
	page := rec.Body.String()
	if strings.Contains(page, "download=") {
		t.Error("download link rendered without a document")
	}
	if !strings.Contains(page, "Captions could not be generated") {
		t.Error("caption warning not rendered")
	}
}

func TestPages_SubmitErrorRerendersForm(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantText string
	}{
		{"unsupported", &pipeline.InputError{Kind: pipeline.InputUnsupported, Filename: "notes.txt", Detail: "not audio"}, http.StatusUnsupportedMediaType, "not audio"},
		{"transcription", &transcribe.Error{Provider: "whisper", StatusCode: 503, Err: errorString("overloaded")}, http.StatusBadGateway, "Transcription failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestPages(t, &mockRunner{err: tt.err})
			rec := submitForm(t, h, map[string]string{"mode": "thanglish"}, []byte("fake"), "clip.mp3")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			page := rec.Body.String()
			if !strings.Contains(page, tt.wantText) {
				t.Errorf("page missing %q", tt.wantText)
			}
			if !strings.Contains(page, `value="thanglish" checked`) {
				t.Error("selected mode not preserved")
			}
		})
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }
