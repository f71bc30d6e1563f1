package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/snarg/tamil-captioner/internal/caption"
)

// Provider error bodies are cut to this many bytes.
const maxErrorBody = 512

// formPost is a single multipart upload to a provider endpoint.
type formPost struct {
	provider  string
	url       string
	fileField string
	fields    []formField
	header    http.Header
}

type formField struct{ name, value string }

func newFormPost(provider, url, fileField string) *formPost {
	return &formPost{provider: provider, url: url, fileField: fileField, header: make(http.Header)}
}

// set adds a field; empty values are skipped so servers keep their defaults.
func (p *formPost) set(name, value string) {
	if value != "" {
		p.fields = append(p.fields, formField{name, value})
	}
}

func (p *formPost) setInt(name string, v int) {
	if v > 0 {
		p.set(name, strconv.Itoa(v))
	}
}

func (p *formPost) fail(status int, err error) error {
	return &Error{Provider: p.provider, StatusCode: status, Err: err}
}

// send uploads audioPath and decodes a 200 JSON reply into out.
func (p *formPost) send(ctx context.Context, client *http.Client, audioPath string, out any) error {
	body, contentType, err := p.encode(audioPath)
	if err != nil {
		return p.fail(0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, body)
	if err != nil {
		return p.fail(0, fmt.Errorf("create request: %w", err))
	}
	for k, v := range p.header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return p.fail(0, fmt.Errorf("%s request: %w", p.provider, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return p.fail(0, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return p.fail(resp.StatusCode, errors.New(truncate(raw, maxErrorBody)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return p.fail(0, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (p *formPost) encode(audioPath string) (*bytes.Buffer, string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(p.fileField, filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy audio data: %w", err)
	}
	for _, fld := range p.fields {
		if err := w.WriteField(fld.name, fld.value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", fld.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// timedText is the start/end/text triple most providers use for segments.
type timedText struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// segmentsOf prefers provider segments and falls back to grouping words
// when the server only honoured word granularity.
func segmentsOf(spans []timedText, words []Word, text string) []caption.Segment {
	if len(spans) == 0 {
		return SegmentsFromWords(words, text)
	}
	out := make([]caption.Segment, len(spans))
	for i, s := range spans {
		out[i] = caption.Segment{Start: s.Start, End: s.End, Text: s.Text}
	}
	return out
}
