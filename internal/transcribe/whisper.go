package transcribe

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// WhisperClient talks to any OpenAI-compatible /v1/audio/transcriptions
// endpoint: the hosted API, speaches or a faster-whisper server.
type WhisperClient struct {
	url    string
	model  string
	apiKey string
	client *http.Client
}

// verbose_json reply. Only the fields captions need are decoded.
type whisperReply struct {
	Text     string      `json:"text"`
	Language string      `json:"language"`
	Duration float64     `json:"duration"`
	Segments []timedText `json:"segments"`
	Words    []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

// NewWhisperClient returns a client for url. apiKey may be empty for
// self-hosted servers.
func NewWhisperClient(url, model, apiKey string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:    url,
		model:  model,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

func (wc *WhisperClient) Name() string  { return "whisper" }
func (wc *WhisperClient) Model() string { return wc.model }

// Transcribe uploads audioPath under the "file" field. Only non-default
// options are sent so each server keeps its own defaults.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	post := newFormPost(wc.Name(), wc.url, "file")
	post.set("model", wc.model)
	post.set("language", opts.Language)
	post.set("temperature", fmt.Sprintf("%.2f", opts.Temperature))
	post.set("response_format", "verbose_json")
	post.set("timestamp_granularities[]", "segment")
	post.set("prompt", opts.Prompt)
	post.setInt("beam_size", opts.BeamSize)
	if opts.VadFilter {
		post.set("vad_filter", "true")
	}
	if wc.apiKey != "" {
		post.header.Set("Authorization", "Bearer "+wc.apiKey)
	}

	var reply whisperReply
	if err := post.send(ctx, wc.client, audioPath, &reply); err != nil {
		return nil, err
	}

	var words []Word
	for _, w := range reply.Words {
		words = append(words, Word{Word: w.Word, Start: w.Start, End: w.End})
	}
	return &Response{
		Text:     reply.Text,
		Language: reply.Language,
		Duration: reply.Duration,
		Segments: segmentsOf(reply.Segments, words, reply.Text),
		Words:    words,
	}, nil
}
