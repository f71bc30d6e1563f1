package transcribe

import (
	"context"
	"net/http"
	"time"
)

const deepInfraBaseURL = "https://api.deepinfra.com/v1/inference/"

// DeepInfraClient uses DeepInfra's native inference API, which hosts the
// Whisper family under /v1/inference/{model}.
type DeepInfraClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// DeepInfra names the word field "text", unlike OpenAI's "word".
type deepInfraReply struct {
	Text     string      `json:"text"`
	Language string      `json:"language"`
	Duration float64     `json:"duration"`
	Words    []timedText `json:"words"`
	Segments []timedText `json:"segments"`
}

func NewDeepInfraClient(apiKey, model string, timeout time.Duration) *DeepInfraClient {
	return &DeepInfraClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: deepInfraBaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (di *DeepInfraClient) Name() string  { return "deepinfra" }
func (di *DeepInfraClient) Model() string { return di.model }

// Transcribe uploads audioPath under the "audio" field.
func (di *DeepInfraClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	post := newFormPost(di.Name(), di.baseURL+di.model, "audio")
	post.set("language", opts.Language)
	post.set("initial_prompt", opts.Prompt)
	post.set("task", "transcribe")
	post.header.Set("Authorization", "Bearer "+di.apiKey)

	var reply deepInfraReply
	if err := post.send(ctx, di.client, audioPath, &reply); err != nil {
		return nil, err
	}

	words := make([]Word, 0, len(reply.Words))
	for _, w := range reply.Words {
		words = append(words, Word{Word: w.Text, Start: w.Start, End: w.End})
	}
	return &Response{
		Text:     reply.Text,
		Language: reply.Language,
		Duration: reply.Duration,
		Segments: segmentsOf(reply.Segments, words, reply.Text),
		Words:    words,
	}, nil
}
