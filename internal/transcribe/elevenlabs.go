package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const elevenLabsSTTEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"

// ElevenLabsClient uses the ElevenLabs Scribe speech-to-text API.
type ElevenLabsClient struct {
	apiKey   string
	model    string // scribe_v1, scribe_v2
	keyterms string // comma separated
	endpoint string
	client   *http.Client
}

type elevenLabsReply struct {
	LanguageCode string `json:"language_code"`
	Text         string `json:"text"`
	Words        []struct {
		timedText
		Type string `json:"type"` // word, spacing, audio_event
	} `json:"words"`
}

func NewElevenLabsClient(apiKey, model, keyterms string, timeout time.Duration) *ElevenLabsClient {
	return &ElevenLabsClient{
		apiKey:   apiKey,
		model:    model,
		keyterms: keyterms,
		endpoint: elevenLabsSTTEndpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (el *ElevenLabsClient) Name() string  { return "elevenlabs" }
func (el *ElevenLabsClient) Model() string { return el.model }

// Transcribe uploads audioPath under the "file" field. Scribe takes boost
// terms instead of a prompt, so opts.Prompt is not sent. It returns word
// timings only, so segments are grouped from them.
func (el *ElevenLabsClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	post := newFormPost(el.Name(), el.endpoint, "file")
	post.set("model_id", el.model)
	post.set("language_code", opts.Language)
	post.set("timestamps_granularity", "word")
	post.set("tag_audio_events", "false")
	post.set("keyterms", mergeKeyterms(el.keyterms))
	post.header.Set("xi-api-key", el.apiKey)

	var reply elevenLabsReply
	if err := post.send(ctx, el.client, audioPath, &reply); err != nil {
		return nil, err
	}

	var words []Word
	for _, w := range reply.Words {
		if w.Type != "word" {
			continue
		}
		words = append(words, Word{Word: w.Text, Start: w.Start, End: w.End})
	}
	return &Response{
		Text:     reply.Text,
		Language: reply.LanguageCode,
		Segments: SegmentsFromWords(words, reply.Text),
		Words:    words,
	}, nil
}

// mergeKeyterms joins comma-separated term lists into the JSON array Scribe
// expects. Empty when there are no terms.
func mergeKeyterms(lists ...string) string {
	var terms []string
	for _, list := range lists {
		for _, t := range strings.Split(list, ",") {
			if t = strings.TrimSpace(t); t != "" {
				terms = append(terms, t)
			}
		}
	}
	if len(terms) == 0 {
		return ""
	}
	b, _ := json.Marshal(terms)
	return string(b)
}
