package transcribe

import (
	"context"
	"fmt"
	"time"

	"github.com/snarg/tamil-captioner/internal/caption"
)

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error)
	Name() string  // "whisper", "deepinfra", "elevenlabs"
	Model() string // model identifier for logs and job history
}

// TranscribeOpts are per-request options. Zero-value fields are omitted from
// the request so servers fall back to their own defaults.
type TranscribeOpts struct {
	Language    string // ISO-639-1 hint, e.g. "ta"
	Temperature float64
	Prompt      string // initial_prompt / domain vocabulary
	BeamSize    int    // 0 = server default
	VadFilter   bool
}

// Response is the common transcription result from any provider.
type Response struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds
	Segments []caption.Segment
	Words    []Word // nil if provider doesn't support word timestamps
}

// Word is a timestamped word from any STT provider.
type Word struct {
	Word  string
	Start float64 // seconds
	End   float64 // seconds
}

// Error is returned when a provider cannot produce a transcript.
type Error struct {
	Provider   string
	StatusCode int // HTTP status from the provider, 0 if the request never completed
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transcription (%s): status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transcription (%s): %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options selects and configures a provider.
type Options struct {
	Provider string // "whisper", "deepinfra", "elevenlabs"
	URL      string // whisper endpoint
	Model    string
	APIKey   string
	Keyterms string // elevenlabs boost terms
	Timeout  time.Duration
}

// New builds the provider named by opts.Provider.
func New(opts Options) (Provider, error) {
	switch opts.Provider {
	case "", "whisper":
		return NewWhisperClient(opts.URL, opts.Model, opts.APIKey, opts.Timeout), nil
	case "deepinfra":
		model := opts.Model
		if model == "" || model == "tiny" {
			model = "openai/whisper-large-v3-turbo"
		}
		return NewDeepInfraClient(opts.APIKey, model, opts.Timeout), nil
	case "elevenlabs":
		model := opts.Model
		if model == "" || model == "tiny" {
			model = "scribe_v1"
		}
		return NewElevenLabsClient(opts.APIKey, model, opts.Keyterms, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", opts.Provider)
	}
}
