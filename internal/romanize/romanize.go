// Package romanize converts Tamil-script text to Thanglish (Tamil written in
// Latin letters) through an OpenAI-compatible chat completions endpoint.
package romanize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultEndpoint    = "https://api.openai.com/v1/chat/completions"
	defaultModel       = "gpt-3.5-turbo"
	defaultInstruction = "Convert this Tamil text to Thanglish:"
	defaultTimeout     = 60 * time.Second
)

// ErrMissingCredential is returned when Romanize is called without an API key.
// No request is made in that case.
var ErrMissingCredential = errors.New("romanize: api key required")

// Error is returned when the completion service fails or answers with
// something other than usable text.
type Error struct {
	StatusCode int // HTTP status, 0 if no response was received
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("romanize: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("romanize: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config selects the completion endpoint and model.
type Config struct {
	Endpoint    string
	Model       string
	Instruction string // prompt line placed before the Tamil text
	Timeout     time.Duration
}

// Client issues one chat completion per Romanize call. The credential is
// supplied per call and never stored.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient fills unset Config fields with defaults.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if strings.TrimSpace(cfg.Instruction) == "" {
		cfg.Instruction = defaultInstruction
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.cfg.Model }

// Prompt builds the single user message sent for text.
func (c *Client) Prompt(text string) string {
	return c.cfg.Instruction + "\n" + text
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Romanize returns the model's Thanglish rendition of text, trimmed of
// surrounding whitespace. The request is attempted once.
func (c *Client) Romanize(ctx context.Context, text, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", ErrMissingCredential
	}

	payload := chatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: c.Prompt(text)}},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", &Error{Err: fmt.Errorf("encode body: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", &Error{Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Err: fmt.Errorf("request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Err: fmt.Errorf("read response: %w", err)}
	}

	var completion chatCompletionResponse
	decodeErr := json.Unmarshal(body, &completion)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if decodeErr == nil && completion.Error != nil && completion.Error.Message != "" {
			msg = completion.Error.Message
		}
		if len(msg) > 512 {
			msg = msg[:512] + "..."
		}
		return "", &Error{StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}
	if decodeErr != nil {
		return "", &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", decodeErr)}
	}
	if len(completion.Choices) == 0 {
		return "", &Error{StatusCode: resp.StatusCode, Err: errors.New("empty choices")}
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", &Error{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("empty content (finish_reason=%q)", completion.Choices[0].FinishReason),
		}
	}
	return content, nil
}
