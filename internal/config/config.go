package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxUploadMB  int64         `env:"MAX_UPLOAD_MB" envDefault:"512"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Speech-to-text
	STTProvider     string        `env:"STT_PROVIDER" envDefault:"whisper"`
	WhisperURL      string        `env:"WHISPER_URL" envDefault:"http://localhost:8000/v1/audio/transcriptions"`
	WhisperModel    string        `env:"WHISPER_MODEL" envDefault:"tiny"`
	STTAPIKey       string        `env:"STT_API_KEY"`
	STTKeyterms     string        `env:"STT_KEYTERMS"`
	STTTimeout      time.Duration `env:"STT_TIMEOUT" envDefault:"10m"`
	Language        string        `env:"TRANSCRIBE_LANGUAGE" envDefault:"ta"`
	Temperature     float64       `env:"TRANSCRIBE_TEMPERATURE" envDefault:"0"`
	Prompt          string        `env:"TRANSCRIBE_PROMPT"`
	BeamSize        int           `env:"WHISPER_BEAM_SIZE" envDefault:"0"`
	VadFilter       bool          `env:"WHISPER_VAD_FILTER" envDefault:"false"`
	PreprocessAudio bool          `env:"PREPROCESS_AUDIO" envDefault:"false"`

	// Romanization (OpenAI-compatible chat completions)
	LLMURL        string        `env:"LLM_URL" envDefault:"https://api.openai.com/v1/chat/completions"`
	LLMModel      string        `env:"LLM_MODEL" envDefault:"gpt-3.5-turbo"`
	LLMTimeout    time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`
	RomanizeInstr string        `env:"ROMANIZE_PROMPT" envDefault:"Convert this Tamil text to Thanglish:"`

	// Caption document storage
	CaptionDir       string        `env:"CAPTION_DIR" envDefault:"./captions"`
	CaptionRetention time.Duration `env:"CAPTION_RETENTION" envDefault:"24h"`
	S3               S3Config

	// Optional integrations
	DatabaseURL      string        `env:"DATABASE_URL"`
	HistoryRetention time.Duration `env:"JOB_HISTORY_RETENTION" envDefault:"720h"`
	MQTTBrokerURL    string        `env:"MQTT_BROKER_URL"`
	MQTTTopic        string        `env:"MQTT_TOPIC" envDefault:"captioner/jobs"`
	MQTTClientID     string        `env:"MQTT_CLIENT_ID" envDefault:"tamil-captioner"`
	MQTTUsername     string        `env:"MQTT_USERNAME"`
	MQTTPassword     string        `env:"MQTT_PASSWORD"`
	WatchDir         string        `env:"WATCH_DIR"`
	WatchWorkers     int           `env:"WATCH_WORKERS" envDefault:"1"`
}

// S3Config holds object storage settings for caption documents.
type S3Config struct {
	Bucket        string        `env:"S3_BUCKET"`
	Endpoint      string        `env:"S3_ENDPOINT"`
	Region        string        `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey     string        `env:"S3_ACCESS_KEY"`
	SecretKey     string        `env:"S3_SECRET_KEY"`
	Prefix        string        `env:"S3_PREFIX"`
	PresignExpiry time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"1h"`
	LocalCache    bool          `env:"S3_LOCAL_CACHE" envDefault:"true"`
}

// Enabled reports whether S3 storage is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	CaptionDir  string
	WatchDir    string
}

var providers = map[string]bool{
	"whisper":    true,
	"deepinfra":  true,
	"elevenlabs": true,
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.CaptionDir != "" {
		cfg.CaptionDir = overrides.CaptionDir
	}
	if overrides.WatchDir != "" {
		cfg.WatchDir = overrides.WatchDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env parsing cannot.
func (c *Config) Validate() error {
	c.STTProvider = strings.ToLower(strings.TrimSpace(c.STTProvider))
	if !providers[c.STTProvider] {
		return fmt.Errorf("STT_PROVIDER %q: must be whisper, deepinfra or elevenlabs", c.STTProvider)
	}
	if c.STTProvider != "whisper" && c.STTAPIKey == "" {
		return fmt.Errorf("STT_PROVIDER %q requires STT_API_KEY", c.STTProvider)
	}
	tag, err := language.Parse(c.Language)
	if err != nil {
		return fmt.Errorf("TRANSCRIBE_LANGUAGE %q: %w", c.Language, err)
	}
	base, _ := tag.Base()
	c.Language = base.String()
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB)
	}
	if c.BeamSize < 0 {
		return fmt.Errorf("WHISPER_BEAM_SIZE must not be negative, got %d", c.BeamSize)
	}
	if c.WatchWorkers < 1 {
		return fmt.Errorf("WATCH_WORKERS must be at least 1, got %d", c.WatchWorkers)
	}
	return nil
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}
