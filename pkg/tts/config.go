package tts

import (
	"log/slog"
	"time"
)

// Config is shared by all providers; each reads the fields it needs.
// Set it through Options.
type Config struct {
	APIKey  string
	BaseURL string
	VoiceID string
	ModelID string

	// Command is the on-device engine and its arguments. Text goes to its
	// stdin and audio comes back on stdout.
	Command []string

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Option sets a Config field.
type Option func(*Config)

func WithAPIKey(key string) Option    { return func(c *Config) { c.APIKey = key } }
func WithBaseURL(url string) Option   { return func(c *Config) { c.BaseURL = url } }
func WithVoice(voiceID string) Option { return func(c *Config) { c.VoiceID = voiceID } }
func WithModel(modelID string) Option { return func(c *Config) { c.ModelID = modelID } }

// WithCommand sets the engine a Command provider runs.
func WithCommand(name string, args ...string) Option {
	return func(c *Config) { c.Command = append([]string{name}, args...) }
}

// WithTimeout bounds a single synthesis.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// WithRetry sets how often a retryable cloud failure is retried and the
// base delay, which grows linearly per attempt.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) { c.MaxRetries, c.RetryDelay = maxRetries, delay }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// DefaultConfig suits announcements of a few words: a short timeout and
// a single quick retry.
func DefaultConfig() *Config {
	return &Config{
		Timeout:    10 * time.Second,
		MaxRetries: 1,
		RetryDelay: 200 * time.Millisecond,
		Logger:     slog.Default(),
	}
}

// Apply runs opts in order.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that a cloud provider has credentials.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	return nil
}
