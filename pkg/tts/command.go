package tts

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const providerCommand = "command"

// Command implements Provider by running an on-device TTS engine.
// The text is written to the engine's stdin and WAV audio read from stdout,
// which matches RHVoice-client and `espeak-ng --stdout`.
type Command struct {
	argv    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCommand creates a command-backed provider.
func NewCommand(opts ...Option) (*Command, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, ErrNoCommand
	}

	return &Command{
		argv:    cfg.Command,
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With("component", "tts.command", "engine", cfg.Command[0]),
	}, nil
}

// Synthesize runs the engine once for text.
func (c *Command) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, WrapError(providerCommand, ErrEmptyText)
	}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return nil, WrapError(providerCommand, err)
	}
	if stdout.Len() == 0 {
		return nil, WrapError(providerCommand, ErrEmptyAudio)
	}

	latency := time.Since(start).Milliseconds()
	c.logger.Debug("synthesized audio", "chars", len(text), "bytes", stdout.Len(), "latency_ms", latency)

	return &AudioResult{
		Audio:     stdout.Bytes(),
		Format:    AudioFormat{Encoding: EncodingWAV},
		CharCount: len(text),
		LatencyMs: latency,
	}, nil
}

// Health checks the engine binary is on PATH.
func (c *Command) Health(ctx context.Context) error {
	if _, err := exec.LookPath(c.argv[0]); err != nil {
		return WrapError(providerCommand, err)
	}
	return nil
}

// Close is a no-op; each utterance is its own process.
func (c *Command) Close() error {
	return nil
}

var _ Provider = (*Command)(nil)
