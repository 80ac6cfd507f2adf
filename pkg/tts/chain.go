package tts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultChainCooldown is how long a failed provider is skipped.
const DefaultChainCooldown = 30 * time.Second

// Chain implements Provider by trying providers in order, typically a cloud
// voice in front of the on-device engine. A provider that fails is skipped
// for a cooldown so an offline device does not wait on the network before
// every announcement. The last provider is never skipped.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
	cooldown  time.Duration
	now       func() time.Time

	mu        sync.Mutex
	downUntil []time.Time
}

// NewChain creates a provider chain. At least one provider is required.
func NewChain(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers: providers,
		logger:    logger.With("component", "tts.chain"),
		cooldown:  DefaultChainCooldown,
		now:       time.Now,
		downUntil: make([]time.Time, len(providers)),
	}, nil
}

// WithCooldown sets how long a failed provider is skipped. Zero disables
// skipping.
func (c *Chain) WithCooldown(d time.Duration) *Chain {
	c.mu.Lock()
	c.cooldown = d
	c.mu.Unlock()
	return c
}

// Synthesize returns the first successful provider's audio.
func (c *Chain) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	var errs []error
	last := len(c.providers) - 1

	for i, p := range c.providers {
		if i < last && c.cooling(i) {
			continue
		}

		result, err := p.Synthesize(ctx, text)
		if err == nil {
			c.recover(i)
			return result, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i < last {
			c.markDown(i, err)
		}
	}

	return nil, &ChainError{Errors: errs}
}

func (c *Chain) cooling(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.downUntil[i])
}

func (c *Chain) markDown(i int, err error) {
	c.mu.Lock()
	c.downUntil[i] = c.now().Add(c.cooldown)
	c.mu.Unlock()
	c.logger.Warn("provider failed, falling back", "provider_index", i, "skip_for", c.cooldown, "error", err)
}

func (c *Chain) recover(i int) {
	c.mu.Lock()
	wasDown := !c.downUntil[i].IsZero()
	c.downUntil[i] = time.Time{}
	c.mu.Unlock()
	if wasDown {
		c.logger.Info("provider recovered", "provider_index", i)
	}
}

// Health succeeds when at least one provider is healthy.
func (c *Chain) Health(ctx context.Context) error {
	var lastErr error
	for _, p := range c.providers {
		err := p.Health(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("all %d providers unhealthy: %w", len(c.providers), lastErr)
}

// Close closes every provider and returns the last error.
func (c *Chain) Close() error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// ChainError collects the error of every provider tried.
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("tts chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("tts chain: %d providers failed, last: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap exposes every provider error to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error {
	return e.Errors
}

var _ Provider = (*Chain)(nil)
