package ingress

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-wayfinder/internal/httpc"
	"github.com/teslashibe/go-wayfinder/pkg/protocol"
)

// Poller reads a board's status endpoint on an interval, for boards that
// cannot push.
type Poller struct {
	url      string
	timeout  time.Duration
	interval func() time.Duration
	intake   *Intake
	client   *http.Client
	logger   *slog.Logger

	failing bool
}

// NewPoller polls url every interval() with a per-request timeout.
func NewPoller(url string, timeout time.Duration, interval func() time.Duration, intake *Intake, logger *slog.Logger) *Poller {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if interval == nil {
		interval = func() time.Duration { return time.Second }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		url:      url,
		timeout:  timeout,
		interval: interval,
		intake:   intake,
		client:   httpc.Client,
		logger:   logger.With("component", "ingress.poller", "url", url),
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.interval()):
		}
		_ = p.Poll(ctx)
	}
}

// Poll performs one request. Failures are logged once per outage.
func (p *Poller) Poll(ctx context.Context) error {
	var payload protocol.DevicePayload
	if err := httpc.GetJSON(ctx, p.client, p.url, p.timeout, &payload); err != nil {
		if !p.failing && ctx.Err() == nil {
			p.logger.Warn("board unreachable", "error", err)
		}
		p.failing = true
		return err
	}
	if p.failing {
		p.logger.Info("board reachable again")
		p.failing = false
	}
	payload.Buttons = strings.TrimSpace(payload.Buttons)
	p.intake.Apply(TransportPoll, &payload)
	return nil
}
