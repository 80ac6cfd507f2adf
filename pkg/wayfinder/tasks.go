package wayfinder

import (
	"context"
	"fmt"
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/command"
	"github.com/teslashibe/go-wayfinder/pkg/crowd"
	"github.com/teslashibe/go-wayfinder/pkg/feed"
	"github.com/teslashibe/go-wayfinder/pkg/haptic"
	"github.com/teslashibe/go-wayfinder/pkg/ingress"
	"github.com/teslashibe/go-wayfinder/pkg/navigation"
	"github.com/teslashibe/go-wayfinder/pkg/power"
	"github.com/teslashibe/go-wayfinder/pkg/protocol"
	"github.com/teslashibe/go-wayfinder/pkg/speech"
	"github.com/teslashibe/go-wayfinder/pkg/telemetry"
	"github.com/teslashibe/go-wayfinder/pkg/threshold"
)

const defaultCleanupInterval = 30 * time.Second

// Tasks returns the supervised loops in start order. Optional transports
// are only included when configured.
func (a *App) Tasks() []Task {
	tasks := []Task{
		{Name: "detection", Run: a.runDetection},
		{Name: "inactivity", Run: a.runInactivity},
		{Name: "power", Run: a.power.Run},
		{Name: "commands", Run: func(ctx context.Context) error {
			return a.dispatcher.Run(ctx, a.intake.Commands())
		}},
	}
	if a.haptic != nil {
		tasks = append(tasks, Task{Name: "distance", Run: func(ctx context.Context) error {
			return a.haptic.Run(ctx, a.power.Interval(power.TaskDistance))
		}})
	}
	if a.server != nil {
		tasks = append(tasks, Task{Name: "server", Run: a.server.Run})
	}
	if a.poller != nil {
		tasks = append(tasks, Task{Name: "buttons", Run: a.poller.Run})
	}
	if a.udp != nil {
		tasks = append(tasks, Task{Name: "udp", Run: a.udp.Run})
	}
	tasks = append(tasks, Task{Name: "dashboard", Run: a.runDashboard})
	if a.publisher != nil {
		tasks = append(tasks, Task{Name: "telemetry", Run: func(ctx context.Context) error {
			return a.publisher.Run(ctx, a.telemetrySub)
		}})
	}
	return tasks
}

// runDetection feeds batches from the source into the pipeline and
// periodically drops stale cooldown entries.
func (a *App) runDetection(ctx context.Context) error {
	if a.source == nil {
		a.logger.Info("no detection source, announcements disabled")
		return nil
	}

	batches := make(chan feed.Batch, 4)
	errc := make(chan error, 1)
	go func() { errc <- a.source.Run(ctx, batches) }()

	every := a.cfg.Detection.CleanupInterval
	if every <= 0 {
		every = defaultCleanupInterval
	}
	cleanup := time.NewTicker(every)
	defer cleanup.Stop()

	a.logger.Info("detection started", "source", a.source.Name())
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("detection source %s: %w", a.source.Name(), err)
			}
			return nil
		case b := <-batches:
			a.pipeline.Handle(b)
		case <-cleanup.C:
			if n := a.thresholds.Cleanup(); n > 0 {
				a.logger.Debug("cooldowns expired", "removed", n)
			}
		}
	}
}

// runInactivity prompts the user when nothing has been seen for a while.
func (a *App) runInactivity(ctx context.Context) error {
	interval := a.power.Interval(power.TaskInactivity)
	for {
		if !sleepCtx(ctx, interval()) {
			return nil
		}
		if a.crowd.CheckInactivity() {
			a.events.Publish(protocol.TypeAlert, protocol.AlertData{
				Kind:    protocol.AlertInactivity,
				Message: crowd.InactivityPrompt,
			})
		}
	}
}

func (a *App) runDashboard(ctx context.Context) error {
	go a.dashboard.Forward(ctx, a.dashboardSub)
	a.dashboard.Run(ctx)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// StatusReport is served at /api/status.
type StatusReport struct {
	Halted     bool                 `json:"halted"`
	Power      string               `json:"power"`
	AvgLoad    float64              `json:"avg_load"`
	Thresholds threshold.Snapshot   `json:"thresholds"`
	Speech     speech.Stats         `json:"speech"`
	Crowd      crowd.Status         `json:"crowd"`
	Haptic     *haptic.State        `json:"haptic,omitempty"`
	Commands   command.Stats        `json:"commands"`
	Intake     ingress.IntakeStats  `json:"intake"`
	Pipeline   PipelineStats        `json:"pipeline"`
	Navigation navigation.Progress  `json:"navigation"`
	Detectors  *feed.IngressStats   `json:"detectors,omitempty"`
	Telemetry  *telemetry.MQTTStats `json:"telemetry,omitempty"`
	Dashboard  int                  `json:"dashboard_clients"`
	Tasks      []TaskStatus         `json:"tasks"`
}

// Status snapshots every component. Valid after Init.
func (a *App) Status() StatusReport {
	r := StatusReport{
		Halted:     a.state.Halted(),
		Power:      a.power.State().String(),
		AvgLoad:    a.power.Average(),
		Thresholds: a.thresholds.Snapshot(),
		Speech:     a.broker.Stats(),
		Crowd:      a.crowd.Status(),
		Commands:   a.dispatcher.Stats(),
		Intake:     a.intake.Stats(),
		Pipeline:   a.pipeline.Stats(),
		Navigation: a.navigator.Progress(),
		Dashboard:  a.dashboard.ClientCount(),
		Tasks:      a.supervisor.Status(),
	}
	if a.haptic != nil {
		st := a.haptic.State()
		r.Haptic = &st
	}
	if a.detIn != nil {
		st := a.detIn.Stats()
		r.Detectors = &st
	}
	if a.publisher != nil {
		st := a.publisher.Stats()
		r.Telemetry = &st
	}
	return r
}
