package wayfinder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mdobak/go-xerrors"

	"github.com/teslashibe/go-wayfinder/pkg/protocol"
)

// Task states reported in TaskStatus and task events.
const (
	TaskStarted    = "started"
	TaskExited     = "exited"
	TaskFailed     = "failed"
	TaskPanicked   = "panicked"
	TaskRestarting = "restarting"
)

// Task is one long-lived loop. Run should return nil when ctx is
// cancelled or when its resource is unavailable and it has nothing to do.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// SupervisorConfig tunes task supervision.
type SupervisorConfig struct {
	Stagger          time.Duration
	LivenessInterval time.Duration
	// MaxRestarts bounds restarts of a failed or panicked task. Zero never
	// restarts; clean exits are never restarted.
	MaxRestarts  int
	RestartDelay time.Duration
	Events       Publisher
	Logger       *slog.Logger
}

// TaskStatus is the supervisor's view of one task.
type TaskStatus struct {
	Name      string    `json:"name"`
	RunID     string    `json:"run_id"`
	State     string    `json:"state"`
	Restarts  int       `json:"restarts"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

// Alive reports whether the task is running.
func (s TaskStatus) Alive() bool {
	return s.State == TaskStarted
}

type taskExit struct {
	name     string
	runID    string
	err      error
	panicked bool
}

// Supervisor starts tasks with a stagger, watches their exits and
// restarts failed ones within a bounded budget.
type Supervisor struct {
	cfg    SupervisorConfig
	logger *slog.Logger

	mu     sync.Mutex
	tasks  map[string]Task
	status map[string]*TaskStatus

	exits chan taskExit
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = 10 * time.Second
	}
	if cfg.MaxRestarts < 0 {
		cfg.MaxRestarts = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger.With("component", "supervisor"),
		tasks:  make(map[string]Task),
		status: make(map[string]*TaskStatus),
		exits:  make(chan taskExit, 16),
	}
}

// Run starts tasks in order and supervises them until ctx is cancelled.
// Tasks still running at that point are left to observe ctx themselves.
func (s *Supervisor) Run(ctx context.Context, tasks []Task) error {
	liveness := time.NewTicker(s.cfg.LivenessInterval)
	defer liveness.Stop()

	pending := tasks
	var stagger <-chan time.Time
	startNext := func() {
		t := pending[0]
		pending = pending[1:]
		s.mu.Lock()
		s.tasks[t.Name] = t
		s.mu.Unlock()
		s.start(ctx, t, 0)
		if len(pending) > 0 {
			stagger = time.After(s.cfg.Stagger)
		} else {
			stagger = nil
		}
	}
	if len(pending) > 0 {
		startNext()
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("supervisor stopping", "running", s.running())
			return nil
		case <-stagger:
			startNext()
		case e := <-s.exits:
			s.handleExit(ctx, e)
		case <-liveness.C:
			s.checkLiveness()
		}
	}
}

func (s *Supervisor) start(ctx context.Context, t Task, restarts int) {
	runID := uuid.NewString()
	s.mu.Lock()
	s.status[t.Name] = &TaskStatus{
		Name:      t.Name,
		RunID:     runID,
		State:     TaskStarted,
		Restarts:  restarts,
		StartedAt: time.Now(),
	}
	s.mu.Unlock()

	s.logger.Info("task started", "task", t.Name, "run_id", runID, "restarts", restarts)
	s.publish(protocol.TaskData{Name: t.Name, RunID: runID, State: TaskStarted, Restarts: restarts})

	go func() {
		e := taskExit{name: t.Name, runID: runID}
		defer func() {
			if r := recover(); r != nil {
				e.err = xerrors.New(fmt.Sprintf("task %s panicked: %v", t.Name, r))
				e.panicked = true
			}
			select {
			case s.exits <- e:
			case <-ctx.Done():
			}
		}()
		e.err = t.Run(ctx)
	}()
}

func (s *Supervisor) handleExit(ctx context.Context, e taskExit) {
	state := TaskExited
	switch {
	case e.panicked:
		state = TaskPanicked
	case e.err != nil && !errors.Is(e.err, context.Canceled):
		state = TaskFailed
	}

	s.mu.Lock()
	st, ok := s.status[e.name]
	if !ok || st.RunID != e.runID {
		s.mu.Unlock()
		return
	}
	st.State = state
	st.EndedAt = time.Now()
	if state != TaskExited {
		st.Error = e.err.Error()
	}
	restarts := st.Restarts
	task := s.tasks[e.name]
	s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	data := protocol.TaskData{Name: e.name, RunID: e.runID, State: state, Restarts: restarts}
	switch state {
	case TaskPanicked:
		data.Error = e.err.Error()
		s.logger.Error("task panicked", "task", e.name, "run_id", e.runID,
			slog.Any("error", e.err), "stack", xerrors.Sprint(e.err))
	case TaskFailed:
		data.Error = e.err.Error()
		s.logger.Warn("task failed", "task", e.name, "run_id", e.runID, "error", e.err)
	default:
		s.logger.Warn("task exited", "task", e.name, "run_id", e.runID)
	}
	s.publish(data)

	if !s.shouldRestart(state, restarts) {
		return
	}
	s.publish(protocol.TaskData{Name: e.name, RunID: e.runID, State: TaskRestarting, Restarts: restarts + 1})
	s.logger.Info("restarting task", "task", e.name, "attempt", restarts+1, "max", s.cfg.MaxRestarts, "delay", s.cfg.RestartDelay)

	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(s.cfg.RestartDelay):
			s.start(ctx, task, restarts+1)
		}
	}()
}

// shouldRestart is the restart policy: only failures are retried, and only
// MaxRestarts times per task.
func (s *Supervisor) shouldRestart(state string, restarts int) bool {
	if state == TaskExited {
		return false
	}
	return restarts < s.cfg.MaxRestarts
}

func (s *Supervisor) checkLiveness() {
	for _, st := range s.Status() {
		if !st.Alive() {
			s.logger.Warn("task dead", "task", st.Name, "state", st.State, "since", st.EndedAt, "error", st.Error)
		}
	}
}

func (s *Supervisor) running() int {
	n := 0
	for _, st := range s.Status() {
		if st.Alive() {
			n++
		}
	}
	return n
}

// Status returns every started task, by name.
func (s *Supervisor) Status() []TaskStatus {
	s.mu.Lock()
	out := make([]TaskStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Supervisor) publish(data protocol.TaskData) {
	if s.cfg.Events != nil {
		s.cfg.Events.Publish(protocol.TypeTask, data)
	}
}
