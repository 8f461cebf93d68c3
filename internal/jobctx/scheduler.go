package jobctx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentforge/corerun/internal/metrics"
)

// RepairFunc performs whatever work is needed to nudge a stuck job back
// to progress (e.g. re-dispatching it to the agent loop). It returns an
// error if the repair attempt itself failed to even start.
type RepairFunc func(ctx context.Context, jobID string) error

// SchedulerConfig configures the self-repair sweep.
type SchedulerConfig struct {
	// RepairSweepCron is a standard 5-field cron expression controlling
	// how often stuck jobs are scanned for repair attempts.
	RepairSweepCron string
	// MaxRepairAttempts caps how many times a single job may be nudged
	// out of Stuck before the scheduler gives up and fails it.
	MaxRepairAttempts uint32
	// WatchdogInterval is how often each scheduled job's budget/token
	// usage is checked against its limits.
	WatchdogInterval time.Duration
}

// DefaultSchedulerConfig mirrors the teacher's heartbeat defaults: a
// five-second watchdog tick and an every-minute repair sweep.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		RepairSweepCron:   "*/1 * * * *",
		MaxRepairAttempts: 3,
		WatchdogInterval:  5 * time.Second,
	}
}

// watch tracks a single job's background watchdog goroutine.
type watch struct {
	stopCh chan struct{}
	doneCh chan struct{}
}

// Scheduler drives scheduled jobs against their budgets and repairs jobs
// that land in StateStuck, following the same ticker/stop-channel
// convention used by the heartbeat runner, plus a cron-driven sweep for
// the slower self-repair pass.
type Scheduler struct {
	mgr     *ContextManager
	cfg     SchedulerConfig
	repair  RepairFunc
	metrics *metrics.Metrics

	mu      sync.Mutex
	watches map[string]*watch
	cronRun *cron.Cron
	entryID cron.EntryID
	started bool
}

// NewScheduler builds a Scheduler bound to mgr. repair is invoked for
// every job found stuck during a sweep.
func NewScheduler(mgr *ContextManager, cfg SchedulerConfig, repair RepairFunc) *Scheduler {
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = 5 * time.Second
	}
	if cfg.RepairSweepCron == "" {
		cfg.RepairSweepCron = "*/1 * * * *"
	}
	return &Scheduler{
		mgr:     mgr,
		cfg:     cfg,
		repair:  repair,
		watches: make(map[string]*watch),
		cronRun: cron.New(),
	}
}

// SetMetrics installs optional Prometheus instrumentation (C7, per
// SPEC_FULL.md §11). Nil (the default) disables recording.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Start begins the cron-driven self-repair sweep. It is idempotent.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	id, err := s.cronRun.AddFunc(s.cfg.RepairSweepCron, s.sweep)
	if err != nil {
		return fmt.Errorf("jobctx: invalid repair sweep schedule: %w", err)
	}
	s.entryID = id
	s.cronRun.Start()
	s.started = true
	return nil
}

// StopAll halts the repair sweep and every per-job watchdog.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	if s.started {
		s.cronRun.Remove(s.entryID)
		<-s.cronRun.Stop().Done()
		s.started = false
	}
	watches := make([]*watch, 0, len(s.watches))
	for id, w := range s.watches {
		watches = append(watches, w)
		delete(s.watches, id)
	}
	s.mu.Unlock()

	for _, w := range watches {
		close(w.stopCh)
		<-w.doneCh
	}
}

// Schedule starts a budget watchdog for jobID that transitions the job to
// Failed once its actual cost exceeds its budget or its token usage
// exceeds its max, per the budget/token accounting already recorded on
// the Context by AddCost/AddTokens.
func (s *Scheduler) Schedule(jobID string) {
	s.mu.Lock()
	if _, exists := s.watches[jobID]; exists {
		s.mu.Unlock()
		return
	}
	w := &watch{stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	s.watches[jobID] = w
	s.mu.Unlock()

	go s.watchLoop(jobID, w)
}

// Stop halts the watchdog for a single job, if one is running.
func (s *Scheduler) Stop(jobID string) {
	s.mu.Lock()
	w, ok := s.watches[jobID]
	if ok {
		delete(s.watches, jobID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	close(w.stopCh)
	<-w.doneCh
}

func (s *Scheduler) watchLoop(jobID string, w *watch) {
	defer close(w.doneCh)
	ticker := time.NewTicker(s.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if s.enforceBudget(jobID) {
				return
			}
		}
	}
}

// enforceBudget checks a single job's spend/token usage against its
// limits, failing the job and returning true if it is no longer active
// (either because it was just failed, or because it already reached a
// terminal state on its own).
func (s *Scheduler) enforceBudget(jobID string) bool {
	ctx, err := s.mgr.GetContext(jobID)
	if err != nil {
		return true
	}
	if !ctx.State.IsActive() {
		return true
	}

	exceeded := ctx.BudgetExceeded()
	tokenExceeded := ctx.MaxTokens > 0 && ctx.TotalTokensUsed > ctx.MaxTokens
	if !exceeded && !tokenExceeded {
		return false
	}

	reason := "token budget exceeded"
	if exceeded {
		reason = "monetary budget exceeded"
	}
	from := ctx.State
	_ = s.mgr.UpdateContext(jobID, func(c *Context) {
		if c.State.CanTransitionTo(StateFailed) {
			_ = c.TransitionTo(StateFailed, reason)
		}
	})
	s.metrics.RecordJobTransition(string(from), string(StateFailed))
	return true
}

// sweep runs on the cron schedule, attempting to repair every currently
// stuck job. Jobs that have exhausted MaxRepairAttempts are failed
// instead of repaired again.
func (s *Scheduler) sweep() {
	for _, jobID := range s.mgr.FindStuckJobs() {
		ctx, err := s.mgr.GetContext(jobID)
		if err != nil {
			continue
		}
		if ctx.RepairAttempts >= s.cfg.MaxRepairAttempts {
			_ = s.mgr.UpdateContext(jobID, func(c *Context) {
				if c.State.CanTransitionTo(StateFailed) {
					_ = c.TransitionTo(StateFailed, "repair attempts exhausted")
				}
			})
			s.metrics.RecordJobTransition(string(StateStuck), string(StateFailed))
			continue
		}

		_ = s.mgr.UpdateContext(jobID, func(c *Context) {
			_ = c.AttemptRecovery()
		})
		s.metrics.RecordRepairAttempt()
		s.metrics.RecordJobTransition(string(StateStuck), string(StateInProgress))

		if s.repair != nil {
			go func(id string) {
				_ = s.repair(context.Background(), id)
			}(jobID)
		}
	}
}
