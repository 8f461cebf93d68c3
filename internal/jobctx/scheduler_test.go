package jobctx

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleFailsJobOnBudgetExceeded(t *testing.T) {
	m := NewContextManager(10)
	id, _ := m.CreateJob("title", "d")
	budget := 10.0
	_ = m.UpdateContext(id, func(c *Context) {
		c.Budget = &budget
		_ = c.TransitionTo(StateInProgress, "start")
		c.AddCost(20)
	})

	cfg := DefaultSchedulerConfig()
	cfg.WatchdogInterval = 10 * time.Millisecond
	s := NewScheduler(m, cfg, nil)
	s.Schedule(id)
	defer s.StopAll()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ctx, err := m.GetContext(id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ctx.State == StateFailed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected job to be failed after exceeding budget")
}

func TestScheduleFailsJobOnTokenBudgetExceeded(t *testing.T) {
	m := NewContextManager(10)
	id, _ := m.CreateJob("title", "d")
	_ = m.UpdateContext(id, func(c *Context) {
		c.MaxTokens = 100
		_ = c.TransitionTo(StateInProgress, "start")
		_ = c.AddTokens(500)
	})

	cfg := DefaultSchedulerConfig()
	cfg.WatchdogInterval = 10 * time.Millisecond
	s := NewScheduler(m, cfg, nil)
	s.Schedule(id)
	defer s.StopAll()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ctx, err := m.GetContext(id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ctx.State == StateFailed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected job to be failed after exceeding token budget")
}

func TestStopHaltsWatchdog(t *testing.T) {
	m := NewContextManager(10)
	id, _ := m.CreateJob("title", "d")
	_ = m.UpdateContext(id, func(c *Context) { _ = c.TransitionTo(StateInProgress, "start") })

	cfg := DefaultSchedulerConfig()
	cfg.WatchdogInterval = 10 * time.Millisecond
	s := NewScheduler(m, cfg, nil)
	s.Schedule(id)
	s.Stop(id)

	// Give a no-longer-watched job a budget breach; it must not be failed
	// since its watchdog was stopped.
	budget := 1.0
	_ = m.UpdateContext(id, func(c *Context) {
		c.Budget = &budget
		c.AddCost(10)
	})
	time.Sleep(50 * time.Millisecond)

	ctx, _ := m.GetContext(id)
	if ctx.State == StateFailed {
		t.Fatal("expected job to remain untouched after Stop")
	}
}

func TestSweepAttemptsRecoveryAndInvokesRepairFunc(t *testing.T) {
	m := NewContextManager(10)
	id, _ := m.CreateJob("title", "d")
	_ = m.UpdateContext(id, func(c *Context) {
		_ = c.TransitionTo(StateInProgress, "start")
		_ = c.MarkStuck("no progress")
	})

	var repairCalls int32
	repair := func(ctx context.Context, jobID string) error {
		atomic.AddInt32(&repairCalls, 1)
		return nil
	}

	cfg := DefaultSchedulerConfig()
	s := NewScheduler(m, cfg, repair)
	s.sweep()

	ctx, err := m.GetContext(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.State != StateInProgress {
		t.Fatalf("state = %s, want in_progress after recovery", ctx.State)
	}
	if ctx.RepairAttempts != 1 {
		t.Fatalf("repair attempts = %d, want 1", ctx.RepairAttempts)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&repairCalls) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&repairCalls) != 1 {
		t.Fatalf("repair calls = %d, want 1", repairCalls)
	}
}

func TestSweepFailsJobAfterMaxRepairAttempts(t *testing.T) {
	m := NewContextManager(10)
	id, _ := m.CreateJob("title", "d")
	_ = m.UpdateContext(id, func(c *Context) {
		_ = c.TransitionTo(StateInProgress, "start")
		_ = c.MarkStuck("no progress")
		c.RepairAttempts = 3
	})

	cfg := DefaultSchedulerConfig()
	cfg.MaxRepairAttempts = 3
	s := NewScheduler(m, cfg, nil)
	s.sweep()

	ctx, err := m.GetContext(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.State != StateFailed {
		t.Fatalf("state = %s, want failed after exhausting repair attempts", ctx.State)
	}
}
