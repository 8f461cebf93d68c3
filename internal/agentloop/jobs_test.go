package agentloop

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/agentforge/corerun/internal/jobctx"
)

func newJobTestLoop(t *testing.T) (*Loop, *jobctx.ContextManager, *jobctx.Scheduler) {
	t.Helper()
	mgr := jobctx.NewContextManager(100)
	sched := jobctx.NewScheduler(mgr, jobctx.SchedulerConfig{
		RepairSweepCron:  "@every 1h",
		WatchdogInterval: time.Hour,
	}, func(ctx context.Context, jobID string) error { return nil })

	l := newTestLoop(t, nil)
	l.cfg.Jobs = mgr
	l.cfg.Scheduler = sched
	t.Cleanup(sched.StopAll)
	return l, mgr, sched
}

func TestCreateJobTransitionsToInProgress(t *testing.T) {
	l, mgr, _ := newJobTestLoop(t)

	text, err := l.createJob(context.Background(), "alice", Intent{
		Title: "scrape filings", Description: "scrape filings", Category: "finance",
	})
	if err != nil {
		t.Fatalf("createJob: %v", err)
	}
	if !strings.Contains(text, "Created job") {
		t.Errorf("text = %q", text)
	}

	ids := mgr.AllJobsFor("alice")
	if len(ids) != 1 {
		t.Fatalf("expected one job for alice, got %d", len(ids))
	}
	jobCtx, err := mgr.GetContext(ids[0])
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if jobCtx.State != jobctx.StateInProgress {
		t.Errorf("State = %v, want InProgress", jobCtx.State)
	}
	if jobCtx.Category != "finance" {
		t.Errorf("Category = %q, want finance", jobCtx.Category)
	}
}

func TestCheckJobStatusSingleJob(t *testing.T) {
	l, mgr, _ := newJobTestLoop(t)
	jobID, err := mgr.CreateJobForUser("bob", "title", "description")
	if err != nil {
		t.Fatalf("CreateJobForUser: %v", err)
	}

	text, err := l.checkJobStatus(jobID)
	if err != nil {
		t.Fatalf("checkJobStatus: %v", err)
	}
	if !strings.Contains(text, jobID) || !strings.Contains(text, "title") {
		t.Errorf("text = %q", text)
	}
}

func TestCheckJobStatusUnknownJob(t *testing.T) {
	l, _, _ := newJobTestLoop(t)
	if _, err := l.checkJobStatus("does-not-exist"); err == nil {
		t.Fatal("expected an error for an unknown job id")
	}
}

func TestCheckJobStatusAggregateSummary(t *testing.T) {
	l, mgr, _ := newJobTestLoop(t)
	if _, err := mgr.CreateJobForUser("carol", "t1", "d1"); err != nil {
		t.Fatalf("CreateJobForUser: %v", err)
	}
	if _, err := mgr.CreateJobForUser("carol", "t2", "d2"); err != nil {
		t.Fatalf("CreateJobForUser: %v", err)
	}

	text, err := l.checkJobStatus("")
	if err != nil {
		t.Fatalf("checkJobStatus: %v", err)
	}
	if !strings.Contains(text, "2 total") {
		t.Errorf("text = %q, want a count of 2", text)
	}
}

func TestCancelJobRequiresID(t *testing.T) {
	l, _, _ := newJobTestLoop(t)
	if _, err := l.cancelJob(""); err == nil {
		t.Fatal("expected an error when no job id is given")
	}
}

func TestCancelJobTransitionsPendingToCancelled(t *testing.T) {
	l, mgr, _ := newJobTestLoop(t)
	jobID, err := mgr.CreateJobForUser("dave", "t", "d")
	if err != nil {
		t.Fatalf("CreateJobForUser: %v", err)
	}

	text, err := l.cancelJob(jobID)
	if err != nil {
		t.Fatalf("cancelJob: %v", err)
	}
	if !strings.Contains(text, "has been cancelled") {
		t.Errorf("text = %q", text)
	}

	jobCtx, _ := mgr.GetContext(jobID)
	if jobCtx.State != jobctx.StateCancelled {
		t.Errorf("State = %v, want Cancelled", jobCtx.State)
	}
}

func TestCancelJobRefusesTerminalState(t *testing.T) {
	l, mgr, _ := newJobTestLoop(t)
	jobID, err := mgr.CreateJobForUser("erin", "t", "d")
	if err != nil {
		t.Fatalf("CreateJobForUser: %v", err)
	}
	if err := mgr.UpdateContext(jobID, func(c *jobctx.Context) {
		_ = c.TransitionTo(jobctx.StateCancelled, "already done")
	}); err != nil {
		t.Fatalf("UpdateContext: %v", err)
	}

	text, err := l.cancelJob(jobID)
	if err != nil {
		t.Fatalf("cancelJob: %v", err)
	}
	if !strings.Contains(text, "could not be cancelled") {
		t.Errorf("text = %q", text)
	}
}

func TestListJobsEmpty(t *testing.T) {
	l, _, _ := newJobTestLoop(t)
	text, err := l.listJobs()
	if err != nil {
		t.Fatalf("listJobs: %v", err)
	}
	if text != "No jobs found." {
		t.Errorf("text = %q", text)
	}
}

func TestListJobsListsEachJob(t *testing.T) {
	l, mgr, _ := newJobTestLoop(t)
	if _, err := mgr.CreateJobForUser("fay", "first job", "d1"); err != nil {
		t.Fatalf("CreateJobForUser: %v", err)
	}
	if _, err := mgr.CreateJobForUser("fay", "second job", "d2"); err != nil {
		t.Fatalf("CreateJobForUser: %v", err)
	}

	text, err := l.listJobs()
	if err != nil {
		t.Fatalf("listJobs: %v", err)
	}
	if !strings.Contains(text, "first job") || !strings.Contains(text, "second job") {
		t.Errorf("text = %q", text)
	}
}

func TestHelpJobNotStuck(t *testing.T) {
	l, mgr, _ := newJobTestLoop(t)
	jobID, err := mgr.CreateJobForUser("gail", "t", "d")
	if err != nil {
		t.Fatalf("CreateJobForUser: %v", err)
	}

	text, err := l.helpJob(jobID)
	if err != nil {
		t.Fatalf("helpJob: %v", err)
	}
	if !strings.Contains(text, "is not stuck") {
		t.Errorf("text = %q", text)
	}
}

func TestHelpJobRecoversStuckJob(t *testing.T) {
	l, mgr, _ := newJobTestLoop(t)
	jobID, err := mgr.CreateJobForUser("hank", "t", "d")
	if err != nil {
		t.Fatalf("CreateJobForUser: %v", err)
	}
	if err := mgr.UpdateContext(jobID, func(c *jobctx.Context) {
		_ = c.TransitionTo(jobctx.StateInProgress, "running")
		_ = c.MarkStuck("no progress")
	}); err != nil {
		t.Fatalf("UpdateContext: %v", err)
	}

	text, err := l.helpJob(jobID)
	if err != nil {
		t.Fatalf("helpJob: %v", err)
	}
	if !strings.Contains(text, "Attempting recovery") {
		t.Errorf("text = %q", text)
	}

	jobCtx, _ := mgr.GetContext(jobID)
	if jobCtx.State != jobctx.StateInProgress {
		t.Errorf("State = %v, want InProgress after recovery", jobCtx.State)
	}
}

func TestHandleJobIntentDispatchesCreateJob(t *testing.T) {
	l, mgr, _ := newJobTestLoop(t)
	resp, err := l.handleJobIntent(context.Background(), IncomingMessage{UserID: "ivy", Channel: "test"}, Intent{
		Kind: IntentCreateJob, Title: "t", Description: "d",
	})
	if err != nil {
		t.Fatalf("handleJobIntent: %v", err)
	}
	if !strings.Contains(resp.Content, "Created job") {
		t.Errorf("Content = %q", resp.Content)
	}
	if len(mgr.AllJobsFor("ivy")) != 1 {
		t.Error("expected a job created for ivy")
	}
}
