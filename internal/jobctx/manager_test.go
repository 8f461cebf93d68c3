package jobctx

import "testing"

func TestCreateJob(t *testing.T) {
	m := NewContextManager(10)
	id, err := m.CreateJob("title", "description")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, err := m.GetContext(id)
	if err != nil {
		t.Fatalf("unexpected error fetching context: %v", err)
	}
	if ctx.State != StatePending {
		t.Fatalf("state = %s, want pending", ctx.State)
	}
	if ctx.UserID != "default" {
		t.Fatalf("user = %s, want default", ctx.UserID)
	}
}

func TestCreateJobForUserSetsUserID(t *testing.T) {
	m := NewContextManager(10)
	id, err := m.CreateJobForUser("alice", "title", "description")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, err := m.GetContext(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.UserID != "alice" {
		t.Fatalf("user = %s, want alice", ctx.UserID)
	}
}

func TestMaxJobsLimit(t *testing.T) {
	m := NewContextManager(2)

	id1, err := m.CreateJob("job1", "d")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := m.CreateJob("job2", "d")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.UpdateContext(id1, func(c *Context) { _ = c.TransitionTo(StateInProgress, "start") }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.UpdateContext(id2, func(c *Context) { _ = c.TransitionTo(StateInProgress, "start") }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = m.CreateJob("job3", "d")
	if err == nil {
		t.Fatal("expected MaxJobsExceededError")
	}
	maxErr, ok := err.(*MaxJobsExceededError)
	if !ok {
		t.Fatalf("error type = %T, want *MaxJobsExceededError", err)
	}
	if maxErr.Max != 2 {
		t.Fatalf("max = %d, want 2", maxErr.Max)
	}
}

func TestMaxJobsLimitFreedByTerminalState(t *testing.T) {
	m := NewContextManager(1)

	id1, err := m.CreateJob("job1", "d")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = m.UpdateContext(id1, func(c *Context) {
		_ = c.TransitionTo(StateInProgress, "start")
		_ = c.TransitionTo(StateCompleted, "done")
		_ = c.TransitionTo(StateFailed, "post-submit failure")
	})

	if _, err := m.CreateJob("job2", "d"); err != nil {
		t.Fatalf("expected room after job1 went terminal, got: %v", err)
	}
}

func TestGetContextNotFound(t *testing.T) {
	m := NewContextManager(10)
	if _, err := m.GetContext("nonexistent"); err == nil {
		t.Fatal("expected NotFoundError")
	} else if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("error type = %T, want *NotFoundError", err)
	}
}

func TestUpdateContextMutatesLiveState(t *testing.T) {
	m := NewContextManager(10)
	id, _ := m.CreateJob("title", "d")

	err := m.UpdateContext(id, func(c *Context) {
		_ = c.TransitionTo(StateInProgress, "start")
		c.AddCost(5)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, _ := m.GetContext(id)
	if ctx.State != StateInProgress {
		t.Fatalf("state = %s, want in_progress", ctx.State)
	}
	if ctx.ActualCost != 5 {
		t.Fatalf("actual cost = %v, want 5", ctx.ActualCost)
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	m := NewContextManager(10)
	id, _ := m.CreateJob("title", "d")

	err := m.UpdateMemory(id, func(mem *Memory) {
		mem.Notes["k"] = "v"
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mem, err := m.GetMemory(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mem.Notes["k"] != "v" {
		t.Fatalf("notes[k] = %v, want v", mem.Notes["k"])
	}

	// mutating the returned clone must not affect the manager's copy.
	mem.Notes["k"] = "mutated"
	mem2, _ := m.GetMemory(id)
	if mem2.Notes["k"] != "v" {
		t.Fatal("GetMemory should return a clone, not a live reference")
	}
}

func TestActiveAndAllJobs(t *testing.T) {
	m := NewContextManager(10)
	id1, _ := m.CreateJob("job1", "d")
	id2, _ := m.CreateJob("job2", "d")
	_ = m.UpdateContext(id2, func(c *Context) { _ = c.TransitionTo(StateCancelled, "cancel") })

	active := m.ActiveJobs()
	if len(active) != 1 || active[0] != id1 {
		t.Fatalf("active jobs = %v, want [%s]", active, id1)
	}

	all := m.AllJobs()
	if len(all) != 2 {
		t.Fatalf("all jobs = %v, want 2 entries", all)
	}
}

func TestActiveJobsForUser(t *testing.T) {
	m := NewContextManager(10)
	id1, _ := m.CreateJobForUser("alice", "job1", "d")
	_, _ = m.CreateJobForUser("bob", "job2", "d")

	active := m.ActiveJobsFor("alice")
	if len(active) != 1 || active[0] != id1 {
		t.Fatalf("active jobs for alice = %v, want [%s]", active, id1)
	}
	if n := len(m.AllJobsFor("bob")); n != 1 {
		t.Fatalf("all jobs for bob = %d, want 1", n)
	}
}

func TestRemoveJob(t *testing.T) {
	m := NewContextManager(10)
	id, _ := m.CreateJob("title", "d")

	ctx, mem, err := m.RemoveJob(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.JobID != id {
		t.Fatalf("removed context id = %s, want %s", ctx.JobID, id)
	}
	if mem.JobID != id {
		t.Fatalf("removed memory id = %s, want %s", mem.JobID, id)
	}

	if _, err := m.GetContext(id); err == nil {
		t.Fatal("expected job to be gone after removal")
	}

	if _, _, err := m.RemoveJob(id); err == nil {
		t.Fatal("expected NotFoundError removing an already-removed job")
	}
}

func TestFindStuckJobs(t *testing.T) {
	m := NewContextManager(10)
	id1, _ := m.CreateJob("job1", "d")
	_, _ = m.CreateJob("job2", "d")

	_ = m.UpdateContext(id1, func(c *Context) {
		_ = c.TransitionTo(StateInProgress, "start")
		_ = c.MarkStuck("no progress")
	})

	stuck := m.FindStuckJobs()
	if len(stuck) != 1 || stuck[0] != id1 {
		t.Fatalf("stuck jobs = %v, want [%s]", stuck, id1)
	}
}

func TestSummary(t *testing.T) {
	m := NewContextManager(10)
	id1, _ := m.CreateJob("job1", "d")
	id2, _ := m.CreateJob("job2", "d")
	_, _ = m.CreateJob("job3", "d")

	_ = m.UpdateContext(id1, func(c *Context) { _ = c.TransitionTo(StateInProgress, "start") })
	_ = m.UpdateContext(id2, func(c *Context) {
		_ = c.TransitionTo(StateInProgress, "start")
		_ = c.TransitionTo(StateCompleted, "done")
	})

	s := m.Summary()
	if s.Total != 3 {
		t.Fatalf("total = %d, want 3", s.Total)
	}
	if s.Pending != 1 {
		t.Fatalf("pending = %d, want 1", s.Pending)
	}
	if s.InProgress != 1 {
		t.Fatalf("in_progress = %d, want 1", s.InProgress)
	}
	if s.Completed != 1 {
		t.Fatalf("completed = %d, want 1", s.Completed)
	}
}

func TestSummaryForUser(t *testing.T) {
	m := NewContextManager(10)
	_, _ = m.CreateJobForUser("alice", "job1", "d")
	_, _ = m.CreateJobForUser("alice", "job2", "d")
	_, _ = m.CreateJobForUser("bob", "job3", "d")

	s := m.SummaryFor("alice")
	if s.Total != 2 {
		t.Fatalf("alice total = %d, want 2", s.Total)
	}
	s2 := m.SummaryFor("bob")
	if s2.Total != 1 {
		t.Fatalf("bob total = %d, want 1", s2.Total)
	}
}
