package jobctx

import "testing"

func TestStateTransitions(t *testing.T) {
	if !StatePending.CanTransitionTo(StateInProgress) {
		t.Fatal("pending -> in_progress should be permitted")
	}
	if StatePending.CanTransitionTo(StateCompleted) {
		t.Fatal("pending -> completed should not be permitted")
	}
	if !StateInProgress.CanTransitionTo(StateStuck) {
		t.Fatal("in_progress -> stuck should be permitted")
	}
	if !StateStuck.CanTransitionTo(StateInProgress) {
		t.Fatal("stuck -> in_progress should be permitted (recovery)")
	}
}

func TestTerminalStates(t *testing.T) {
	terminal := []State{StateAccepted, StateFailed, StateCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
		if s.IsActive() {
			t.Fatalf("%s should not be active", s)
		}
	}

	active := []State{StatePending, StateInProgress, StateCompleted, StateSubmitted, StateStuck}
	for _, s := range active {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
		if !s.IsActive() {
			t.Fatalf("%s should be active", s)
		}
	}
}

func TestJobContextTransitions(t *testing.T) {
	c := New("title", "description")
	if c.State != StatePending {
		t.Fatalf("new job should start pending, got %s", c.State)
	}

	if err := c.TransitionTo(StateInProgress, "starting"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.StartedAt == nil {
		t.Fatal("expected StartedAt to be set")
	}

	if err := c.TransitionTo(StateCompleted, "done"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}

	if err := c.TransitionTo(StateInProgress, "illegal"); err == nil {
		t.Fatal("expected error transitioning from completed back to in_progress")
	}
}

func TestTransitionHistoryCapped(t *testing.T) {
	c := New("title", "description")
	_ = c.TransitionTo(StateInProgress, "start")

	for i := 0; i < 250; i++ {
		_ = c.TransitionTo(StateStuck, "stuck")
		_ = c.AttemptRecovery()
	}

	if len(c.Transitions) > maxTransitionHistory {
		t.Fatalf("transition history = %d entries, want <= %d", len(c.Transitions), maxTransitionHistory)
	}
}

func TestAddTokensEnforcesBudget(t *testing.T) {
	c := New("title", "description")
	c.MaxTokens = 100

	if err := c.AddTokens(50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.TotalTokensUsed != 50 {
		t.Fatalf("total tokens = %d, want 50", c.TotalTokensUsed)
	}

	err := c.AddTokens(60)
	if err == nil {
		t.Fatal("expected token budget exceeded error")
	}
	if c.TotalTokensUsed != 110 {
		t.Fatalf("total tokens = %d, want 110 (tokens still recorded on overage)", c.TotalTokensUsed)
	}
}

func TestAddTokensUnlimited(t *testing.T) {
	c := New("title", "description")
	// MaxTokens left at zero means unlimited.
	if err := c.AddTokens(1_000_000); err != nil {
		t.Fatalf("unexpected error with unlimited budget: %v", err)
	}
}

func TestBudgetExceeded(t *testing.T) {
	c := New("title", "description")
	budget := 10.0
	c.Budget = &budget

	c.AddCost(5)
	if c.BudgetExceeded() {
		t.Fatal("should not be exceeded yet")
	}

	c.AddCost(6)
	if !c.BudgetExceeded() {
		t.Fatal("should be exceeded now")
	}
}

func TestBudgetExceededNone(t *testing.T) {
	c := New("title", "description")
	c.AddCost(1_000_000)
	if c.BudgetExceeded() {
		t.Fatal("a nil budget should never be exceeded")
	}
}

func TestStuckRecovery(t *testing.T) {
	c := New("title", "description")
	_ = c.TransitionTo(StateInProgress, "start")
	if err := c.MarkStuck("no progress"); err != nil {
		t.Fatalf("unexpected error marking stuck: %v", err)
	}
	if c.State != StateStuck {
		t.Fatalf("state = %s, want stuck", c.State)
	}

	if err := c.AttemptRecovery(); err != nil {
		t.Fatalf("unexpected error recovering: %v", err)
	}
	if c.State != StateInProgress {
		t.Fatalf("state = %s, want in_progress", c.State)
	}
	if c.RepairAttempts != 1 {
		t.Fatalf("repair attempts = %d, want 1", c.RepairAttempts)
	}

	if err := c.AttemptRecovery(); err == nil {
		t.Fatal("expected error recovering a job that isn't stuck")
	}
}

func TestAnnotateValueOnCompletion(t *testing.T) {
	c := NewForUser("user-1", "scrape prices", "")
	cost := 100.0
	c.EstimatedCost = &cost

	if err := c.TransitionTo(StateInProgress, "started"); err != nil {
		t.Fatalf("unexpected error starting: %v", err)
	}
	if err := c.TransitionTo(StateCompleted, "done"); err != nil {
		t.Fatalf("unexpected error completing: %v", err)
	}

	wantValue := 130.0
	if got, ok := c.Metadata["estimated_value"].(float64); !ok || got != wantValue {
		t.Fatalf("estimated_value = %v, want %v", c.Metadata["estimated_value"], wantValue)
	}

	wantMargin := 100.0 / 130.0 // no bid set: earnings falls back to the 130 estimate, cost stays at ActualCost=0
	if got, ok := c.Metadata["profit_margin"].(float64); !ok || got != wantMargin {
		t.Fatalf("profit_margin = %v, want %v", c.Metadata["profit_margin"], wantMargin)
	}
	if got, ok := c.Metadata["was_profitable"].(bool); !ok || !got {
		t.Fatalf("was_profitable = %v, want true", c.Metadata["was_profitable"])
	}
}

func TestAnnotateValueUsesBidAmountAsEarnings(t *testing.T) {
	c := NewForUser("user-1", "scrape prices", "")
	cost := 100.0
	bid := 105.0
	c.EstimatedCost = &cost
	c.BidAmount = &bid
	c.ActualCost = 95.0

	if err := c.TransitionTo(StateInProgress, "started"); err != nil {
		t.Fatalf("unexpected error starting: %v", err)
	}
	if err := c.TransitionTo(StateCompleted, "done"); err != nil {
		t.Fatalf("unexpected error completing: %v", err)
	}

	wantMargin := (105.0 - 95.0) / 105.0
	if got, ok := c.Metadata["profit_margin"].(float64); !ok || got != wantMargin {
		t.Fatalf("profit_margin = %v, want %v", c.Metadata["profit_margin"], wantMargin)
	}
	// A 9.5% margin falls short of the 10% default minimum.
	if got, ok := c.Metadata["was_profitable"].(bool); !ok || got {
		t.Fatalf("was_profitable = %v, want false", c.Metadata["was_profitable"])
	}
}

func TestAnnotateValueSkippedWithoutEstimatedCost(t *testing.T) {
	c := NewForUser("user-1", "scrape prices", "")

	if err := c.TransitionTo(StateInProgress, "started"); err != nil {
		t.Fatalf("unexpected error starting: %v", err)
	}
	if err := c.TransitionTo(StateCompleted, "done"); err != nil {
		t.Fatalf("unexpected error completing: %v", err)
	}

	if _, ok := c.Metadata["estimated_value"]; ok {
		t.Fatal("expected no estimated_value to be recorded without an EstimatedCost")
	}
}
