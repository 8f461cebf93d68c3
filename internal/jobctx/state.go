// Package jobctx implements the job context state machine, the context
// manager that owns live job contexts, and the scheduler that drives jobs
// to completion and repairs stuck ones.
package jobctx

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/corerun/internal/estimation"
)

// State is one of the permitted job lifecycle states.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateSubmitted  State = "submitted"
	StateAccepted   State = "accepted"
	StateFailed     State = "failed"
	StateStuck      State = "stuck"
	StateCancelled  State = "cancelled"
)

// maxTransitionHistory caps the number of transitions retained per job;
// the oldest entries are dropped once exceeded.
const maxTransitionHistory = 200

// transitionEdges enumerates every permitted (from, to) edge. Any pair not
// present here is refused by TransitionTo.
var transitionEdges = map[State]map[State]bool{
	StatePending: {
		StateInProgress: true,
		StateCancelled:  true,
	},
	StateInProgress: {
		StateCompleted: true,
		StateFailed:    true,
		StateStuck:     true,
		StateCancelled: true,
	},
	StateCompleted: {
		StateSubmitted: true,
		StateFailed:    true,
	},
	StateSubmitted: {
		StateAccepted: true,
		StateFailed:   true,
	},
	StateStuck: {
		StateInProgress: true,
		StateFailed:     true,
		StateCancelled:  true,
	},
}

// CanTransitionTo reports whether moving from s to target is a permitted
// edge.
func (s State) CanTransitionTo(target State) bool {
	return transitionEdges[s][target]
}

// IsTerminal reports whether s is one of the absorbing end states.
func (s State) IsTerminal() bool {
	switch s {
	case StateAccepted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// IsActive is the complement of IsTerminal.
func (s State) IsActive() bool {
	return !s.IsTerminal()
}

// Transition is one recorded state change.
type Transition struct {
	From      State
	To        State
	Timestamp time.Time
	Reason    string
}

// Context is the mutable state belonging to one job. It is not safe for
// concurrent use directly; callers reach it only through ContextManager,
// which guards every access with its own lock.
type Context struct {
	JobID          string
	State          State
	UserID         string
	ConversationID string
	Title          string
	Description    string
	Category       string

	Budget       *float64
	BudgetToken  string
	BidAmount    *float64
	EstimatedCost *float64
	EstimatedDuration *time.Duration
	ActualCost   float64

	TotalTokensUsed uint64
	MaxTokens       uint64

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	RepairAttempts uint32
	Transitions    []Transition

	Metadata map[string]any
	ExtraEnv map[string]string
}

// New creates a job context owned by "default".
func New(title, description string) *Context {
	return NewForUser("default", title, description)
}

// NewForUser creates a job context owned by the given user, starting in
// State Pending.
func NewForUser(userID, title, description string) *Context {
	now := time.Now().UTC()
	return &Context{
		JobID:       uuid.NewString(),
		State:       StatePending,
		UserID:      userID,
		Title:       title,
		Description: description,
		ActualCost:  0,
		CreatedAt:   now,
		Metadata:    map[string]any{},
		ExtraEnv:    map[string]string{},
	}
}

// TransitionError reports an illegal state-machine edge.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition from %s to %s", e.From, e.To)
}

// TransitionTo moves the job to newState, refusing edges not present in
// the state machine. On success it appends a bounded history entry and
// updates StartedAt/CompletedAt as appropriate.
func (c *Context) TransitionTo(newState State, reason string) error {
	if !c.State.CanTransitionTo(newState) {
		return &TransitionError{From: c.State, To: newState}
	}

	now := time.Now().UTC()
	c.Transitions = append(c.Transitions, Transition{
		From:      c.State,
		To:        newState,
		Timestamp: now,
		Reason:    reason,
	})
	if len(c.Transitions) > maxTransitionHistory {
		drop := len(c.Transitions) - maxTransitionHistory
		c.Transitions = c.Transitions[drop:]
	}

	c.State = newState

	switch newState {
	case StateInProgress:
		if c.StartedAt == nil {
			c.StartedAt = &now
		}
	case StateCompleted, StateAccepted, StateFailed, StateCancelled:
		c.CompletedAt = &now
	}

	if newState == StateCompleted {
		c.annotateValue()
	}

	return nil
}

// annotateValue records the job's estimated value and realized profit
// margin on completion, using internal/estimation's value estimator.
// BidAmount stands in for "earnings" when set; otherwise EstimatedCost at
// the default target margin is used as a stand-in price so a job with no
// bid still gets a margin figure to review.
func (c *Context) annotateValue() {
	if c.EstimatedCost == nil {
		return
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	cost := *c.EstimatedCost
	c.Metadata["estimated_value"] = estimation.Estimate(cost, estimation.DefaultTargetMargin)

	earnings := cost + cost*estimation.DefaultTargetMargin
	if c.BidAmount != nil {
		earnings = *c.BidAmount
	}
	c.Metadata["profit_margin"] = estimation.CalculateMargin(earnings, c.ActualCost)
	c.Metadata["was_profitable"] = estimation.IsProfitable(earnings, c.ActualCost)
}

// AddCost accumulates monetary cost spent on this job.
func (c *Context) AddCost(cost float64) {
	c.ActualCost += cost
}

// TokenBudgetExceededError reports the job's token budget was exceeded.
// Tokens are still recorded even when this error is returned.
type TokenBudgetExceededError struct {
	Used  uint64
	Limit uint64
}

func (e *TokenBudgetExceededError) Error() string {
	return fmt.Sprintf("token budget exceeded: used %d of %d allowed tokens", e.Used, e.Limit)
}

// AddTokens records LLM token usage. It always records the tokens, even
// when the budget is exceeded; the returned error only signals the
// overage.
func (c *Context) AddTokens(tokens uint64) error {
	c.TotalTokensUsed += tokens
	if c.MaxTokens > 0 && c.TotalTokensUsed > c.MaxTokens {
		return &TokenBudgetExceededError{Used: c.TotalTokensUsed, Limit: c.MaxTokens}
	}
	return nil
}

// BudgetExceeded reports whether actual cost has exceeded the configured
// monetary budget. A nil budget never counts as exceeded.
func (c *Context) BudgetExceeded() bool {
	if c.Budget == nil {
		return false
	}
	return c.ActualCost > *c.Budget
}

// Elapsed returns the duration since the job started, or nil if it has
// not yet started.
func (c *Context) Elapsed() *time.Duration {
	if c.StartedAt == nil {
		return nil
	}
	end := time.Now().UTC()
	if c.CompletedAt != nil {
		end = *c.CompletedAt
	}
	d := end.Sub(*c.StartedAt)
	if d < 0 {
		d = 0
	}
	return &d
}

// MarkStuck transitions the job into the Stuck state.
func (c *Context) MarkStuck(reason string) error {
	return c.TransitionTo(StateStuck, reason)
}

// AttemptRecovery transitions a Stuck job back to InProgress, incrementing
// the repair-attempt counter. It refuses if the job isn't currently
// Stuck.
func (c *Context) AttemptRecovery() error {
	if c.State != StateStuck {
		return fmt.Errorf("job is not stuck")
	}
	c.RepairAttempts++
	return c.TransitionTo(StateInProgress, "Recovery attempt")
}
