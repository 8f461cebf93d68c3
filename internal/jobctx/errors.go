package jobctx

import "fmt"

// NotFoundError reports that no job context exists for the given id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("job not found: %s", e.ID)
}

// MaxJobsExceededError reports that a user has reached their concurrent
// active-job ceiling.
type MaxJobsExceededError struct {
	Max int
}

func (e *MaxJobsExceededError) Error() string {
	return fmt.Sprintf("max active jobs exceeded: %d", e.Max)
}

// ContextError wraps a general failure operating on a job's context that
// isn't simply "not found" (e.g. a closure-based update that itself
// failed).
type ContextError struct {
	ID     string
	Reason string
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("job %s: %s", e.ID, e.Reason)
}

// InvalidStateError wraps an illegal operation attempted against a job in
// its current state.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid job state: %s", e.Reason)
}

// BudgetExceededError reports that a job's monetary or token budget was
// exceeded, used by the scheduler to explain a Failed transition.
type BudgetExceededError struct {
	Reason string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: %s", e.Reason)
}
