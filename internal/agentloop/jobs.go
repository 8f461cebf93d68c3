package agentloop

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agentforge/corerun/internal/jobctx"
)

// handleJobIntent dispatches one of the job-management intents Router
// classified, mirroring agent_loop.rs's handle_job_or_command match
// arms. Unlike handleUserInput, these never touch a thread's turn
// tracking — job context lives in C7, entirely separate from C8's
// thread/turn state.
func (l *Loop) handleJobIntent(ctx context.Context, msg IncomingMessage, intent Intent) (*OutgoingResponse, error) {
	if intent.Kind == IntentCreateJob {
		l.sendStatus(ctx, msg.Channel, StatusUpdate{Kind: StatusThinking, Text: "Creating job..."})
	}

	var (
		text string
		err  error
	)
	switch intent.Kind {
	case IntentCreateJob:
		text, err = l.createJob(ctx, msg.UserID, intent)
	case IntentCheckJobStatus:
		text, err = l.checkJobStatus(intent.JobID)
	case IntentCancelJob:
		text, err = l.cancelJob(intent.JobID)
	case IntentListJobs:
		text, err = l.listJobs()
	case IntentHelpJob:
		text, err = l.helpJob(intent.JobID)
	default:
		text = "Unrecognized job command."
	}
	if err != nil {
		return nil, err
	}
	resp := TextResponse(text)
	return &resp, nil
}

// createJob creates a job context (C7), starts its budget watchdog, and
// fire-and-forget persists it, mirroring agent_loop.rs's
// handle_create_job. It does not itself run the job through a
// background agent turn: C7 was scoped earlier in this implementation
// as a budget-watchdog-plus-repair-sweep, not a job-execution worker
// pool (the Rust original hands execution to a separate, heavier
// scheduler out of this pass's scope) — so the job is left InProgress
// for whatever process actually works it.
func (l *Loop) createJob(ctx context.Context, userID string, intent Intent) (string, error) {
	jobID, err := l.cfg.Jobs.CreateJobForUser(userID, intent.Title, intent.Description)
	if err != nil {
		return "", err
	}

	if intent.Category != "" {
		_ = l.cfg.Jobs.UpdateContext(jobID, func(c *jobctx.Context) {
			c.Category = intent.Category
		})
	}
	_ = l.cfg.Jobs.UpdateContext(jobID, func(c *jobctx.Context) {
		if c.State.CanTransitionTo(jobctx.StateInProgress) {
			_ = c.TransitionTo(jobctx.StateInProgress, "scheduled")
		}
	})

	l.cfg.Scheduler.Schedule(jobID)

	if l.cfg.Persistence != nil {
		go func(id string) {
			jobCtx, err := l.cfg.Jobs.GetContext(id)
			if err != nil {
				return
			}
			if err := l.cfg.Persistence.SaveJob(context.Background(), jobCtx); err != nil {
				l.logger.Warn("failed to persist job", "job", id, "error", err)
			}
		}(jobID)
	}

	return fmt.Sprintf("Created job %s: %s", jobID, intent.Description), nil
}

// checkJobStatus reports a single job's detail, or an aggregate summary
// across every known job when jobID is empty.
func (l *Loop) checkJobStatus(jobID string) (string, error) {
	if jobID == "" {
		s := l.cfg.Jobs.Summary()
		return fmt.Sprintf(
			"Jobs: %d total (pending=%d in_progress=%d completed=%d submitted=%d accepted=%d failed=%d stuck=%d cancelled=%d)",
			s.Total, s.Pending, s.InProgress, s.Completed, s.Submitted, s.Accepted, s.Failed, s.Stuck, s.Cancelled,
		), nil
	}

	jobCtx, err := l.cfg.Jobs.GetContext(jobID)
	if err != nil {
		return "", err
	}
	return formatJobStatus(jobCtx), nil
}

// cancelJob transitions a job to Cancelled (when the current state
// permits it) and stops its budget watchdog.
func (l *Loop) cancelJob(jobID string) (string, error) {
	if jobID == "" {
		return "", fmt.Errorf("agentloop: /cancel requires a job id")
	}

	var cancelled bool
	err := l.cfg.Jobs.UpdateContext(jobID, func(c *jobctx.Context) {
		if c.State.CanTransitionTo(jobctx.StateCancelled) {
			_ = c.TransitionTo(jobctx.StateCancelled, "cancelled via /cancel")
			cancelled = true
		}
	})
	if err != nil {
		return "", err
	}
	l.cfg.Scheduler.Stop(jobID)

	if !cancelled {
		return fmt.Sprintf("Job %s could not be cancelled from its current state.", jobID), nil
	}
	return fmt.Sprintf("Job %s has been cancelled.", jobID), nil
}

// listJobs reports every known job, one line each.
func (l *Loop) listJobs() (string, error) {
	ids := l.cfg.Jobs.AllJobs()
	if len(ids) == 0 {
		return "No jobs found.", nil
	}
	sort.Strings(ids)

	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		jobCtx, err := l.cfg.Jobs.GetContext(id)
		if err != nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s [%s] %s", jobCtx.JobID, jobCtx.State, jobCtx.Title))
	}
	return strings.Join(lines, "\n"), nil
}

// helpJob attempts recovery of a stuck job and reschedules its
// watchdog, mirroring agent_loop.rs's handle_help_job; for a job that
// isn't stuck it just reports current status.
func (l *Loop) helpJob(jobID string) (string, error) {
	jobCtx, err := l.cfg.Jobs.GetContext(jobID)
	if err != nil {
		return "", err
	}
	if jobCtx.State != jobctx.StateStuck {
		return fmt.Sprintf("Job %s is not stuck (current state: %s).", jobID, jobCtx.State), nil
	}

	if err := l.cfg.Jobs.UpdateContext(jobID, func(c *jobctx.Context) {
		_ = c.AttemptRecovery()
	}); err != nil {
		return "", err
	}
	l.cfg.Scheduler.Schedule(jobID)

	return fmt.Sprintf("Attempting recovery of job %s.", jobID), nil
}

func formatJobStatus(c *jobctx.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s [%s]\nTitle: %s\n", c.JobID, c.State, c.Title)
	if c.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", c.Description)
	}
	if c.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", c.Category)
	}
	fmt.Fprintf(&b, "Cost: %.4f", c.ActualCost)
	if c.Budget != nil {
		fmt.Fprintf(&b, " / %.4f", *c.Budget)
	}
	fmt.Fprintf(&b, "\nTokens: %d", c.TotalTokensUsed)
	if c.MaxTokens > 0 {
		fmt.Fprintf(&b, " / %d", c.MaxTokens)
	}
	return b.String()
}
