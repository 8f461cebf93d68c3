package agentloop

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentforge/corerun/internal/heartbeat"
	"github.com/agentforge/corerun/internal/jobctx"
	"github.com/agentforge/corerun/internal/leak"
	"github.com/agentforge/corerun/internal/llmprovider"
	"github.com/agentforge/corerun/internal/session"
	"github.com/agentforge/corerun/internal/telemetry"
	"github.com/agentforge/corerun/internal/toolcontract"
)

// Version is the agent's own release identifier, answered by the
// "/version" built-in. Distinct from internal/config.CurrentVersion,
// which versions the configuration schema, not the agent binary.
const Version = "0.1.0"

// maxToolIterations bounds the tool-calling loop handleUserInput runs
// per turn, mirroring the teacher's AgenticLoop's own iteration cap
// (internal/agent/loop.go's LoopConfig.MaxIterations).
const maxToolIterations = 10

// Persistence is the narrow seam C11 uses to fire-and-forget persist
// job records, mirroring the Rust original's tokio::spawn(store.
// save_job(...)) pattern. Left optional: a nil Persistence simply skips
// the save. The full interface (C12) is built out separately; this loop
// only needs the one operation it actually calls.
type Persistence interface {
	SaveJob(ctx context.Context, job *jobctx.Context) error
}

// Config bundles every collaborator the loop wires together.
type Config struct {
	AgentName string

	Channels *ChannelManager

	SessionEngine *session.Engine
	Jobs          *jobctx.ContextManager
	Scheduler     *jobctx.Scheduler
	Tools         *toolcontract.Registry
	Provider      llmprovider.Provider
	Reasoning     *llmprovider.Reasoning
	Leak          *leak.Detector

	// Approvals mints and verifies the exec-approval bearer tokens
	// runReasoning issues when a tool call requires sign-off (§13 Open
	// Question 1). Nil disables token verification; the engine then
	// resolves exec-approval submissions purely by id.
	Approvals *session.ApprovalSigner

	// Tracer emits one span per inbound message plus child spans for LLM
	// requests and tool executions (§11). Nil gets a no-op tracer so
	// NewLoop's caller never has to build one just to skip tracing.
	Tracer *telemetry.Tracer

	// Heartbeat, when non-nil, is started alongside the self-repair
	// scheduler and stopped on shutdown. Its delivery callback is
	// log-only, matching the Rust original's own spawn_heartbeat (its
	// comment notes a full channel-routed delivery is future work, not
	// something the reference loop itself implements).
	Heartbeat *heartbeat.HeartbeatConfig

	Persistence Persistence

	Logger *slog.Logger
}

// Loop is the agent main loop (C11): it owns no state of its own beyond
// its collaborators, since every piece of mutable state (threads, job
// contexts, rate-limit windows) already lives behind C3/C7/C8's own
// locks.
type Loop struct {
	cfg    Config
	router *Router
	logger *slog.Logger

	heartbeatRunner *heartbeat.Runner
}

// NewLoop builds a Loop from cfg. Required fields: Channels,
// SessionEngine, Jobs, Scheduler, Tools, Provider.
func NewLoop(cfg Config) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Reasoning == nil && cfg.Provider != nil {
		cfg.Reasoning = llmprovider.NewReasoning(cfg.Provider)
	}
	if cfg.Tracer == nil {
		cfg.Tracer, _ = telemetry.New(telemetry.Config{ServiceName: cfg.AgentName})
	}
	return &Loop{cfg: cfg, router: NewRouter(), logger: cfg.Logger}
}

// Run executes §4.10's startup sequence, then processes incoming
// messages until the context is cancelled, a channel stream closes, or
// a "/quit"-family built-in command is handled. It returns nil on a
// clean shutdown and the context's error on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	msgCh, err := l.cfg.Channels.StartAll(ctx)
	if err != nil {
		return err
	}

	if err := l.cfg.Scheduler.Start(); err != nil {
		return fmt.Errorf("agentloop: start self-repair scheduler: %w", err)
	}

	if l.cfg.Heartbeat != nil {
		l.heartbeatRunner = heartbeat.NewRunner(l.cfg.Heartbeat, l.deliverHeartbeat, l.onHeartbeatEvent)
		l.heartbeatRunner.Start(ctx, "", "")
	}

	l.logger.Info("agent ready and listening", "agent", l.cfg.AgentName)

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		case msg, ok := <-msgCh:
			if !ok {
				l.shutdown()
				return nil
			}
			resp, shouldShutdown := l.handleMessage(ctx, msg)
			if resp != nil {
				if err := l.cfg.Channels.Respond(ctx, msg, *resp); err != nil {
					l.logger.Warn("failed to respond on channel", "channel", msg.Channel, "error", err)
				}
			}
			if shouldShutdown {
				l.logger.Info("shutdown command received, exiting")
				l.shutdown()
				return nil
			}
		}
	}
}

// shutdown aborts the self-repair and heartbeat background tasks, stops
// every scheduled per-job watchdog, and closes channel transports.
func (l *Loop) shutdown() {
	l.logger.Info("agent shutting down")
	l.cfg.Scheduler.StopAll()
	if l.heartbeatRunner != nil {
		l.heartbeatRunner.Stop()
	}
	if err := l.cfg.Channels.StopAll(context.Background()); err != nil {
		l.logger.Warn("error stopping channels", "error", err)
	}
}

func (l *Loop) deliverHeartbeat(ctx context.Context, ack *heartbeat.HeartbeatAck) error {
	l.logger.Debug("heartbeat ack", "text", ack.Text)
	return nil
}

func (l *Loop) onHeartbeatEvent(event *heartbeat.HeartbeatEvent) {
	l.logger.Debug("heartbeat event", "type", event.Type, "message", event.Message)
}

// handleMessage processes one IncomingMessage per §4.10 step 3's
// dispatch table, converting any error into a terse "Error: ..."
// response rather than propagating it — per §7, the main loop never
// crashes on a single message's failure.
func (l *Loop) handleMessage(ctx context.Context, msg IncomingMessage) (*OutgoingResponse, bool) {
	ctx, span := l.cfg.Tracer.TraceMessage(ctx, msg.Channel, msg.UserID)
	defer span.End()

	resp, shutdown, err := l.dispatch(ctx, msg)
	l.cfg.Tracer.RecordError(span, err)
	if err != nil {
		l.logger.Error("error handling message", "user", msg.UserID, "channel", msg.Channel, "error", err)
		r := TextResponse(fmt.Sprintf("Error: %s", err))
		return &r, false
	}
	return resp, shutdown
}

func (l *Loop) dispatch(ctx context.Context, msg IncomingMessage) (*OutgoingResponse, bool, error) {
	sub := session.ParseSubmission(msg.Content)
	if sub.Kind != session.SubmissionUserInput {
		resp, err := l.handleSessionOp(ctx, msg)
		return resp, false, err
	}

	intent := l.router.Route(sub.Content)
	switch intent.Kind {
	case IntentChat:
		resp, err := l.handleUserInput(ctx, msg, sub.Content)
		return resp, false, err
	case IntentBuiltinCommand:
		resp, shutdown := l.handleBuiltinCommand(intent.Command, intent.Args)
		return resp, shutdown, nil
	default:
		resp, err := l.handleJobIntent(ctx, msg, intent)
		return resp, false, err
	}
}

// handleSessionOp dispatches every non-UserInput submission kind
// (undo/redo/interrupt/compact/clear/thread-new/thread-switch/resume/
// exec-approval) to the session engine. Most of these resolve
// synchronously; an allowed exec-approval is the one exception, since it
// hands a parked tool call back for re-dispatch through the reasoning
// loop (§13 Open Question 1).
func (l *Loop) handleSessionOp(ctx context.Context, msg IncomingMessage) (*OutgoingResponse, error) {
	result, err := l.cfg.SessionEngine.Submit(msg.UserID, msg.Content)
	if err != nil {
		return nil, err
	}
	if result.Kind == session.SubmissionExecApproval && result.NeedsLLM && result.ResumedApproval != nil {
		return l.resumeApproval(ctx, msg, result.Thread, result.ResumedApproval)
	}
	resp := TextResponse(result.Message)
	return &resp, nil
}

func (l *Loop) sendStatus(ctx context.Context, channelName string, update StatusUpdate) {
	if err := l.cfg.Channels.SendStatus(ctx, channelName, update); err != nil {
		l.logger.Debug("status update failed", "channel", channelName, "error", err)
	}
}
