package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentforge/corerun/internal/agentloop"
	"github.com/agentforge/corerun/internal/compactor"
	"github.com/agentforge/corerun/internal/config"
	"github.com/agentforge/corerun/internal/jobctx"
	"github.com/agentforge/corerun/internal/leak"
	"github.com/agentforge/corerun/internal/llmprovider"
	"github.com/agentforge/corerun/internal/metrics"
	"github.com/agentforge/corerun/internal/persistence"
	"github.com/agentforge/corerun/internal/sandbox"
	"github.com/agentforge/corerun/internal/session"
	"github.com/agentforge/corerun/internal/telemetry"
	"github.com/agentforge/corerun/internal/toolcontract"
)

// components is every collaborator wired up from one config.Config,
// returned together so serve/audit can each use the slice they need
// without re-running the construction pipeline.
type components struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	store   persistence.Store
	loop    *agentloop.Loop
	tracerShutdown func(context.Context) error
}

// buildLLMProvider assembles C4's decorator chain: an OpenAI-compatible
// base, wrapped in retry, then a circuit breaker, matching the ordering
// SPEC_FULL.md §4.4 describes (retry the innermost, breaker observing
// the retried calls as a unit).
func buildLLMProvider(cfg *config.Config, m *metrics.Metrics) llmprovider.Provider {
	base := llmprovider.NewOpenAICompatibleChat(llmprovider.OpenAICompatibleConfig{
		BaseURL:            cfg.LLM.BaseURL,
		APIKey:             cfg.LLM.APIKey,
		Model:              cfg.LLM.Model,
		CostPerInputToken:  cfg.LLM.CostPerInputToken,
		CostPerOutputToken: cfg.LLM.CostPerOutputToken,
	})
	base.SetMetrics(m)

	retried := llmprovider.NewRetry(base, llmprovider.RetryConfig{
		MaxRetries:     cfg.LLM.RetryMaxAttempts,
		InitialBackoff: cfg.LLM.RetryBaseDelay,
		MaxBackoff:     10 * cfg.LLM.RetryBaseDelay,
	})

	return llmprovider.NewCircuitBreaker(retried, llmprovider.CircuitBreakerConfig{
		FailureThreshold: cfg.LLM.CircuitBreakerThreshold,
		RecoveryTimeout:  cfg.LLM.CircuitBreakerCooldown,
	})
}

// buildStore selects C12's persistence backend by cfg.Persistence.Driver.
func buildStore(cfg *config.Config) (persistence.Store, error) {
	switch cfg.Persistence.Driver {
	case "sqlite":
		return persistence.NewSQLiteStore(cfg.Persistence.DSN)
	case "postgres":
		return persistence.NewPostgresStoreFromDSN(cfg.Persistence.DSN, nil)
	default:
		return persistence.NewMemoryStore(), nil
	}
}

// buildComponents wires C1-C12 from cfg, per §4.10's startup sequence:
// persistence, then session/jobs, then tools and the LLM chain, then
// the main loop that ties them together.
func buildComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	m := metrics.New()

	store, err := buildStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("agentcore: build persistence store: %w", err)
	}

	detector := leak.NewDetector()
	detector.SetMetrics(m)

	sandboxMgr := sandbox.New(
		sandbox.WithEnabled(cfg.Sandbox.Enabled),
		sandbox.WithPolicy(sandbox.Policy(cfg.Sandbox.Policy)),
		sandbox.WithImage(cfg.Sandbox.Image),
		sandbox.WithAutoPullImage(cfg.Sandbox.AutoPullImage),
		sandbox.WithMemoryLimitMB(cfg.Sandbox.MemoryLimitMB),
		sandbox.WithCPUShares(cfg.Sandbox.CPUShares),
		sandbox.WithCommandTimeout(cfg.Sandbox.CommandTimeout),
		sandbox.WithNetworkAllowlist(cfg.Sandbox.NetworkAllowlist),
	)
	sandboxMgr.SetMetrics(m)

	llm := buildLLMProvider(cfg, m)
	reasoning := llmprovider.NewReasoning(llm)

	comp := compactor.New(llm, "")

	sessionMgr := session.NewManager()
	engine := session.NewEngine(sessionMgr, comp)
	engine.Approvals = session.NewApprovalSigner([]byte(cfg.Approvals.SigningKey), cfg.Approvals.TTL)

	jobs := jobctx.NewContextManager(cfg.Scheduler.MaxJobs)
	scheduler := jobctx.NewScheduler(jobs, jobctx.SchedulerConfig{
		RepairSweepCron:   cfg.Scheduler.RepairSweepCron,
		MaxRepairAttempts: cfg.Scheduler.MaxRepairAttempts,
		WatchdogInterval:  cfg.Scheduler.WatchdogInterval,
	}, nil)
	scheduler.SetMetrics(m)

	registry := toolcontract.NewRegistry()
	registry.Register(toolcontract.NewHTTPTool(detector))
	registry.Register(toolcontract.NewExecTool(sandboxMgr))

	tracer, tracerShutdown := telemetry.New(telemetry.Config{
		ServiceName:    cfg.AgentName,
		Endpoint:       cfg.Tracing.Endpoint,
		Environment:    cfg.Tracing.Environment,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.EnableInsecure,
	})

	channels := agentloop.NewChannelManager()
	channels.Register(newConsoleChannel("console-user"))

	loop := agentloop.NewLoop(agentloop.Config{
		AgentName:     cfg.AgentName,
		Channels:      channels,
		SessionEngine: engine,
		Jobs:          jobs,
		Scheduler:     scheduler,
		Tools:         registry,
		Provider:      llm,
		Reasoning:     reasoning,
		Leak:          detector,
		Approvals:     engine.Approvals,
		Tracer:        tracer,
		Logger:        logger,
	})

	return &components{cfg: cfg, metrics: m, store: store, loop: loop, tracerShutdown: tracerShutdown}, nil
}
