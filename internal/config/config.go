// Package config loads cmd/agentcore's runtime configuration: LLM
// provider routing, persistence backend, sandbox policy, and the
// exec-approval signing key. Grounded on the teacher's
// internal/config/config.go: YAML with $VAR expansion, an
// applyEnvOverrides pass for secrets, then defaults and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is cmd/agentcore's top-level configuration.
type Config struct {
	AgentName string `yaml:"agent_name"`

	LLM         LLMConfig         `yaml:"llm"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Approvals   ApprovalsConfig   `yaml:"approvals"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// LLMConfig configures the OpenAI-compatible provider chain (C4):
// retry, then circuit breaker, then (if Failover has entries) failover
// across providers.
type LLMConfig struct {
	BaseURL            string  `yaml:"base_url"`
	APIKey             string  `yaml:"api_key"`
	Model              string  `yaml:"model"`
	CostPerInputToken  float64 `yaml:"cost_per_input_token"`
	CostPerOutputToken float64 `yaml:"cost_per_output_token"`

	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`

	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold"`
	CircuitBreakerCooldown  time.Duration `yaml:"circuit_breaker_cooldown"`
}

// SandboxConfig configures C6's container execution policy.
type SandboxConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Policy           string   `yaml:"policy"`
	Image            string   `yaml:"image"`
	AutoPullImage    bool     `yaml:"auto_pull_image"`
	MemoryLimitMB    int64    `yaml:"memory_limit_mb"`
	CPUShares        int64    `yaml:"cpu_shares"`
	CommandTimeout   time.Duration `yaml:"command_timeout"`
	NetworkAllowlist []string `yaml:"network_allowlist"`
}

// PersistenceConfig selects and configures C12's storage backend.
type PersistenceConfig struct {
	// Driver is one of "memory", "sqlite", "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ApprovalsConfig configures the exec-approval JWT signer (§13 Open
// Question 1).
type ApprovalsConfig struct {
	SigningKey string        `yaml:"signing_key"`
	TTL        time.Duration `yaml:"ttl"`
}

// SchedulerConfig configures C7's self-repair sweep.
type SchedulerConfig struct {
	RepairSweepCron   string        `yaml:"repair_sweep_cron"`
	MaxRepairAttempts uint32        `yaml:"max_repair_attempts"`
	WatchdogInterval  time.Duration `yaml:"watchdog_interval"`
	MaxJobs           int           `yaml:"max_jobs"`
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	Endpoint       string  `yaml:"endpoint"`
	Environment    string  `yaml:"environment"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	EnableInsecure bool    `yaml:"enable_insecure"`
}

// Load reads path as YAML (after expanding ${VAR} references against
// the process environment), applies env-var overrides for secrets,
// fills defaults, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets secrets and deployment-specific values be
// supplied without editing the checked-in config file, mirroring the
// teacher's JWT_SECRET/DATABASE_URL override convention.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_LLM_API_KEY")); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_APPROVAL_SIGNING_KEY")); v != "" {
		cfg.Approvals.SigningKey = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_PERSISTENCE_DSN")); v != "" {
		cfg.Persistence.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_OTEL_ENDPOINT")); v != "" {
		cfg.Tracing.Endpoint = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.AgentName == "" {
		cfg.AgentName = "agentcore"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.RetryMaxAttempts == 0 {
		cfg.LLM.RetryMaxAttempts = 3
	}
	if cfg.LLM.RetryBaseDelay == 0 {
		cfg.LLM.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.LLM.CircuitBreakerThreshold == 0 {
		cfg.LLM.CircuitBreakerThreshold = 5
	}
	if cfg.LLM.CircuitBreakerCooldown == 0 {
		cfg.LLM.CircuitBreakerCooldown = 30 * time.Second
	}

	if cfg.Sandbox.Policy == "" {
		cfg.Sandbox.Policy = "workspace_write"
	}
	if cfg.Sandbox.Image == "" {
		cfg.Sandbox.Image = "agentcore-sandbox:latest"
	}
	if cfg.Sandbox.MemoryLimitMB == 0 {
		cfg.Sandbox.MemoryLimitMB = 512
	}
	if cfg.Sandbox.CommandTimeout == 0 {
		cfg.Sandbox.CommandTimeout = 30 * time.Second
	}

	if cfg.Persistence.Driver == "" {
		cfg.Persistence.Driver = "memory"
	}

	if cfg.Approvals.TTL == 0 {
		cfg.Approvals.TTL = 10 * time.Minute
	}

	if cfg.Scheduler.RepairSweepCron == "" {
		cfg.Scheduler.RepairSweepCron = "*/1 * * * *"
	}
	if cfg.Scheduler.MaxRepairAttempts == 0 {
		cfg.Scheduler.MaxRepairAttempts = 3
	}
	if cfg.Scheduler.WatchdogInterval == 0 {
		cfg.Scheduler.WatchdogInterval = 5 * time.Second
	}
	if cfg.Scheduler.MaxJobs == 0 {
		cfg.Scheduler.MaxJobs = 100
	}

	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

func validate(cfg *Config) error {
	switch cfg.Persistence.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown persistence driver %q", cfg.Persistence.Driver)
	}
	if cfg.Persistence.Driver != "memory" && cfg.Persistence.DSN == "" {
		return fmt.Errorf("config: persistence.dsn is required for driver %q", cfg.Persistence.Driver)
	}
	switch cfg.Sandbox.Policy {
	case "full_access", "workspace_write", "workspace_read", "read_only":
	default:
		return fmt.Errorf("config: unknown sandbox policy %q", cfg.Sandbox.Policy)
	}
	return nil
}
