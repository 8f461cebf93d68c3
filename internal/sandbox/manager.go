// Package sandbox implements the Docker-backed container runner and
// policy-based command execution described in C6 (§4.5): it coordinates
// a Docker connection, the C5 network proxy, and resource-limited
// container or host execution.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/docker/client"

	"github.com/agentforge/corerun/internal/metrics"
	"github.com/agentforge/corerun/internal/proxy"
)

// ExecOutput is the result of a sandboxed or direct command execution.
type ExecOutput struct {
	ExitCode  int64
	Stdout    string
	Stderr    string
	Output    string
	Duration  time.Duration
	Truncated bool
}

func execOutputFromContainer(c *containerOutput) ExecOutput {
	return ExecOutput{
		ExitCode:  c.exitCode,
		Stdout:    c.stdout,
		Stderr:    c.stderr,
		Output:    combineOutput(c.stdout, c.stderr),
		Duration:  c.duration,
		Truncated: c.truncated,
	}
}

// Manager is the main entry point for sandboxed execution: it
// coordinates Docker container creation, the mediating HTTP proxy, and
// policy-based routing between host and container execution.
type Manager struct {
	config  *Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu           sync.RWMutex
	docker       *client.Client
	sandboxProxy *proxy.Proxy

	initialized atomic.Bool
}

// New builds a Manager. The Docker connection is not established until
// Initialize is called.
func New(opts ...Option) *Manager {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Manager{config: cfg, logger: slog.Default()}
}

// SetLogger overrides the package-default logger used for Manager
// lifecycle events.
// SetMetrics installs optional Prometheus instrumentation (C6, per
// SPEC_FULL.md §11). Nil (the default) disables recording.
func (m *Manager) SetMetrics(metrics *metrics.Metrics) {
	m.metrics = metrics
}

func (m *Manager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// IsAvailable reports whether the sandbox is enabled and Docker is
// reachable, without mutating manager state.
func (m *Manager) IsAvailable(ctx context.Context) bool {
	if !m.config.Enabled {
		return false
	}
	docker, err := connectDocker()
	if err != nil {
		return false
	}
	defer docker.Close()
	_, err = docker.Ping(ctx)
	return err == nil
}

// connectDocker builds a Docker SDK client from the environment
// (DOCKER_HOST, DOCKER_CERT_PATH, etc.), negotiating the API version
// with the daemon rather than hard-coding one.
func connectDocker() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

// Initialize connects to Docker, ensures the configured image is
// present (pulling it if allowed), and starts the network proxy when
// the configured policy requires containment.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.initialized.Load() {
		return nil
	}
	if !m.config.Enabled {
		return newError(ErrConfig, "sandbox is disabled")
	}

	docker, err := connectDocker()
	if err != nil {
		return wrapError(ErrDockerNotAvailable, err)
	}
	if _, err := docker.Ping(ctx); err != nil {
		docker.Close()
		return wrapError(ErrDockerNotAvailable, err)
	}

	checker := newContainerRunner(docker, m.config.Image, m.config.ProxyPort)
	if !checker.imageExists(ctx) {
		if m.config.AutoPullImage {
			if err := checker.pullImage(ctx); err != nil {
				docker.Close()
				return err
			}
		} else {
			docker.Close()
			return newError(ErrContainerCreationFailed, fmt.Sprintf("image %s not found and auto_pull is disabled", m.config.Image))
		}
	}

	m.mu.Lock()
	m.docker = docker
	m.mu.Unlock()

	if m.config.Policy.IsSandboxed() {
		decider := proxy.NewAllowlistDecider(domainRules(m.config.NetworkAllowlist))
		p := proxy.New(decider, proxy.EnvCredentialResolver{}, nil, proxy.WithLogger(m.logger))
		if _, err := p.Start(m.config.ProxyPort); err != nil {
			return wrapError(ErrProxyError, err)
		}
		m.mu.Lock()
		m.sandboxProxy = p
		m.mu.Unlock()
	}

	m.initialized.Store(true)
	m.logger.Info("sandbox initialized", "policy", m.config.Policy, "image", m.config.Image)
	return nil
}

func domainRules(domains []string) []proxy.DomainRule {
	rules := make([]proxy.DomainRule, 0, len(domains))
	for _, d := range domains {
		rules = append(rules, proxy.DomainRule{Domain: d})
	}
	return rules
}

// Shutdown stops the proxy and marks the manager uninitialized. The
// Docker client is left open for reuse; callers that want to release it
// entirely should discard the Manager.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	p := m.sandboxProxy
	m.sandboxProxy = nil
	docker := m.docker
	m.docker = nil
	m.mu.Unlock()

	if p != nil {
		_ = p.Stop(ctx)
	}
	if docker != nil {
		_ = docker.Close()
	}

	m.initialized.Store(false)
	m.logger.Info("sandbox shut down")
}

// IsInitialized reports whether Initialize has completed successfully.
func (m *Manager) IsInitialized() bool { return m.initialized.Load() }

// ProxyPort returns the bound proxy port, or 0 if no proxy is running.
func (m *Manager) ProxyPort() int {
	m.mu.RLock()
	p := m.sandboxProxy
	m.mu.RUnlock()
	if p == nil {
		return 0
	}
	return portOf(p.Addr())
}

// Execute runs command under the manager's configured policy.
func (m *Manager) Execute(ctx context.Context, command, cwd string, env map[string]string) (ExecOutput, error) {
	return m.ExecuteWithPolicy(ctx, command, cwd, m.config.Policy, env)
}

// ExecuteWithPolicy runs command under an explicit policy, overriding
// the manager's configured default for this one call.
func (m *Manager) ExecuteWithPolicy(ctx context.Context, command, cwd string, policy Policy, env map[string]string) (ExecOutput, error) {
	start := time.Now()
	out, err := m.executeWithPolicy(ctx, command, cwd, policy, env)
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case out.ExitCode != 0:
		outcome = "nonzero_exit"
	}
	m.metrics.RecordSandboxExecution(string(policy), outcome, time.Since(start))
	return out, err
}

func (m *Manager) executeWithPolicy(ctx context.Context, command, cwd string, policy Policy, env map[string]string) (ExecOutput, error) {
	if policy == FullAccess {
		return m.executeDirect(ctx, command, cwd, env)
	}

	if !m.initialized.Load() {
		if err := m.Initialize(ctx); err != nil {
			return ExecOutput{}, err
		}
	}

	m.mu.RLock()
	docker := m.docker
	p := m.sandboxProxy
	m.mu.RUnlock()

	proxyPort := 0
	if p != nil {
		proxyPort = portOf(p.Addr())
	}

	if docker == nil {
		return ExecOutput{}, newError(ErrDockerNotAvailable, "Docker connection not initialized")
	}

	runner := newContainerRunner(docker, m.config.Image, proxyPort)
	limits := resourceLimits{
		memoryBytes: m.config.MemoryLimitMB * 1024 * 1024,
		cpuShares:   m.config.CPUShares,
		timeout:     m.config.CommandTimeout,
	}

	out, err := runner.execute(ctx, command, cwd, policy, limits, env)
	if err != nil {
		return ExecOutput{}, err
	}
	return execOutputFromContainer(out), nil
}

// Build is a convenience wrapper around ExecuteWithPolicy using the
// WorkspaceWrite policy, matching the Rust source's build() helper.
func (m *Manager) Build(ctx context.Context, command, projectDir string, env map[string]string) (ExecOutput, error) {
	return m.ExecuteWithPolicy(ctx, command, projectDir, WorkspaceWrite, env)
}

// executeDirect runs command on the host with no containment, applying
// only the timeout and output cap.
func (m *Manager) executeDirect(ctx context.Context, command, cwd string, env map[string]string) (ExecOutput, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, m.config.CommandTimeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}
	cmd.Dir = cwd
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return ExecOutput{}, newError(ErrTimeout, fmt.Sprintf("command exceeded %s", m.config.CommandTimeout))
	}

	exitCode := int64(0)
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = int64(exitErr.ExitCode())
		} else {
			return ExecOutput{}, wrapError(ErrExecutionFailed, runErr)
		}
	}

	stdout, stderr, truncated := truncateHalves(stdoutBuf.String(), stderrBuf.String(), maxOutputBytes)

	return ExecOutput{
		ExitCode:  exitCode,
		Stdout:    stdout,
		Stderr:    stderr,
		Output:    combineOutput(stdout, stderr),
		Duration:  time.Since(start),
		Truncated: truncated,
	}, nil
}

func portOf(addr string) int {
	if addr == "" {
		return 0
	}
	var port int
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			fmt.Sscanf(addr[i+1:], "%d", &port)
			break
		}
	}
	return port
}
