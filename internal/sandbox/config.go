package sandbox

import "time"

// Policy controls a sandboxed command's filesystem and network posture,
// in order of decreasing permissiveness (C6, §4.5).
type Policy string

const (
	// FullAccess bypasses containment entirely and runs on the host.
	FullAccess Policy = "full_access"
	// WorkspaceWrite runs in a container with the workspace mounted read-write.
	WorkspaceWrite Policy = "workspace_write"
	// WorkspaceRead runs in a container with the workspace mounted read-only.
	WorkspaceRead Policy = "workspace_read"
	// ReadOnly runs in a container with no workspace mount at all.
	ReadOnly Policy = "read_only"
)

// IsSandboxed reports whether p requires a container and the mediating
// proxy, i.e. every policy other than FullAccess.
func (p Policy) IsSandboxed() bool {
	return p != FullAccess
}

// Config configures a Manager.
type Config struct {
	Enabled bool
	Policy  Policy

	CommandTimeout time.Duration
	MemoryLimitMB  int64
	CPUShares      int64

	Image         string
	AutoPullImage bool

	ProxyPort        int
	NetworkAllowlist []string
}

// Option configures a Config at construction time.
type Option func(*Config)

func WithEnabled(enabled bool) Option {
	return func(c *Config) { c.Enabled = enabled }
}

func WithPolicy(policy Policy) Option {
	return func(c *Config) { c.Policy = policy }
}

func WithCommandTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.CommandTimeout = timeout }
}

func WithMemoryLimitMB(mb int64) Option {
	return func(c *Config) { c.MemoryLimitMB = mb }
}

func WithCPUShares(shares int64) Option {
	return func(c *Config) { c.CPUShares = shares }
}

func WithImage(image string) Option {
	return func(c *Config) { c.Image = image }
}

func WithAutoPullImage(autoPull bool) Option {
	return func(c *Config) { c.AutoPullImage = autoPull }
}

func WithProxyPort(port int) Option {
	return func(c *Config) { c.ProxyPort = port }
}

func WithNetworkAllowlist(domains []string) Option {
	return func(c *Config) { c.NetworkAllowlist = append(c.NetworkAllowlist, domains...) }
}

// defaultConfig mirrors the Rust SandboxConfig::default(): disabled, the
// most conservative policy, generous but bounded resource caps.
func defaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Policy:         ReadOnly,
		CommandTimeout: 30 * time.Second,
		MemoryLimitMB:  512,
		CPUShares:      1024,
		Image:          "agentforge/sandbox-runtime:latest",
		AutoPullImage:  true,
		ProxyPort:      0,
	}
}

// maxOutputBytes bounds combined stdout+stderr for both the direct and
// the containerized execution path, split half-and-half.
const maxOutputBytes = 64 * 1024
