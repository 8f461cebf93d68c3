package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// containerOutput is the raw result of running a command inside a
// container, before it is folded into the public ExecOutput shape.
type containerOutput struct {
	exitCode  int64
	stdout    string
	stderr    string
	duration  time.Duration
	truncated bool
}

// containerRunner creates and executes commands in throwaway containers
// using the real Docker SDK client (not a CLI shell-out), grounded on
// teradata-labs/loom's pkg/docker.DockerExecutor.
type containerRunner struct {
	docker    *client.Client
	image     string
	proxyPort int
}

func newContainerRunner(docker *client.Client, image string, proxyPort int) *containerRunner {
	return &containerRunner{docker: docker, image: image, proxyPort: proxyPort}
}

func (r *containerRunner) imageExists(ctx context.Context) bool {
	_, _, err := r.docker.ImageInspectWithRaw(ctx, r.image)
	return err == nil
}

func (r *containerRunner) pullImage(ctx context.Context) error {
	rc, err := r.docker.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return wrapError(ErrContainerCreationFailed, fmt.Errorf("pull image %s: %w", r.image, err))
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return wrapError(ErrContainerCreationFailed, fmt.Errorf("pull image %s: %w", r.image, err))
	}
	return nil
}

// resourceLimits bounds a single container execution.
type resourceLimits struct {
	memoryBytes int64
	cpuShares   int64
	timeout     time.Duration
}

// execute runs command in a fresh container, applying policy's workspace
// mount mode, limits's resource caps, and proxying outbound network
// traffic through the host's sandbox proxy via http_proxy/https_proxy.
func (r *containerRunner) execute(ctx context.Context, command, cwd string, policy Policy, limits resourceLimits, env map[string]string) (*containerOutput, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, limits.timeout)
	defer cancel()

	envVars := make([]string, 0, len(env)+2)
	for k, v := range env {
		envVars = append(envVars, k+"="+v)
	}
	if r.proxyPort > 0 {
		proxyURL := fmt.Sprintf("http://host.docker.internal:%d", r.proxyPort)
		envVars = append(envVars, "http_proxy="+proxyURL, "https_proxy="+proxyURL)
	}

	mounts := r.workspaceMounts(cwd, policy)

	containerConfig := &container.Config{
		Image:      r.image,
		Cmd:        []string{command},
		Entrypoint: []string{"sh", "-c"},
		Env:        envVars,
		Tty:        false,
	}

	hostConfig := &container.HostConfig{
		Mounts:     mounts,
		ExtraHosts: []string{"host.docker.internal:host-gateway"},
		Resources: container.Resources{
			Memory:    limits.memoryBytes,
			CPUShares: limits.cpuShares,
			PidsLimit: int64Ptr(256),
		},
	}

	resp, err := r.docker.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, wrapError(ErrContainerCreationFailed, err)
	}
	containerID := resp.ID
	defer func() {
		removeCtx, removeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer removeCancel()
		_ = r.docker.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true})
	}()

	if err := r.docker.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, wrapError(ErrContainerCreationFailed, err)
	}

	statusCh, errCh := r.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case err := <-errCh:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, newError(ErrTimeout, fmt.Sprintf("command exceeded %s", limits.timeout))
		}
		if err != nil {
			return nil, wrapError(ErrExecutionFailed, err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-ctx.Done():
		return nil, newError(ErrTimeout, fmt.Sprintf("command exceeded %s", limits.timeout))
	}

	logsReader, err := r.docker.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, wrapError(ErrExecutionFailed, err)
	}
	defer logsReader.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, logsReader); err != nil && err != io.EOF {
		return nil, wrapError(ErrExecutionFailed, err)
	}

	stdout, stderr, truncated := truncateHalves(stdoutBuf.String(), stderrBuf.String(), maxOutputBytes)

	return &containerOutput{
		exitCode:  exitCode,
		stdout:    stdout,
		stderr:    stderr,
		duration:  time.Since(start),
		truncated: truncated,
	}, nil
}

func (r *containerRunner) workspaceMounts(cwd string, policy Policy) []mount.Mount {
	switch policy {
	case WorkspaceWrite:
		return []mount.Mount{{Type: mount.TypeBind, Source: cwd, Target: "/workspace", ReadOnly: false}}
	case WorkspaceRead:
		return []mount.Mount{{Type: mount.TypeBind, Source: cwd, Target: "/workspace", ReadOnly: true}}
	case ReadOnly:
		return nil
	default:
		return nil
	}
}

func int64Ptr(v int64) *int64 { return &v }

// truncateHalves caps stdout and stderr at limit/2 bytes each, truncating
// at a UTF-8 rune boundary so neither buffer ends mid-codepoint.
func truncateHalves(stdout, stderr string, limit int) (string, string, bool) {
	half := limit / 2
	truncated := false
	if len(stdout) > half {
		stdout = stdout[:floorCharBoundary(stdout, half)]
		truncated = true
	}
	if len(stderr) > half {
		stderr = stderr[:floorCharBoundary(stderr, half)]
		truncated = true
	}
	return stdout, stderr, truncated
}

// floorCharBoundary returns the largest index <= n that does not split a
// UTF-8 rune, mirroring the Rust source's util::floor_char_boundary.
func floorCharBoundary(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && isUTF8ContinuationByte(s[n]) {
		n--
	}
	return n
}

func isUTF8ContinuationByte(b byte) bool {
	return b&0xC0 == 0x80
}

// combineOutput folds stdout/stderr into the single-string form used by
// ExecOutput.Output, matching the Rust source's formatting exactly.
func combineOutput(stdout, stderr string) string {
	if stderr == "" {
		return stdout
	}
	if stdout == "" {
		return stderr
	}
	var b strings.Builder
	b.WriteString(stdout)
	b.WriteString("\n\n--- stderr ---\n")
	b.WriteString(stderr)
	return b.String()
}
