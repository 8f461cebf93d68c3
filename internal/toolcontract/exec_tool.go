package toolcontract

import (
	"context"
	"encoding/json"

	"github.com/agentforge/corerun/internal/jobctx"
	"github.com/agentforge/corerun/internal/sandbox"
)

// ExecTool routes a model-requested shell command through the sandbox
// manager (C6), always under the WorkspaceWrite policy unless the
// caller asks for something more restrictive. It always requires
// approval (§4.3): arbitrary command execution is exactly the case the
// ExecApproval flow exists for.
type ExecTool struct {
	manager *sandbox.Manager
}

// NewExecTool wraps manager as a registrable Tool.
func NewExecTool(manager *sandbox.Manager) *ExecTool {
	return &ExecTool{manager: manager}
}

func (t *ExecTool) Name() string { return "exec" }
func (t *ExecTool) Description() string {
	return "Run a shell command in the sandboxed workspace."
}

func (t *ExecTool) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string"},
			"cwd":     map[string]any{"type": "string"},
			"policy":  map[string]any{"type": "string", "enum": []any{"workspace_write", "workspace_read", "read_only"}},
		},
		"required": []any{"command"},
	}
}

type execParams struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
	Policy  string `json:"policy"`
}

func (t *ExecTool) Execute(ctx context.Context, raw json.RawMessage, job *jobctx.Context) (*Output, error) {
	var p execParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, newError(ErrInvalidParameters, t.Name(), "malformed parameters", err)
	}
	if p.Command == "" {
		return nil, newError(ErrInvalidParameters, t.Name(), "command is required", nil)
	}

	policy := sandbox.WorkspaceWrite
	if p.Policy != "" {
		policy = sandbox.Policy(p.Policy)
	}

	out, err := t.manager.ExecuteWithPolicy(ctx, p.Command, p.Cwd, policy, nil)
	if err != nil {
		return nil, newError(ErrSandbox, t.Name(), "sandbox execution failed", err)
	}

	return &Output{
		Content:              out.Output,
		IsError:              out.ExitCode != 0,
		RequiresSanitization: true,
	}, nil
}

func (t *ExecTool) RequiresSanitization() bool { return true }

func (t *ExecTool) RequiresApproval(params json.RawMessage) ApprovalRequirement {
	return ApprovalAlways
}

func (t *ExecTool) Domain() Domain { return DomainContainer }
