package agentloop

import (
	"fmt"
	"sort"
	"strings"
)

const helpText = `Available commands:
/help               - show this message
/ping                - check the agent is responsive
/version             - show the agent's version
/tools               - list available tools
/quit, /exit, /shutdown - stop the agent
/undo, /redo         - undo/redo the last turn
/interrupt           - interrupt the in-flight turn
/compact             - compact the active thread's history now
/clear               - clear the active thread
/thread new          - start a new thread
/thread <id>         - switch to another thread
/resume <id>         - resume a checkpoint
/job <description>   - create a job
/status [job-id]     - check a job's status, or all jobs' summary
/cancel <job-id>      - cancel a job
/list                - list every known job
/help <job-id>        - attempt recovery of a stuck job`

// handleBuiltinCommand answers one of §4.10's help/utility commands
// directly. The second return value signals the loop should shut down
// (the quit/exit/shutdown family).
func (l *Loop) handleBuiltinCommand(name, args string) (*OutgoingResponse, bool) {
	switch name {
	case "help":
		resp := TextResponse(helpText)
		return &resp, false
	case "ping":
		resp := TextResponse("pong!")
		return &resp, false
	case "version":
		resp := TextResponse(fmt.Sprintf("%s v%s", l.cfg.AgentName, Version))
		return &resp, false
	case "tools":
		names := l.cfg.Tools.List()
		sort.Strings(names)
		if len(names) == 0 {
			resp := TextResponse("No tools registered.")
			return &resp, false
		}
		resp := TextResponse("Available tools: " + strings.Join(names, ", "))
		return &resp, false
	case "quit", "exit", "shutdown":
		return nil, true
	default:
		resp := TextResponse("Unknown command: " + name + ". Try /help")
		return &resp, false
	}
}
