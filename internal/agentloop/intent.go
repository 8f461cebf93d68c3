package agentloop

import (
	"strings"

	"github.com/agentforge/corerun/internal/commands"
)

// IntentKind classifies a free-form chat submission (everything
// session.ParseSubmission left as UserInput) into ordinary conversation
// or one of the job/built-in command intents §4.10 step 3 says must
// bypass turn tracking entirely.
type IntentKind int

const (
	IntentChat IntentKind = iota
	IntentCreateJob
	IntentCheckJobStatus
	IntentCancelJob
	IntentListJobs
	IntentHelpJob
	IntentBuiltinCommand
)

// Intent is the result of classifying one piece of submission content.
type Intent struct {
	Kind        IntentKind
	Title       string
	Description string
	Category    string
	JobID       string
	Command     string
	Args        string
}

// builtinCommandNames lists every name the help/ping/version/tools/
// quit family of §4.10 built-ins recognizes.
var builtinCommandNames = map[string]bool{
	"help": true, "ping": true, "version": true, "tools": true,
	"quit": true, "exit": true, "shutdown": true,
}

// Router classifies chat-shaped submission content into job/command
// intents or plain chat. It reuses internal/commands.Parser purely for
// its name/args extraction mechanics (a leading "/name args..." split);
// the mapping from a given name to a given IntentKind is originated for
// this loop, since no Rust router.rs/MessageIntent source survived
// original_source's filtering — only agent_loop.rs's own match arms on
// MessageIntent describe the intended verbs.
type Router struct {
	parser *commands.Parser
}

// NewRouter builds a Router using the default "/" and "!" prefixes.
func NewRouter() *Router {
	return &Router{parser: commands.NewParser(nil)}
}

// Route classifies content, which is expected to already have survived
// session.ParseSubmission as SubmissionUserInput (so it's either plain
// text or a slash command ParseSubmission didn't itself recognize).
func (r *Router) Route(content string) Intent {
	pc := r.parser.ParseCommand(content)
	if pc == nil {
		return Intent{Kind: IntentChat}
	}

	switch pc.Name {
	case "job":
		title, description, category := parseJobArgs(pc.Args)
		return Intent{Kind: IntentCreateJob, Title: title, Description: description, Category: category}
	case "status":
		return Intent{Kind: IntentCheckJobStatus, JobID: strings.TrimSpace(pc.Args)}
	case "cancel":
		return Intent{Kind: IntentCancelJob, JobID: strings.TrimSpace(pc.Args)}
	case "list", "jobs":
		return Intent{Kind: IntentListJobs}
	case "help":
		if args := strings.TrimSpace(pc.Args); args != "" {
			return Intent{Kind: IntentHelpJob, JobID: args}
		}
		return Intent{Kind: IntentBuiltinCommand, Command: "help"}
	default:
		if builtinCommandNames[pc.Name] {
			return Intent{Kind: IntentBuiltinCommand, Command: pc.Name, Args: pc.Args}
		}
		return Intent{Kind: IntentChat}
	}
}

// parseJobArgs splits "/job <description> [#category]" into a title
// (the description, truncated), the full description, and an optional
// trailing "#category" hashtag token. This hashtag convention is an
// origination, not a port: agent_loop.rs's CreateJob intent already
// carries an optional category but the text that produces one isn't
// preserved in original_source, so a plain trailing-tag convention is
// used rather than inventing positional argument syntax.
func parseJobArgs(args string) (title, description, category string) {
	description = strings.TrimSpace(args)
	if description == "" {
		return "", "", ""
	}

	fields := strings.Fields(description)
	if last := fields[len(fields)-1]; strings.HasPrefix(last, "#") && len(last) > 1 {
		category = strings.TrimPrefix(last, "#")
		description = strings.TrimSpace(strings.TrimSuffix(description, last))
	}

	title = description
	const maxTitleLen = 60
	if len(title) > maxTitleLen {
		title = strings.TrimSpace(title[:maxTitleLen]) + "…"
	}
	return title, description, category
}
