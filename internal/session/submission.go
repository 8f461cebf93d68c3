package session

import "strings"

// SubmissionKind classifies a parsed submission.
type SubmissionKind int

const (
	SubmissionUserInput SubmissionKind = iota
	SubmissionUndo
	SubmissionRedo
	SubmissionInterrupt
	SubmissionCompact
	SubmissionClear
	SubmissionThreadNew
	SubmissionThreadSwitch
	SubmissionResume
	SubmissionExecApproval
)

// Submission is the parsed shape of one incoming channel message.
type Submission struct {
	Kind SubmissionKind

	// Content holds the raw user text for SubmissionUserInput.
	Content string

	// ID holds the thread/checkpoint id for ThreadSwitch, Resume, and
	// ExecApproval submissions.
	ID string

	// Decision holds the approve/deny word for ExecApproval
	// submissions ("/exec-approval <id> allow|deny"). Empty when the
	// caller omitted it.
	Decision string
}

// ParseSubmission recognizes textual commands with a leading '/' per
// §4.8's submission parser; anything else becomes UserInput.
func ParseSubmission(text string) Submission {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return Submission{Kind: SubmissionUserInput, Content: text}
	}

	fields := strings.Fields(trimmed[1:])
	if len(fields) == 0 {
		return Submission{Kind: SubmissionUserInput, Content: text}
	}

	switch strings.ToLower(fields[0]) {
	case "undo":
		return Submission{Kind: SubmissionUndo}
	case "redo":
		return Submission{Kind: SubmissionRedo}
	case "interrupt":
		return Submission{Kind: SubmissionInterrupt}
	case "compact":
		return Submission{Kind: SubmissionCompact}
	case "clear":
		return Submission{Kind: SubmissionClear}
	case "thread":
		if len(fields) >= 2 && strings.ToLower(fields[1]) == "new" {
			return Submission{Kind: SubmissionThreadNew}
		}
		if len(fields) >= 2 {
			return Submission{Kind: SubmissionThreadSwitch, ID: fields[1]}
		}
		return Submission{Kind: SubmissionUserInput, Content: text}
	case "resume":
		if len(fields) >= 2 {
			return Submission{Kind: SubmissionResume, ID: fields[1]}
		}
		return Submission{Kind: SubmissionUserInput, Content: text}
	case "exec-approval":
		if len(fields) >= 2 {
			decision := ""
			if len(fields) >= 3 {
				decision = strings.ToLower(fields[2])
			}
			return Submission{Kind: SubmissionExecApproval, ID: fields[1], Decision: decision}
		}
		return Submission{Kind: SubmissionUserInput, Content: text}
	default:
		return Submission{Kind: SubmissionUserInput, Content: text}
	}
}
