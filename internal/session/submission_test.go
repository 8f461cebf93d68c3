package session

import "testing"

func TestParseSubmissionUserInput(t *testing.T) {
	sub := ParseSubmission("hello there")
	if sub.Kind != SubmissionUserInput || sub.Content != "hello there" {
		t.Fatalf("got %+v", sub)
	}
}

func TestParseSubmissionCommands(t *testing.T) {
	cases := map[string]SubmissionKind{
		"/undo":          SubmissionUndo,
		"/redo":          SubmissionRedo,
		"/interrupt":     SubmissionInterrupt,
		"/compact":       SubmissionCompact,
		"/clear":         SubmissionClear,
		"/thread new":    SubmissionThreadNew,
		"/resume abc123": SubmissionResume,
	}
	for text, want := range cases {
		got := ParseSubmission(text)
		if got.Kind != want {
			t.Fatalf("%q: got kind %v, want %v", text, got.Kind, want)
		}
	}
}

func TestParseSubmissionThreadSwitch(t *testing.T) {
	sub := ParseSubmission("/thread abc-123")
	if sub.Kind != SubmissionThreadSwitch || sub.ID != "abc-123" {
		t.Fatalf("got %+v", sub)
	}
}

func TestParseSubmissionExecApproval(t *testing.T) {
	sub := ParseSubmission("/exec-approval job-1")
	if sub.Kind != SubmissionExecApproval || sub.ID != "job-1" {
		t.Fatalf("got %+v", sub)
	}
}

func TestParseSubmissionUnknownSlashCommandFallsBackToUserInput(t *testing.T) {
	sub := ParseSubmission("/not-a-real-command")
	if sub.Kind != SubmissionUserInput {
		t.Fatalf("expected fallback to UserInput, got %v", sub.Kind)
	}
}
