package agentloop

import (
	"strings"
	"testing"

	"github.com/agentforge/corerun/internal/toolcontract"
)

func newTestLoop(t *testing.T, tools *toolcontract.Registry) *Loop {
	t.Helper()
	if tools == nil {
		tools = toolcontract.NewRegistry()
	}
	return NewLoop(Config{
		AgentName: "testbot",
		Channels:  NewChannelManager(),
		Tools:     tools,
	})
}

func TestHandleBuiltinCommandHelp(t *testing.T) {
	l := newTestLoop(t, nil)
	resp, shutdown := l.handleBuiltinCommand("help", "")
	if shutdown {
		t.Fatal("help should not signal shutdown")
	}
	if !strings.Contains(resp.Content, "Available commands") {
		t.Errorf("unexpected help text: %q", resp.Content)
	}
}

func TestHandleBuiltinCommandPing(t *testing.T) {
	l := newTestLoop(t, nil)
	resp, shutdown := l.handleBuiltinCommand("ping", "")
	if shutdown {
		t.Fatal("ping should not signal shutdown")
	}
	if resp.Content != "pong!" {
		t.Errorf("Content = %q, want pong!", resp.Content)
	}
}

func TestHandleBuiltinCommandVersion(t *testing.T) {
	l := newTestLoop(t, nil)
	resp, _ := l.handleBuiltinCommand("version", "")
	want := "testbot v" + Version
	if resp.Content != want {
		t.Errorf("Content = %q, want %q", resp.Content, want)
	}
}

func TestHandleBuiltinCommandToolsEmpty(t *testing.T) {
	l := newTestLoop(t, nil)
	resp, _ := l.handleBuiltinCommand("tools", "")
	if resp.Content != "No tools registered." {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestHandleBuiltinCommandToolsLists(t *testing.T) {
	registry := toolcontract.NewRegistry()
	registry.Register(&stubTool{name: "zeta"})
	registry.Register(&stubTool{name: "alpha"})
	l := newTestLoop(t, registry)

	resp, _ := l.handleBuiltinCommand("tools", "")
	if resp.Content != "Available tools: alpha, zeta" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestHandleBuiltinCommandQuitFamilySignalsShutdown(t *testing.T) {
	l := newTestLoop(t, nil)
	for _, name := range []string{"quit", "exit", "shutdown"} {
		resp, shutdown := l.handleBuiltinCommand(name, "")
		if !shutdown {
			t.Errorf("%s: shutdown = false, want true", name)
		}
		if resp != nil {
			t.Errorf("%s: expected a nil response", name)
		}
	}
}

func TestHandleBuiltinCommandUnknown(t *testing.T) {
	l := newTestLoop(t, nil)
	resp, shutdown := l.handleBuiltinCommand("bogus", "")
	if shutdown {
		t.Fatal("unknown command should not signal shutdown")
	}
	if !strings.Contains(resp.Content, "Unknown command") {
		t.Errorf("Content = %q", resp.Content)
	}
}
