package agentloop

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/agentforge/corerun/internal/jobctx"
	"github.com/agentforge/corerun/internal/llmprovider"
	"github.com/agentforge/corerun/internal/session"
	"github.com/agentforge/corerun/internal/toolcontract"
)

func newFullTestLoop(t *testing.T, ch *stubChannel, provider llmprovider.Provider) *Loop {
	t.Helper()
	cm := NewChannelManager()
	cm.Register(ch)

	mgr := session.NewManager()
	engine := session.NewEngine(mgr, nil)

	jobs := jobctx.NewContextManager(100)
	sched := jobctx.NewScheduler(jobs, jobctx.SchedulerConfig{
		RepairSweepCron:  "@every 1h",
		WatchdogInterval: time.Hour,
	}, func(ctx context.Context, jobID string) error { return nil })
	t.Cleanup(sched.StopAll)

	l := NewLoop(Config{
		AgentName:     "testbot",
		Channels:      cm,
		SessionEngine: engine,
		Jobs:          jobs,
		Scheduler:     sched,
		Tools:         toolcontract.NewRegistry(),
		Provider:      provider,
	})
	return l
}

func TestRunProcessesMessageThenExitsOnChannelClose(t *testing.T) {
	ch := &stubChannel{name: "test", inbox: []IncomingMessage{
		{UserID: "u1", Channel: "test", Content: "/ping"},
	}}
	l := newFullTestLoop(t, ch, &stubProvider{})

	err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	responses := ch.recordedResponses()
	if len(responses) != 1 || responses[0].Content != "pong!" {
		t.Fatalf("responses = %+v", responses)
	}
	if !ch.isStopped() {
		t.Error("expected the channel to be stopped on shutdown")
	}
}

func TestRunStopsOnQuitCommand(t *testing.T) {
	ch := &stubChannel{name: "test", inbox: []IncomingMessage{
		{UserID: "u1", Channel: "test", Content: "/quit"},
		{UserID: "u1", Channel: "test", Content: "/ping"},
	}}
	l := newFullTestLoop(t, ch, &stubProvider{})

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// "/ping" should never be processed: /quit must end the loop first.
	for _, r := range ch.recordedResponses() {
		if r.Content == "pong!" {
			t.Error("message received after /quit should not have been processed")
		}
	}
}

func TestRunCancelledContextReturnsContextError(t *testing.T) {
	ch := &stubChannel{name: "test", neverClose: true}
	l := newFullTestLoop(t, ch, &stubProvider{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Run(ctx)
	if err == nil {
		t.Fatal("expected the cancelled context's error to propagate")
	}
}

func TestDispatchRoutesSessionOpsDirectly(t *testing.T) {
	ch := &stubChannel{name: "test"}
	l := newFullTestLoop(t, ch, &stubProvider{})

	resp, shutdown, err := l.dispatch(context.Background(), IncomingMessage{UserID: "u1", Channel: "test", Content: "/clear"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if shutdown {
		t.Error("expected no shutdown signal for /clear")
	}
	if resp.Content != "cleared" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestDispatchRoutesJobIntents(t *testing.T) {
	ch := &stubChannel{name: "test"}
	l := newFullTestLoop(t, ch, &stubProvider{})

	resp, shutdown, err := l.dispatch(context.Background(), IncomingMessage{UserID: "u1", Channel: "test", Content: "/job write tests"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if shutdown {
		t.Error("expected no shutdown signal for /job")
	}
	if !strings.Contains(resp.Content, "Created job") {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestDispatchRoutesChatToProvider(t *testing.T) {
	ch := &stubChannel{name: "test"}
	provider := &stubProvider{responses: []llmprovider.ToolCompletionResponse{
		{CompletionResponse: llmprovider.CompletionResponse{Content: "a reply"}},
	}}
	l := newFullTestLoop(t, ch, provider)

	resp, shutdown, err := l.dispatch(context.Background(), IncomingMessage{UserID: "u1", Channel: "test", Content: "hello there"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if shutdown {
		t.Error("expected no shutdown for ordinary chat")
	}
	if resp.Content != "a reply" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestHandleMessageConvertsErrorToTextResponse(t *testing.T) {
	ch := &stubChannel{name: "test"}
	l := newFullTestLoop(t, ch, &stubProvider{})

	resp, shutdown := l.handleMessage(context.Background(), IncomingMessage{UserID: "u1", Channel: "test", Content: "/cancel"})
	if shutdown {
		t.Error("an error should never itself trigger shutdown")
	}
	if resp == nil || !strings.HasPrefix(resp.Content, "Error:") {
		t.Fatalf("resp = %+v, want an Error: prefixed response", resp)
	}
}
