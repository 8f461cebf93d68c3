package agentloop

import (
	"context"
	"testing"
)

func TestChannelManagerFansInMultipleChannels(t *testing.T) {
	cm := NewChannelManager()
	a := &stubChannel{name: "a", inbox: []IncomingMessage{{UserID: "u1", Channel: "a", Content: "hi"}}}
	b := &stubChannel{name: "b", inbox: []IncomingMessage{{UserID: "u2", Channel: "b", Content: "yo"}}}
	cm.Register(a)
	cm.Register(b)

	merged, err := cm.StartAll(context.Background())
	if err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	seen := map[string]bool{}
	for msg := range merged {
		seen[msg.Content] = true
	}
	if !seen["hi"] || !seen["yo"] {
		t.Fatalf("expected both messages merged, got %v", seen)
	}
}

func TestChannelManagerRespondRoutesByChannelName(t *testing.T) {
	cm := NewChannelManager()
	a := &stubChannel{name: "a"}
	b := &stubChannel{name: "b"}
	cm.Register(a)
	cm.Register(b)

	msg := IncomingMessage{Channel: "b", UserID: "u1"}
	if err := cm.Respond(context.Background(), msg, TextResponse("hello")); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if len(a.recordedResponses()) != 0 {
		t.Error("response delivered to the wrong channel")
	}
	got := b.recordedResponses()
	if len(got) != 1 || got[0].Content != "hello" {
		t.Errorf("b received %+v", got)
	}
}

func TestChannelManagerRespondUnknownChannel(t *testing.T) {
	cm := NewChannelManager()
	err := cm.Respond(context.Background(), IncomingMessage{Channel: "nope"}, TextResponse("x"))
	if err == nil {
		t.Fatal("expected an error for an unregistered channel")
	}
}

func TestChannelManagerSendStatusIsBestEffort(t *testing.T) {
	cm := NewChannelManager()
	a := &stubChannel{name: "a"}
	cm.Register(a)

	if err := cm.SendStatus(context.Background(), "a", StatusUpdate{Kind: StatusThinking}); err != nil {
		t.Fatalf("SendStatus: %v", err)
	}
	if err := cm.SendStatus(context.Background(), "missing", StatusUpdate{Kind: StatusThinking}); err != nil {
		t.Fatalf("SendStatus on an unknown channel should be a silent no-op, got %v", err)
	}
	if len(a.statuses) != 1 {
		t.Errorf("a.statuses = %+v, want one recorded status", a.statuses)
	}
}

func TestChannelManagerStopAllStopsEveryChannel(t *testing.T) {
	cm := NewChannelManager()
	a := &stubChannel{name: "a"}
	b := &stubChannel{name: "b"}
	cm.Register(a)
	cm.Register(b)

	if err := cm.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if !a.isStopped() || !b.isStopped() {
		t.Error("expected both channels stopped")
	}
}
