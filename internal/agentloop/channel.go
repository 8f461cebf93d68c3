// Package agentloop implements the agent main loop (C11, §4.10): the
// process that parses incoming channel messages into submissions,
// resolves them against the session engine (C8), routes job and
// built-in commands to the job context manager (C7), and drives the LLM
// reasoning/tool-execution turn for ordinary chat.
package agentloop

import (
	"context"
	"fmt"
	"sync"
)

// IncomingMessage is one message a Channel delivered to the loop.
type IncomingMessage struct {
	UserID   string
	Channel  string
	ThreadID string
	Content  string
}

// OutgoingResponse is what the loop sends back on the originating
// channel.
type OutgoingResponse struct {
	Content     string
	Attachments []string
}

// TextResponse builds a plain-text OutgoingResponse with no attachments.
func TextResponse(content string) OutgoingResponse {
	return OutgoingResponse{Content: content}
}

// StatusKind enumerates the per-channel status updates §4.10/§6 describe
// (Thinking/Status/Interrupted/Done).
type StatusKind string

const (
	StatusThinking    StatusKind = "thinking"
	StatusWorking     StatusKind = "status"
	StatusInterrupted StatusKind = "interrupted"
	StatusDone        StatusKind = "done"
)

// StatusUpdate is a transient progress notification, distinct from the
// final OutgoingResponse.
type StatusUpdate struct {
	Kind StatusKind
	Text string
}

// Channel is the minimal transport contract a channel connector
// satisfies: start delivering IncomingMessages, respond to one, stop.
// Modeled on internal/channels/channel.go's capability-interface split
// (Adapter/LifecycleAdapter/OutboundAdapter/InboundAdapter), trimmed to
// what the main loop needs rather than the full models.Message-coupled
// registry — channel transports themselves (Discord/Slack/Telegram/...)
// are an external collaborator per SPEC_FULL.md, not this package's
// concern.
type Channel interface {
	Name() string
	Start(ctx context.Context) (<-chan IncomingMessage, error)
	Stop(ctx context.Context) error
	Respond(ctx context.Context, msg IncomingMessage, resp OutgoingResponse) error
}

// StatusChannel is an optional capability a Channel may additionally
// implement to surface StatusUpdates (typing indicators, presence).
// Channels that don't implement it simply never receive status calls.
type StatusChannel interface {
	SendStatus(ctx context.Context, update StatusUpdate) error
}

// ChannelManager owns the set of registered channels, fans their
// inbound messages into one merged stream, and routes outbound
// responses/status back to the channel that originated a message.
type ChannelManager struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewChannelManager returns an empty channel manager.
func NewChannelManager() *ChannelManager {
	return &ChannelManager{channels: make(map[string]Channel)}
}

// Register adds ch to the set started by StartAll. Calling Register
// after StartAll has no effect on already-running channels.
func (cm *ChannelManager) Register(ch Channel) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.channels[ch.Name()] = ch
}

// StartAll starts every registered channel and fans their message
// streams into one merged channel.
func (cm *ChannelManager) StartAll(ctx context.Context) (<-chan IncomingMessage, error) {
	cm.mu.RLock()
	channels := make([]Channel, 0, len(cm.channels))
	for _, ch := range cm.channels {
		channels = append(channels, ch)
	}
	cm.mu.RUnlock()

	merged := make(chan IncomingMessage)
	var wg sync.WaitGroup

	for _, ch := range channels {
		stream, err := ch.Start(ctx)
		if err != nil {
			return nil, fmt.Errorf("agentloop: start channel %q: %w", ch.Name(), err)
		}
		wg.Add(1)
		go func(s <-chan IncomingMessage) {
			defer wg.Done()
			for msg := range s {
				select {
				case merged <- msg:
				case <-ctx.Done():
					return
				}
			}
		}(stream)
	}

	go func() {
		wg.Wait()
		close(merged)
	}()

	return merged, nil
}

// Respond sends resp back on the channel named by msg.Channel.
func (cm *ChannelManager) Respond(ctx context.Context, msg IncomingMessage, resp OutgoingResponse) error {
	ch, ok := cm.get(msg.Channel)
	if !ok {
		return fmt.Errorf("agentloop: unknown channel %q", msg.Channel)
	}
	return ch.Respond(ctx, msg, resp)
}

// SendStatus delivers a status update to channelName if it implements
// StatusChannel; a best-effort no-op otherwise.
func (cm *ChannelManager) SendStatus(ctx context.Context, channelName string, update StatusUpdate) error {
	ch, ok := cm.get(channelName)
	if !ok {
		return nil
	}
	sc, ok := ch.(StatusChannel)
	if !ok {
		return nil
	}
	return sc.SendStatus(ctx, update)
}

// StopAll stops every registered channel, collecting (not short-
// circuiting on) the first error encountered.
func (cm *ChannelManager) StopAll(ctx context.Context) error {
	cm.mu.RLock()
	channels := make([]Channel, 0, len(cm.channels))
	for _, ch := range cm.channels {
		channels = append(channels, ch)
	}
	cm.mu.RUnlock()

	var firstErr error
	for _, ch := range channels {
		if err := ch.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (cm *ChannelManager) get(name string) (Channel, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	ch, ok := cm.channels[name]
	return ch, ok
}
