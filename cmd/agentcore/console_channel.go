package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/agentforge/corerun/internal/agentloop"
)

// consoleChannel is the one Channel this binary ships: it reads lines
// from stdin as IncomingMessages from a single fixed user and writes
// responses to stdout. Every real channel transport (Discord, Slack,
// Telegram, ...) is out of scope per SPEC_FULL.md §11; this exists so
// `agentcore serve` has at least one transport to drive the loop.
type consoleChannel struct {
	userID string

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newConsoleChannel(userID string) *consoleChannel {
	return &consoleChannel{userID: userID}
}

func (c *consoleChannel) Name() string { return "console" }

// Start launches a goroutine that scans stdin line by line and emits one
// IncomingMessage per non-empty line. The stream closes when stdin
// closes or ctx is cancelled.
func (c *consoleChannel) Start(ctx context.Context) (<-chan agentloop.IncomingMessage, error) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	out := make(chan agentloop.IncomingMessage)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			select {
			case out <- agentloop.IncomingMessage{UserID: c.userID, Channel: c.Name(), Content: line}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *consoleChannel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *consoleChannel) Respond(ctx context.Context, msg agentloop.IncomingMessage, resp agentloop.OutgoingResponse) error {
	fmt.Println(resp.Content)
	return nil
}

// SendStatus implements agentloop.StatusChannel so "Thinking..."/"Done"
// notices show up interactively rather than only the final response.
func (c *consoleChannel) SendStatus(ctx context.Context, update agentloop.StatusUpdate) error {
	if update.Text != "" {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", update.Kind, update.Text)
	}
	return nil
}
