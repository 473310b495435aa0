// Package transporttest provides an in-memory transport.Gateway for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	"guest-concierge/internal/transport"
)

// Gateway records every send. Err, when set, is returned for every call;
// FailFor fails sends to specific recipients.
type Gateway struct {
	mu      sync.Mutex
	Sent    []transport.OutboundMessage
	Err     error
	FailFor map[string]error
	seq     int
}

func New() *Gateway {
	return &Gateway{FailFor: map[string]error{}}
}

func (g *Gateway) Send(ctx context.Context, msg transport.OutboundMessage) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g.Err != nil {
		return "", g.Err
	}
	if err, ok := g.FailFor[msg.To]; ok {
		return "", err
	}
	g.seq++
	g.Sent = append(g.Sent, msg)
	return fmt.Sprintf("wamid.%d", g.seq), nil
}

// SetErr changes the error returned by later sends.
func (g *Gateway) SetErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Err = err
}

// Messages returns a copy of the sent messages.
func (g *Gateway) Messages() []transport.OutboundMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]transport.OutboundMessage(nil), g.Sent...)
}

// To returns the messages sent to one recipient.
func (g *Gateway) To(recipient string) []transport.OutboundMessage {
	var out []transport.OutboundMessage
	for _, m := range g.Messages() {
		if m.To == recipient {
			out = append(out, m)
		}
	}
	return out
}
