// Package memory records forwarded crawl events for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Message is one recorded publish.
type Message struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher keeps every publish in order.
type Publisher struct {
	mu   sync.RWMutex
	log  []Message
	fail error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent publishes return err; nil restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

// Publish records payload under topic and returns a sequential ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return "", p.fail
	}
	msg := Message{ID: fmt.Sprintf("memory-%d", len(p.log)+1), Topic: topic, Payload: payload}
	p.log = append(p.log, msg)
	return msg.ID, nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.log)
}

// Payloads returns the payloads published to topic that have type T, in
// publish order. Payloads of another type are ignored.
func Payloads[T any](p *Publisher, topic string) []T {
	var out []T
	for _, msg := range p.Messages() {
		if msg.Topic != topic {
			continue
		}
		if v, ok := msg.Payload.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
