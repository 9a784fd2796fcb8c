// Package memory provides an in-process publisher for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one published event.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Publisher is an in-memory audit.Publisher. Published messages are retained
// for inspection.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	nextID   int
}

// New constructs a Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a synthetic message id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := fmt.Sprintf("mem-%d", p.nextID)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	return id, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
