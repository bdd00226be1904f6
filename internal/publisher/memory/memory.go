// Package memory is an in-process feed.Publisher for tests and
// deployments without a message broker.
package memory

import (
	"context"
	"strconv"
	"sync"
)

// Event is one published record, retained for inspection.
type Event struct {
	Topic   string
	Payload any
}

// Publisher records published events in memory.
type Publisher struct {
	mu     sync.Mutex
	events []Event
}

func New() *Publisher {
	return &Publisher{}
}

func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, Event{Topic: topic, Payload: payload})
	return strconv.Itoa(len(p.events)), nil
}

// Events returns a copy of everything published so far.
func (p *Publisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]Event(nil), p.events...)
}
