package event

import (
	"sync"
)

// Sink receives every committed envelope in sequence order.
type Sink interface {
	Publish(env *Envelope)
}

// MemorySink collects envelopes in memory. Used by tests and the replay tool.
type MemorySink struct {
	mu        sync.Mutex
	envelopes []*Envelope
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Publish(env *Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, env)
}

// Envelopes returns a copy of everything published so far.
func (s *MemorySink) Envelopes() []*Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Envelope, len(s.envelopes))
	copy(out, s.envelopes)
	return out
}

// Events flattens all published events in order.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, env := range s.envelopes {
		out = append(out, env.Events...)
	}
	return out
}

// Types lists the event types of everything published, in order.
func (s *MemorySink) Types() []EventType {
	events := s.Events()
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.EventType()
	}
	return out
}

func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = nil
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(env *Envelope)

func (f SinkFunc) Publish(env *Envelope) { f(env) }
