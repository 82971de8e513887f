package telemetry

import (
	"context"
	"sync"

	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
	"github.com/Overland-East-Bay/hosted-fields/internal/ports/out/telemetry"
)

// Sink is an in-memory implementation of telemetry.Sink.
// It is safe for concurrent use.
type Sink struct {
	mu     sync.RWMutex
	events map[domain.SessionToken][]telemetry.Event
}

func NewSink() *Sink {
	return &Sink{events: make(map[domain.SessionToken][]telemetry.Event)}
}

func (s *Sink) Record(ctx context.Context, ev telemetry.Event) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.Session] = append(s.events[ev.Session], ev)
	return nil
}

// List returns session's events in record order.
func (s *Sink) List(ctx context.Context, session domain.SessionToken) ([]telemetry.Event, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]telemetry.Event(nil), s.events[session]...), nil
}
