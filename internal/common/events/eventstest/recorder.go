// Package eventstest provides an EventPublisher that keeps what it is given,
// for asserting which events a service published.
package eventstest

import (
	"context"
	"sync"

	"motelbooking/internal/common/events"
)

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *Recorder) Publish(_ context.Context, event *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Types returns the types of recorded events in publish order
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*events.Event(nil), r.events...)
}
