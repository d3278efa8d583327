// Package feed is the row-change notification feed. Delivery is best-effort
// and at-least-once; consumers pair it with polling.
package feed

import (
	"context"
	"sync"

	"live-quiz-service/internal/domain"
)

// Table names a source of row changes.
type Table string

const (
	TableSessions     Table = "game_sessions"
	TableParticipants Table = "participants"
	TableViolations   Table = "security_violations"
)

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event carries the new row image for exactly one of its typed fields.
type Event struct {
	Table       Table                     `json:"table"`
	Type        EventType                 `json:"type"`
	Session     *domain.GameSession       `json:"session,omitempty"`
	Participant *domain.Participant       `json:"participant,omitempty"`
	Violation   *domain.SecurityViolation `json:"violation,omitempty"`
}

// SessionID returns the session the row belongs to.
func (e Event) SessionID() string {
	switch {
	case e.Session != nil:
		return e.Session.ID
	case e.Participant != nil:
		return e.Participant.SessionID
	case e.Violation != nil:
		return e.Violation.SessionID
	}
	return ""
}

// Filter selects events for a subscription. A nil Filter matches everything.
type Filter func(Event) bool

// InSession matches rows that belong to sessionID.
func InSession(sessionID string) Filter {
	return func(e Event) bool { return e.SessionID() == sessionID }
}

// Handle cancels a subscription. Unsubscribe is idempotent; once it returns
// the callback is not invoked again. It must not be called from inside the
// subscription's own callback.
type Handle interface {
	Unsubscribe()
}

// Feed publishes and subscribes to row changes.
type Feed interface {
	Subscribe(ctx context.Context, table Table, filter Filter, fn func(Event)) (Handle, error)
	Publish(ctx context.Context, ev Event) error
}

// Publisher is the write half of a Feed.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// subscription serialises callback invocation with Unsubscribe so no callback
// starts after Unsubscribe returns.
type subscription struct {
	table   Table
	filter  Filter
	fn      func(Event)
	release func()

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func (s *subscription) matches(ev Event) bool {
	if ev.Table != s.table {
		return false
	}
	return s.filter == nil || s.filter(ev)
}

func (s *subscription) deliver(ev Event) {
	if !s.matches(ev) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fn(ev)
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if s.release != nil {
			s.release()
		}
	})
}
