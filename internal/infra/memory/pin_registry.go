package memory

import (
	"context"
	"sync"
	"time"

	"live-quiz-service/internal/domain"
)

// PINRegistry maps live join codes to sessions in process memory.
type PINRegistry struct {
	ttl   time.Duration
	clock func() time.Time

	mu   sync.Mutex
	pins map[string]pinEntry
}

type pinEntry struct {
	sessionID string
	expiresAt time.Time
}

// NewPINRegistry returns a registry whose entries live for ttl; zero keeps them forever.
func NewPINRegistry(ttl time.Duration) *PINRegistry {
	return &PINRegistry{
		ttl:   ttl,
		clock: time.Now,
		pins:  make(map[string]pinEntry),
	}
}

func (r *PINRegistry) Reserve(_ context.Context, pin, sessionID string) (bool, error) {
	pin = domain.NormalizePIN(pin)
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.pins[pin]; ok && !r.expired(entry) {
		return false, nil
	}
	entry := pinEntry{sessionID: sessionID}
	if r.ttl > 0 {
		entry.expiresAt = r.clock().Add(r.ttl)
	}
	r.pins[pin] = entry
	return true, nil
}

func (r *PINRegistry) Lookup(_ context.Context, pin string) (string, bool, error) {
	pin = domain.NormalizePIN(pin)
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.pins[pin]
	if !ok {
		return "", false, nil
	}
	if r.expired(entry) {
		delete(r.pins, pin)
		return "", false, nil
	}
	return entry.sessionID, true, nil
}

func (r *PINRegistry) Release(_ context.Context, pin string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pins, domain.NormalizePIN(pin))
	return nil
}

func (r *PINRegistry) expired(entry pinEntry) bool {
	return !entry.expiresAt.IsZero() && !entry.expiresAt.After(r.clock())
}
