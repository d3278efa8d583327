package app

import (
	"sync"
	"time"

	"live-quiz-service/internal/domain"
)

// DefaultHubRetention is how long a published leaderboard is replayed to new
// subscribers.
const DefaultHubRetention = 30 * time.Minute

// LeaderboardHub fans finalized and live leaderboards out to lobby viewers.
// The latest board per session is kept for the retention period and then
// dropped.
type LeaderboardHub struct {
	mu          sync.Mutex
	retention   time.Duration
	now         func() time.Time
	subscribers map[string]map[chan domain.Leaderboard]struct{}
	latest      map[string]retainedBoard
}

type retainedBoard struct {
	board       domain.Leaderboard
	publishedAt time.Time
}

// NewLeaderboardHub builds a hub; a non-positive retention uses
// DefaultHubRetention.
func NewLeaderboardHub(retention time.Duration) *LeaderboardHub {
	if retention <= 0 {
		retention = DefaultHubRetention
	}
	return &LeaderboardHub{
		retention:   retention,
		now:         time.Now,
		subscribers: make(map[string]map[chan domain.Leaderboard]struct{}),
		latest:      make(map[string]retainedBoard),
	}
}

// Subscribe returns a channel of leaderboard updates for a session. The
// latest known leaderboard, if any, is delivered first. The caller must
// invoke the returned cancel function to avoid leaks.
func (h *LeaderboardHub) Subscribe(sessionID string) (<-chan domain.Leaderboard, func()) {
	ch := make(chan domain.Leaderboard, 8)

	h.mu.Lock()
	subs, ok := h.subscribers[sessionID]
	if !ok {
		subs = make(map[chan domain.Leaderboard]struct{})
		h.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	if lb, ok := h.latestLocked(sessionID); ok {
		ch <- lb
	}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[sessionID]
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.subscribers, sessionID)
		}
	}
	return ch, cancel
}

// Publish stores lb as the latest for its session and delivers it. Expired
// boards of other sessions are dropped on the way.
func (h *LeaderboardHub) Publish(lb domain.Leaderboard) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	for id, kept := range h.latest {
		if now.Sub(kept.publishedAt) > h.retention {
			delete(h.latest, id)
		}
	}
	h.latest[lb.SessionID] = retainedBoard{board: lb, publishedAt: now}
	for ch := range h.subscribers[lb.SessionID] {
		select {
		case ch <- lb:
		default:
			// Slow viewer: replace its oldest pending update.
			select {
			case <-ch:
			default:
			}
			ch <- lb
		}
	}
}

// Latest returns the most recently published leaderboard for a session.
func (h *LeaderboardHub) Latest(sessionID string) (domain.Leaderboard, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latestLocked(sessionID)
}

func (h *LeaderboardHub) latestLocked(sessionID string) (domain.Leaderboard, bool) {
	kept, ok := h.latest[sessionID]
	if !ok {
		return domain.Leaderboard{}, false
	}
	if h.now().Sub(kept.publishedAt) > h.retention {
		delete(h.latest, sessionID)
		return domain.Leaderboard{}, false
	}
	return kept.board, true
}

// Retained reports how many sessions currently have a kept leaderboard.
func (h *LeaderboardHub) Retained() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.latest)
}
