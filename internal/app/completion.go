package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/feed"
	"live-quiz-service/internal/metrics"
)

// DefaultLeaderboardSize is the number of entries in a finalized leaderboard.
const DefaultLeaderboardSize = 10

// Coordinator decides when a session is done and finalizes it.
type Coordinator struct {
	sessions        SessionRepository
	participants    ParticipantRepository
	scores          ScoreRepository
	quizzes         QuizRepository
	publisher       feed.Publisher
	hub             *LeaderboardHub
	logger          *zap.Logger
	metrics         *metrics.Metrics
	leaderboardSize int
	now             func() time.Time
}

// NewCoordinator builds a Coordinator. quizzes may be nil; otherwise the
// session's pinned quiz is released on completion.
func NewCoordinator(store Store, quizzes QuizRepository, publisher feed.Publisher, hub *LeaderboardHub, logger *zap.Logger, m *metrics.Metrics, leaderboardSize int) *Coordinator {
	if leaderboardSize <= 0 {
		leaderboardSize = DefaultLeaderboardSize
	}
	return &Coordinator{
		sessions:        store,
		participants:    store,
		scores:          store,
		quizzes:         quizzes,
		publisher:       publisher,
		hub:             hub,
		logger:          logger,
		metrics:         m,
		leaderboardSize: leaderboardSize,
		now:             time.Now,
	}
}

// ParticipantFinished is called when a participant's cursor reaches
// questionCount. A lone participant completes the session at once; otherwise
// the session completes only when every cursor has reached questionCount.
func (c *Coordinator) ParticipantFinished(ctx context.Context, sessionID string, questionCount int) (bool, error) {
	cursors, err := c.participants.ProgressCursors(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("load cursors: %w", err)
	}
	if len(cursors) <= 1 {
		return true, c.complete(ctx, sessionID)
	}
	return c.completeIfAllFinished(ctx, sessionID, cursors, questionCount)
}

// CheckSession is the periodic re-check used by players waiting for others.
// It reports true once the session is completed, by anyone.
func (c *Coordinator) CheckSession(ctx context.Context, sessionID string, questionCount int) (bool, error) {
	session, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	if session.Status == domain.SessionCompleted {
		return true, nil
	}
	cursors, err := c.participants.ProgressCursors(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("load cursors: %w", err)
	}
	return c.completeIfAllFinished(ctx, sessionID, cursors, questionCount)
}

func (c *Coordinator) completeIfAllFinished(ctx context.Context, sessionID string, cursors []domain.Cursor, questionCount int) (bool, error) {
	for _, cur := range cursors {
		if cur.CurrentQuestionIndex < questionCount {
			return false, nil
		}
	}
	return true, c.complete(ctx, sessionID)
}

// EndSession is the teacher's force-end. Players observe it through the feed
// or their status poll regardless of their own progress.
func (c *Coordinator) EndSession(ctx context.Context, sessionID string) (domain.Leaderboard, error) {
	if err := c.complete(ctx, sessionID); err != nil {
		return domain.Leaderboard{}, err
	}
	return c.Leaderboard(ctx, sessionID)
}

// complete marks the session completed (once) and finalizes. Finalization runs
// on every call so a transition whose finalize failed is repaired by the next caller.
func (c *Coordinator) complete(ctx context.Context, sessionID string) error {
	transitioned, err := c.sessions.CompleteSession(ctx, sessionID, c.now())
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if transitioned {
		c.metrics.SessionCompleted()
		c.logger.Info("session completed", zap.String("session_id", sessionID))
		c.publishSession(ctx, sessionID)
		if c.quizzes != nil {
			if err := c.quizzes.ReleaseSession(ctx, sessionID); err != nil {
				c.logger.Warn("release session quiz failed", zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}
	_, err = c.Finalize(ctx, sessionID)
	return err
}

func (c *Coordinator) publishSession(ctx context.Context, sessionID string) {
	if c.publisher == nil {
		return
	}
	session, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		c.logger.Warn("reload completed session failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if err := c.publisher.Publish(ctx, feed.Event{Table: feed.TableSessions, Type: feed.EventUpdate, Session: &session}); err != nil {
		c.logger.Warn("publish session completion failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// Finalize records every signed-in participant's final score in the ledger,
// rebuilds their cumulative rollups, and publishes the leaderboard. The ledger
// is keyed by (user, session) and rollups are recomputed from it, so repeated
// calls never double count.
func (c *Coordinator) Finalize(ctx context.Context, sessionID string) (domain.Leaderboard, error) {
	participants, err := c.participants.ListParticipants(ctx, sessionID)
	if err != nil {
		return domain.Leaderboard{}, fmt.Errorf("list participants: %w", err)
	}

	now := c.now()
	users := make(map[string]struct{})
	for _, p := range participants {
		if p.UserID == "" {
			continue
		}
		err := c.scores.RecordSessionScore(ctx, domain.SessionScore{
			UserID:       p.UserID,
			SessionID:    sessionID,
			SessionScore: p.Score,
			RecordedAt:   now,
		})
		if err != nil {
			return domain.Leaderboard{}, fmt.Errorf("record session score: %w", err)
		}
		users[p.UserID] = struct{}{}
	}
	for userID := range users {
		if _, err := c.scores.RecomputeCumulative(ctx, userID, now); err != nil {
			return domain.Leaderboard{}, fmt.Errorf("recompute cumulative score: %w", err)
		}
	}

	lb, err := c.Leaderboard(ctx, sessionID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	if c.hub != nil {
		c.hub.Publish(lb)
	}
	return lb, nil
}

// Leaderboard returns the top participants of a session.
func (c *Coordinator) Leaderboard(ctx context.Context, sessionID string) (domain.Leaderboard, error) {
	top, err := c.participants.TopParticipants(ctx, sessionID, c.leaderboardSize)
	if err != nil {
		return domain.Leaderboard{}, fmt.Errorf("load leaderboard: %w", err)
	}
	return domain.NewLeaderboard(sessionID, top, c.now()), nil
}

// CumulativeLeaderboard returns the top users across all sessions.
func (c *Coordinator) CumulativeLeaderboard(ctx context.Context, limit int) ([]domain.CumulativeScore, error) {
	if limit <= 0 {
		limit = c.leaderboardSize
	}
	return c.scores.CumulativeLeaderboard(ctx, limit)
}
