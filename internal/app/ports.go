package app

import (
	"context"
	"time"

	"live-quiz-service/internal/domain"
)

// QuizRepository loads quiz snapshots (from cache/backing store). Returned
// quizzes are normalized: questions sorted by position with defaults applied.
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	// PinSession stores the snapshot a session plays until ReleaseSession.
	// Repeated calls return the first snapshot.
	PinSession(ctx context.Context, sessionID, quizID string) (domain.Quiz, error)
	// SessionQuiz returns the pinned snapshot, falling back to GetQuiz.
	SessionQuiz(ctx context.Context, sessionID, quizID string) (domain.Quiz, error)
	ReleaseSession(ctx context.Context, sessionID string) error
}

// SessionRepository persists game sessions.
type SessionRepository interface {
	// CreateSession returns domain.ErrDuplicatePIN when the PIN is taken.
	CreateSession(ctx context.Context, session domain.GameSession) error
	GetSession(ctx context.Context, sessionID string) (domain.GameSession, error)
	GetSessionByPIN(ctx context.Context, pin string) (domain.GameSession, error)
	// StartSession moves waiting -> active and reports whether it transitioned.
	StartSession(ctx context.Context, sessionID string, at time.Time) (bool, error)
	// CompleteSession moves any non-completed session to completed and reports
	// whether this call performed the transition.
	CompleteSession(ctx context.Context, sessionID string, at time.Time) (bool, error)
}

// ParticipantRepository persists participants and their progression.
type ParticipantRepository interface {
	AddParticipant(ctx context.Context, participant domain.Participant) error
	GetParticipant(ctx context.Context, participantID string) (domain.Participant, error)
	// ListParticipants returns participants in join order.
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	ProgressCursors(ctx context.Context, sessionID string) ([]domain.Cursor, error)
	// TopParticipants orders by score desc, then join order.
	TopParticipants(ctx context.Context, sessionID string, limit int) ([]domain.Participant, error)
	// ApplyAnswer atomically adds points, updates streak and correct count, and
	// moves the cursor forward (never backward). Returns the updated row.
	ApplyAnswer(ctx context.Context, participantID string, delta domain.ScoreDelta) (domain.Participant, error)
	// CountGamesPlayed counts sessions the user joined other than excludeSessionID.
	CountGamesPlayed(ctx context.Context, userID, excludeSessionID string) (int, error)
}

// AnswerRepository records answers. InsertAnswer is the atomic claim for a
// (participant, question) pair and returns domain.ErrDuplicateAnswer on conflict.
type AnswerRepository interface {
	InsertAnswer(ctx context.Context, answer domain.Answer) error
}

// AchievementRepository reads the badge catalog and records earned badges.
type AchievementRepository interface {
	ListBadges(ctx context.Context) ([]domain.Badge, error)
	HasAchievement(ctx context.Context, userID, badgeID string) (bool, error)
	// ListAchievements returns a user's earned badges, newest first.
	ListAchievements(ctx context.Context, userID string) ([]domain.EarnedBadge, error)
	// AwardAchievement returns domain.ErrDuplicateAchievement on conflict.
	AwardAchievement(ctx context.Context, achievement domain.Achievement) error
}

// ViolationRepository keeps one counter row per (session, participant, type).
type ViolationRepository interface {
	IncrementViolation(ctx context.Context, sessionID, participantID string, violationType domain.ViolationType, at time.Time) (domain.SecurityViolation, error)
	ListViolations(ctx context.Context, sessionID string) ([]domain.SecurityViolation, error)
}

// ScoreRepository is the session-score ledger and cumulative rollups.
type ScoreRepository interface {
	// RecordSessionScore upserts on (user, session).
	RecordSessionScore(ctx context.Context, score domain.SessionScore) error
	// RecomputeCumulative rebuilds and upserts the user's rollup from the ledger.
	RecomputeCumulative(ctx context.Context, userID string, at time.Time) (domain.CumulativeScore, error)
	CumulativeLeaderboard(ctx context.Context, limit int) ([]domain.CumulativeScore, error)
}

// Store is the full data-access surface.
type Store interface {
	SessionRepository
	ParticipantRepository
	AnswerRepository
	AchievementRepository
	ViolationRepository
	ScoreRepository
}

// PINRegistry claims join codes across instances. Reserve reports false when
// the PIN is already held.
type PINRegistry interface {
	Reserve(ctx context.Context, pin, sessionID string) (bool, error)
	Lookup(ctx context.Context, pin string) (string, bool, error)
	Release(ctx context.Context, pin string) error
}
