package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/feed"
)

const (
	pinLength      = 6
	pinAlphabet    = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	maxPINAttempts = 10
)

// Lobby owns the session lifecycle outside of gameplay: creating sessions,
// joining by PIN, and starting.
type Lobby struct {
	sessions     SessionRepository
	participants ParticipantRepository
	quizzes      QuizRepository
	pins         PINRegistry
	publisher    feed.Publisher
	logger       *zap.Logger
	now          func() time.Time
	newPIN       func() (string, error)
}

// NewLobby builds a Lobby. pins may be nil, in which case the store's unique
// PIN constraint is the only claim.
func NewLobby(store Store, quizzes QuizRepository, pins PINRegistry, publisher feed.Publisher, logger *zap.Logger) *Lobby {
	return &Lobby{
		sessions:     store,
		participants: store,
		quizzes:      quizzes,
		pins:         pins,
		publisher:    publisher,
		logger:       logger,
		now:          time.Now,
		newPIN:       GeneratePIN,
	}
}

// GeneratePIN returns a random 6 character uppercase alphanumeric code.
func GeneratePIN() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(pinAlphabet)))
	for i := 0; i < pinLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(pinAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// CreateSession creates a waiting session for a quiz under a fresh PIN.
func (l *Lobby) CreateSession(ctx context.Context, quizID, teacherID string, settings domain.GameSettings) (domain.GameSession, error) {
	// Preload quiz into cache; sessions cannot be created for unknown quizzes.
	if _, err := l.quizzes.GetQuiz(ctx, quizID); err != nil {
		return domain.GameSession{}, err
	}

	for attempt := 0; attempt < maxPINAttempts; attempt++ {
		pin, err := l.newPIN()
		if err != nil {
			return domain.GameSession{}, fmt.Errorf("generate pin: %w", err)
		}
		session := domain.GameSession{
			ID:        uuid.NewString(),
			QuizID:    quizID,
			TeacherID: teacherID,
			PIN:       pin,
			Status:    domain.SessionWaiting,
			Settings:  settings,
			CreatedAt: l.now(),
		}

		if l.pins != nil {
			ok, err := l.pins.Reserve(ctx, pin, session.ID)
			if err != nil {
				return domain.GameSession{}, fmt.Errorf("reserve pin: %w", err)
			}
			if !ok {
				continue
			}
		}

		err = l.sessions.CreateSession(ctx, session)
		if err != nil {
			l.releasePIN(ctx, pin)
		}
		if errors.Is(err, domain.ErrDuplicatePIN) {
			continue
		}
		if err != nil {
			return domain.GameSession{}, fmt.Errorf("create session: %w", err)
		}
		l.logger.Info("session created", zap.String("session_id", session.ID), zap.String("pin", pin))
		return session, nil
	}
	return domain.GameSession{}, domain.ErrDuplicatePIN
}

func (l *Lobby) releasePIN(ctx context.Context, pin string) {
	if l.pins == nil {
		return
	}
	if err := l.pins.Release(ctx, pin); err != nil {
		l.logger.Warn("release pin failed", zap.String("pin", pin), zap.Error(err))
	}
}

// JoinByPIN resolves a PIN case-insensitively and adds a participant. Unknown
// PINs and completed sessions are rejected with user-facing errors.
func (l *Lobby) JoinByPIN(ctx context.Context, pin, nickname, userID string) (domain.GameSession, domain.Participant, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return domain.GameSession{}, domain.Participant{}, domain.ErrNicknameRequired
	}

	session, err := l.resolvePIN(ctx, domain.NormalizePIN(pin))
	if errors.Is(err, domain.ErrSessionNotFound) {
		return domain.GameSession{}, domain.Participant{}, domain.ErrInvalidPIN
	}
	if err != nil {
		return domain.GameSession{}, domain.Participant{}, err
	}
	if session.Status == domain.SessionCompleted {
		return domain.GameSession{}, domain.Participant{}, domain.ErrSessionEnded
	}

	participant := domain.Participant{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		UserID:    userID,
		Nickname:  nickname,
		JoinedAt:  l.now(),
		IsActive:  true,
	}
	if err := l.participants.AddParticipant(ctx, participant); err != nil {
		return domain.GameSession{}, domain.Participant{}, fmt.Errorf("add participant: %w", err)
	}
	l.publish(ctx, feed.Event{Table: feed.TableParticipants, Type: feed.EventInsert, Participant: &participant})
	return session, participant, nil
}

func (l *Lobby) resolvePIN(ctx context.Context, pin string) (domain.GameSession, error) {
	if l.pins != nil {
		sessionID, ok, err := l.pins.Lookup(ctx, pin)
		if err != nil {
			l.logger.Warn("pin registry lookup failed", zap.String("pin", pin), zap.Error(err))
		} else if ok {
			return l.sessions.GetSession(ctx, sessionID)
		}
	}
	return l.sessions.GetSessionByPIN(ctx, pin)
}

// StartSession moves a waiting session with at least one participant to active.
func (l *Lobby) StartSession(ctx context.Context, sessionID string) (domain.GameSession, error) {
	session, err := l.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.GameSession{}, err
	}
	participants, err := l.participants.ListParticipants(ctx, sessionID)
	if err != nil {
		return domain.GameSession{}, fmt.Errorf("list participants: %w", err)
	}
	if len(participants) == 0 {
		return domain.GameSession{}, domain.ErrNoParticipants
	}
	// Pin the quiz before anyone plays; players read this snapshot until the
	// session completes.
	if _, err := l.quizzes.PinSession(ctx, sessionID, session.QuizID); err != nil {
		return domain.GameSession{}, err
	}

	started, err := l.sessions.StartSession(ctx, sessionID, l.now())
	if err != nil {
		return domain.GameSession{}, fmt.Errorf("start session: %w", err)
	}
	if !started {
		return domain.GameSession{}, domain.ErrSessionNotWaiting
	}

	session, err = l.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.GameSession{}, err
	}
	l.publish(ctx, feed.Event{Table: feed.TableSessions, Type: feed.EventUpdate, Session: &session})
	l.logger.Info("session started", zap.String("session_id", sessionID), zap.Int("participants", len(participants)))
	return session, nil
}

// Session returns a session by ID.
func (l *Lobby) Session(ctx context.Context, sessionID string) (domain.GameSession, error) {
	return l.sessions.GetSession(ctx, sessionID)
}

// Roster returns a session's participants in join order.
func (l *Lobby) Roster(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	return l.participants.ListParticipants(ctx, sessionID)
}

func (l *Lobby) publish(ctx context.Context, ev feed.Event) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, ev); err != nil {
		l.logger.Warn("publish event failed", zap.String("table", string(ev.Table)), zap.Error(err))
	}
}

// Rejoin resumes an existing participant, e.g. after a dropped connection.
func (l *Lobby) Rejoin(ctx context.Context, participantID string) (domain.GameSession, domain.Participant, error) {
	participant, err := l.participants.GetParticipant(ctx, participantID)
	if err != nil {
		return domain.GameSession{}, domain.Participant{}, err
	}
	session, err := l.sessions.GetSession(ctx, participant.SessionID)
	if err != nil {
		return domain.GameSession{}, domain.Participant{}, err
	}
	return session, participant, nil
}
