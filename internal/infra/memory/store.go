package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

var _ app.Store = (*Store)(nil)

// Store is an in-memory implementation of app.Store. Unique keys mirror the
// relational schema so claims behave the same as in Postgres.
type Store struct {
	mu           sync.RWMutex
	sessions     map[string]domain.GameSession
	pins         map[string]string
	participants map[string]domain.Participant
	order        map[string][]string // session -> participant IDs in join order
	answers      map[answerKey]domain.Answer
	badges       []domain.Badge
	achievements map[achievementKey]domain.Achievement
	violations   map[violationKey]domain.SecurityViolation
	scores       map[scoreKey]domain.SessionScore
	cumulative   map[string]domain.CumulativeScore
}

type answerKey struct{ participantID, questionID string }

type achievementKey struct{ userID, badgeID string }

type violationKey struct {
	sessionID     string
	participantID string
	violationType domain.ViolationType
}

type scoreKey struct{ userID, sessionID string }

// NewStore returns an empty store seeded with the default badge catalog.
func NewStore() *Store {
	return &Store{
		sessions:     make(map[string]domain.GameSession),
		pins:         make(map[string]string),
		participants: make(map[string]domain.Participant),
		order:        make(map[string][]string),
		answers:      make(map[answerKey]domain.Answer),
		badges:       domain.DefaultBadges(),
		achievements: make(map[achievementKey]domain.Achievement),
		violations:   make(map[violationKey]domain.SecurityViolation),
		scores:       make(map[scoreKey]domain.SessionScore),
		cumulative:   make(map[string]domain.CumulativeScore),
	}
}

func (s *Store) CreateSession(_ context.Context, session domain.GameSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.pins[session.PIN]; taken {
		return domain.ErrDuplicatePIN
	}
	s.sessions[session.ID] = session
	s.pins[session.PIN] = session.ID
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID string) (domain.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) GetSessionByPIN(_ context.Context, pin string) (domain.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pins[domain.NormalizePIN(pin)]
	if !ok {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	return s.sessions[id], nil
}

func (s *Store) StartSession(_ context.Context, sessionID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	if session.Status != domain.SessionWaiting {
		return false, nil
	}
	session.Status = domain.SessionActive
	session.StartedAt = &at
	s.sessions[sessionID] = session
	return true, nil
}

func (s *Store) CompleteSession(_ context.Context, sessionID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	if session.Status == domain.SessionCompleted {
		return false, nil
	}
	session.Status = domain.SessionCompleted
	session.EndedAt = &at
	s.sessions[sessionID] = session
	return true, nil
}

func (s *Store) AddParticipant(_ context.Context, participant domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[participant.SessionID]; !ok {
		return domain.ErrSessionNotFound
	}
	if _, exists := s.participants[participant.ID]; !exists {
		s.order[participant.SessionID] = append(s.order[participant.SessionID], participant.ID)
	}
	s.participants[participant.ID] = participant
	return nil
}

func (s *Store) GetParticipant(_ context.Context, participantID string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[participantID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return p, nil
}

func (s *Store) ListParticipants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(sessionID), nil
}

func (s *Store) listLocked(sessionID string) []domain.Participant {
	ids := s.order[sessionID]
	out := make([]domain.Participant, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.participants[id])
	}
	return out
}

func (s *Store) ProgressCursors(_ context.Context, sessionID string) ([]domain.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.order[sessionID]
	out := make([]domain.Cursor, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Cursor{
			ParticipantID:        id,
			CurrentQuestionIndex: s.participants[id].CurrentQuestionIndex,
		})
	}
	return out, nil
}

func (s *Store) TopParticipants(_ context.Context, sessionID string, limit int) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.listLocked(sessionID)
	domain.RankParticipants(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ApplyAnswer(_ context.Context, participantID string, delta domain.ScoreDelta) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	p.Score += delta.Points
	if delta.Correct {
		p.Streak++
		p.CorrectAnswers++
	} else {
		p.Streak = 0
	}
	if next := delta.Index + 1; next > p.CurrentQuestionIndex {
		p.CurrentQuestionIndex = next
	}
	s.participants[participantID] = p
	return p, nil
}

func (s *Store) CountGamesPlayed(_ context.Context, userID, excludeSessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, p := range s.participants {
		if p.UserID == userID && p.SessionID != excludeSessionID {
			seen[p.SessionID] = struct{}{}
		}
	}
	return len(seen), nil
}

func (s *Store) InsertAnswer(_ context.Context, answer domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answerKey{answer.ParticipantID, answer.QuestionID}
	if _, exists := s.answers[key]; exists {
		return domain.ErrDuplicateAnswer
	}
	s.answers[key] = answer
	return nil
}

// Answers returns every recorded answer of a participant.
func (s *Store) Answers(participantID string) []domain.Answer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Answer
	for key, a := range s.answers {
		if key.participantID == participantID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) ListBadges(_ context.Context) ([]domain.Badge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Badge(nil), s.badges...), nil
}

func (s *Store) HasAchievement(_ context.Context, userID, badgeID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.achievements[achievementKey{userID, badgeID}]
	return ok, nil
}

func (s *Store) AwardAchievement(_ context.Context, achievement domain.Achievement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := achievementKey{achievement.UserID, achievement.BadgeID}
	if _, ok := s.achievements[key]; ok {
		return domain.ErrDuplicateAchievement
	}
	s.achievements[key] = achievement
	return nil
}

func (s *Store) ListAchievements(_ context.Context, userID string) ([]domain.EarnedBadge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	catalog := make(map[string]domain.Badge, len(s.badges))
	for _, b := range s.badges {
		catalog[b.ID] = b
	}
	out := make([]domain.EarnedBadge, 0)
	for key, a := range s.achievements {
		if key.userID != userID {
			continue
		}
		badge, ok := catalog[a.BadgeID]
		if !ok {
			continue
		}
		out = append(out, domain.EarnedBadge{Badge: badge, EarnedAt: a.EarnedAt, Context: a.Context})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EarnedAt.Equal(out[j].EarnedAt) {
			return out[i].EarnedAt.After(out[j].EarnedAt)
		}
		return out[i].Badge.ID < out[j].Badge.ID
	})
	return out, nil
}

func (s *Store) IncrementViolation(_ context.Context, sessionID, participantID string, violationType domain.ViolationType, at time.Time) (domain.SecurityViolation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := violationKey{sessionID, participantID, violationType}
	row, ok := s.violations[key]
	if !ok {
		row = domain.SecurityViolation{
			ID:            uuid.NewString(),
			SessionID:     sessionID,
			ParticipantID: participantID,
			ViolationType: violationType,
			DetectedAt:    at,
		}
	}
	row.ViolationCount++
	row.Severity = domain.SeverityFor(row.ViolationCount)
	row.UpdatedAt = at
	s.violations[key] = row
	return row, nil
}

func (s *Store) ListViolations(_ context.Context, sessionID string) ([]domain.SecurityViolation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SecurityViolation
	for key, row := range s.violations {
		if key.sessionID == sessionID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ParticipantID != out[j].ParticipantID {
			return out[i].ParticipantID < out[j].ParticipantID
		}
		return out[i].ViolationType < out[j].ViolationType
	})
	return out, nil
}

func (s *Store) RecordSessionScore(_ context.Context, score domain.SessionScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[scoreKey{score.UserID, score.SessionID}] = score
	return nil
}

func (s *Store) RecomputeCumulative(_ context.Context, userID string, at time.Time) (domain.CumulativeScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ledger []domain.SessionScore
	for key, row := range s.scores {
		if key.userID == userID {
			ledger = append(ledger, row)
		}
	}
	sort.Slice(ledger, func(i, j int) bool { return ledger[i].SessionID < ledger[j].SessionID })
	rollup := domain.RollupScores(userID, ledger, at)
	s.cumulative[userID] = rollup
	return rollup, nil
}

func (s *Store) CumulativeLeaderboard(_ context.Context, limit int) ([]domain.CumulativeScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CumulativeScore, 0, len(s.cumulative))
	for _, row := range s.cumulative {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalScore != out[j].TotalScore {
			return out[i].TotalScore > out[j].TotalScore
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
