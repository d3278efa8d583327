package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	// TimeoutAnswer is the sentinel option recorded when the countdown expires.
	TimeoutAnswer = -1

	// DefaultQuestionPoints applies to questions stored without a point value.
	DefaultQuestionPoints = 100
	// DefaultQuestionTimeLimit applies when neither question nor quiz sets a limit (seconds).
	DefaultQuestionTimeLimit = 30
)

// Question is a multiple choice question with exactly one correct option.
type Question struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correct_answer"`
	Points        int      `json:"points"`
	TimeLimit     int      `json:"time_limit"` // seconds
	Explanation   string   `json:"explanation,omitempty"`
	Position      int      `json:"order_index"`
}

// Quiz is an ordered collection of questions. Sessions hold a snapshot of it.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	TimeLimit int        `json:"time_limit"`
	Questions []Question `json:"questions"`
}

// Normalize sorts questions by position, fills defaults, and validates shape:
// positions must be unique and contiguous, and every correct answer must index
// an existing option.
func (q Quiz) Normalize() (Quiz, error) {
	out := q
	out.Questions = make([]Question, len(q.Questions))
	copy(out.Questions, q.Questions)
	sort.SliceStable(out.Questions, func(i, j int) bool {
		return out.Questions[i].Position < out.Questions[j].Position
	})

	for i := range out.Questions {
		question := &out.Questions[i]
		if i > 0 && question.Position != out.Questions[i-1].Position+1 {
			return Quiz{}, fmt.Errorf("%w: question positions not contiguous at %q", ErrInvalidQuiz, question.ID)
		}
		if len(question.Options) == 0 {
			return Quiz{}, fmt.Errorf("%w: question %q has no options", ErrInvalidQuiz, question.ID)
		}
		if question.CorrectAnswer < 0 || question.CorrectAnswer >= len(question.Options) {
			return Quiz{}, fmt.Errorf("%w: question %q correct answer out of range", ErrInvalidQuiz, question.ID)
		}
		if question.Points <= 0 {
			question.Points = DefaultQuestionPoints
		}
		if question.TimeLimit <= 0 {
			question.TimeLimit = q.TimeLimit
		}
		if question.TimeLimit <= 0 {
			question.TimeLimit = DefaultQuestionTimeLimit
		}
	}
	return out, nil
}

// QuestionAt returns the question at a zero-based position in the sorted quiz.
func (q Quiz) QuestionAt(index int) (Question, bool) {
	if index < 0 || index >= len(q.Questions) {
		return Question{}, false
	}
	return q.Questions[index], true
}

// SessionStatus is the lifecycle of a game session.
type SessionStatus string

const (
	SessionWaiting   SessionStatus = "waiting"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// GameSettings are the teacher's per-session toggles.
type GameSettings struct {
	ShowLeaderboard    bool `json:"show_leaderboard"`
	AllowPowerups      bool `json:"allow_powerups"`
	ShuffleQuestions   bool `json:"shuffle_questions"`
	ShowCorrectAnswers bool `json:"show_correct_answers"`
	TimePressure       bool `json:"time_pressure"`
	BonusPoints        bool `json:"bonus_points"`
}

// GameSession is one play-through of a quiz identified by a PIN.
type GameSession struct {
	ID        string        `json:"id"`
	QuizID    string        `json:"quiz_id"`
	TeacherID string        `json:"teacher_id"`
	PIN       string        `json:"pin"`
	Status    SessionStatus `json:"status"`
	Settings  GameSettings  `json:"settings"`
	CreatedAt time.Time     `json:"created_at"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// NormalizePIN upper-cases and trims a user supplied join code.
func NormalizePIN(pin string) string {
	return strings.ToUpper(strings.TrimSpace(pin))
}

// Participant is one player's membership and progress in a session.
type Participant struct {
	ID                   string    `json:"id"`
	SessionID            string    `json:"session_id"`
	UserID               string    `json:"user_id,omitempty"`
	Nickname             string    `json:"nickname"`
	Score                int       `json:"score"`
	CorrectAnswers       int       `json:"correct_answers"`
	Streak               int       `json:"streak"`
	CurrentQuestionIndex int       `json:"current_question_index"`
	JoinedAt             time.Time `json:"join_time"`
	IsActive             bool      `json:"is_active"`
}

// Finished reports whether the participant has moved past the last question.
func (p Participant) Finished(questionCount int) bool {
	return p.CurrentQuestionIndex >= questionCount
}

// Cursor is the progression position of one participant.
type Cursor struct {
	ParticipantID        string `json:"participant_id"`
	CurrentQuestionIndex int    `json:"current_question_index"`
}

// ScoreDelta is applied atomically to a participant after an answer. Index is
// the question position that was answered; the cursor moves to Index+1 unless
// it is already further ahead.
type ScoreDelta struct {
	Index   int
	Points  int
	Correct bool
}

// Answer is an immutable record of one submission.
type Answer struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participant_id"`
	QuestionID    string    `json:"question_id"`
	Answer        int       `json:"answer"`
	IsCorrect     bool      `json:"is_correct"`
	TimeTaken     int       `json:"time_taken"`
	PointsEarned  int       `json:"points_earned"`
	CreatedAt     time.Time `json:"created_at"`
}

// LeaderboardEntry is a snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	ParticipantID  string `json:"participantId"`
	UserID         string `json:"userId,omitempty"`
	Nickname       string `json:"nickname"`
	Score          int    `json:"score"`
	CorrectAnswers int    `json:"correctAnswers"`
	Streak         int    `json:"streak"`
	Position       int    `json:"position"`
}

// Leaderboard captures the ordered scoreboard for a game session.
type Leaderboard struct {
	SessionID string             `json:"sessionId"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// NewLeaderboard numbers already-ordered participants from 1.
func NewLeaderboard(sessionID string, participants []Participant, now time.Time) Leaderboard {
	entries := make([]LeaderboardEntry, 0, len(participants))
	for i, p := range participants {
		entries = append(entries, LeaderboardEntry{
			ParticipantID:  p.ID,
			UserID:         p.UserID,
			Nickname:       p.Nickname,
			Score:          p.Score,
			CorrectAnswers: p.CorrectAnswers,
			Streak:         p.Streak,
			Position:       i + 1,
		})
	}
	return Leaderboard{SessionID: sessionID, Entries: entries, UpdatedAt: now}
}

// RankParticipants orders by score descending, then join order. The sort is
// stable so rows with identical join times keep store order.
func RankParticipants(participants []Participant) {
	sort.SliceStable(participants, func(i, j int) bool {
		if participants[i].Score != participants[j].Score {
			return participants[i].Score > participants[j].Score
		}
		if !participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].JoinedAt.Before(participants[j].JoinedAt)
		}
		return participants[i].ID < participants[j].ID
	})
}

// SessionScore is the ledger row of a user's final score in one session.
type SessionScore struct {
	UserID       string    `json:"user_id"`
	SessionID    string    `json:"session_id"`
	SessionScore int       `json:"session_score"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// CumulativeScore is a user's rollup across every recorded session.
type CumulativeScore struct {
	UserID               string    `json:"user_id"`
	TotalScore           int       `json:"total_score"`
	SessionsParticipated int       `json:"sessions_participated"`
	BestScore            int       `json:"best_score"`
	AverageScore         float64   `json:"average_score"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// RollupScores recomputes a cumulative score from ledger rows.
func RollupScores(userID string, scores []SessionScore, now time.Time) CumulativeScore {
	out := CumulativeScore{UserID: userID, UpdatedAt: now}
	for i, s := range scores {
		out.TotalScore += s.SessionScore
		if i == 0 || s.SessionScore > out.BestScore {
			out.BestScore = s.SessionScore
		}
	}
	out.SessionsParticipated = len(scores)
	if len(scores) > 0 {
		out.AverageScore = float64(out.TotalScore) / float64(len(scores))
	}
	return out
}
