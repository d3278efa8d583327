package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"live-quiz-service/internal/domain"
)

type sessionModel struct {
	bun.BaseModel `bun:"table:game_sessions,alias:gs"`

	ID        string              `bun:"id,pk"`
	QuizID    string              `bun:"quiz_id"`
	TeacherID string              `bun:"teacher_id"`
	PIN       string              `bun:"pin"`
	Status    string              `bun:"status"`
	Settings  domain.GameSettings `bun:"settings,type:jsonb"`
	CreatedAt time.Time           `bun:"created_at"`
	StartedAt *time.Time          `bun:"started_at"`
	EndedAt   *time.Time          `bun:"ended_at"`
}

func toSessionModel(s domain.GameSession) sessionModel {
	return sessionModel{
		ID:        s.ID,
		QuizID:    s.QuizID,
		TeacherID: s.TeacherID,
		PIN:       domain.NormalizePIN(s.PIN),
		Status:    string(s.Status),
		Settings:  s.Settings,
		CreatedAt: s.CreatedAt,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
	}
}

func (m sessionModel) toDomain() domain.GameSession {
	return domain.GameSession{
		ID:        m.ID,
		QuizID:    m.QuizID,
		TeacherID: m.TeacherID,
		PIN:       m.PIN,
		Status:    domain.SessionStatus(m.Status),
		Settings:  m.Settings,
		CreatedAt: m.CreatedAt,
		StartedAt: m.StartedAt,
		EndedAt:   m.EndedAt,
	}
}

type participantModel struct {
	bun.BaseModel `bun:"table:participants,alias:p"`

	ID                   string    `bun:"id,pk"`
	SessionID            string    `bun:"session_id"`
	UserID               string    `bun:"user_id,nullzero"`
	Nickname             string    `bun:"nickname"`
	Score                int       `bun:"score"`
	CorrectAnswers       int       `bun:"correct_answers"`
	Streak               int       `bun:"streak"`
	CurrentQuestionIndex int       `bun:"current_question_index"`
	JoinedAt             time.Time `bun:"join_time"`
	IsActive             bool      `bun:"is_active"`
}

func toParticipantModel(p domain.Participant) participantModel {
	return participantModel{
		ID:                   p.ID,
		SessionID:            p.SessionID,
		UserID:               p.UserID,
		Nickname:             p.Nickname,
		Score:                p.Score,
		CorrectAnswers:       p.CorrectAnswers,
		Streak:               p.Streak,
		CurrentQuestionIndex: p.CurrentQuestionIndex,
		JoinedAt:             p.JoinedAt,
		IsActive:             p.IsActive,
	}
}

func (m participantModel) toDomain() domain.Participant {
	return domain.Participant{
		ID:                   m.ID,
		SessionID:            m.SessionID,
		UserID:               m.UserID,
		Nickname:             m.Nickname,
		Score:                m.Score,
		CorrectAnswers:       m.CorrectAnswers,
		Streak:               m.Streak,
		CurrentQuestionIndex: m.CurrentQuestionIndex,
		JoinedAt:             m.JoinedAt,
		IsActive:             m.IsActive,
	}
}

func participantsToDomain(rows []participantModel) []domain.Participant {
	out := make([]domain.Participant, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

type answerModel struct {
	bun.BaseModel `bun:"table:answers,alias:a"`

	ID            string    `bun:"id,pk"`
	ParticipantID string    `bun:"participant_id"`
	QuestionID    string    `bun:"question_id"`
	Answer        int       `bun:"answer"`
	IsCorrect     bool      `bun:"is_correct"`
	TimeTaken     int       `bun:"time_taken"`
	PointsEarned  int       `bun:"points_earned"`
	CreatedAt     time.Time `bun:"created_at"`
}

func toAnswerModel(a domain.Answer) answerModel {
	return answerModel{
		ID:            a.ID,
		ParticipantID: a.ParticipantID,
		QuestionID:    a.QuestionID,
		Answer:        a.Answer,
		IsCorrect:     a.IsCorrect,
		TimeTaken:     a.TimeTaken,
		PointsEarned:  a.PointsEarned,
		CreatedAt:     a.CreatedAt,
	}
}

type badgeModel struct {
	bun.BaseModel `bun:"table:badges,alias:b"`

	ID          string `bun:"id,pk"`
	Name        string `bun:"name"`
	Description string `bun:"description"`
	Icon        string `bun:"icon"`
	Rarity      string `bun:"rarity"`
	Requirement string `bun:"requirement"`
	PointsValue int    `bun:"points_value"`
}

func (m badgeModel) toDomain() domain.Badge {
	return domain.Badge{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Icon:        m.Icon,
		Rarity:      domain.Rarity(m.Rarity),
		Requirement: m.Requirement,
		PointsValue: m.PointsValue,
	}
}

type achievementModel struct {
	bun.BaseModel `bun:"table:user_achievements,alias:ua"`

	ID       string    `bun:"id,pk"`
	UserID   string    `bun:"user_id"`
	BadgeID  string    `bun:"badge_id"`
	EarnedAt time.Time `bun:"earned_at"`
	Context  string    `bun:"context"`
}

func toAchievementModel(a domain.Achievement) achievementModel {
	return achievementModel{
		ID:       a.ID,
		UserID:   a.UserID,
		BadgeID:  a.BadgeID,
		EarnedAt: a.EarnedAt,
		Context:  a.Context,
	}
}

// violationModel has no severity column; severity is derived from the count.
type violationModel struct {
	bun.BaseModel `bun:"table:security_violations,alias:sv"`

	ID             string    `bun:"id,pk"`
	SessionID      string    `bun:"session_id"`
	ParticipantID  string    `bun:"participant_id"`
	ViolationType  string    `bun:"violation_type"`
	ViolationCount int       `bun:"violation_count"`
	DetectedAt     time.Time `bun:"detected_at"`
	UpdatedAt      time.Time `bun:"updated_at"`
}

func (m violationModel) toDomain() domain.SecurityViolation {
	return domain.SecurityViolation{
		ID:             m.ID,
		SessionID:      m.SessionID,
		ParticipantID:  m.ParticipantID,
		ViolationType:  domain.ViolationType(m.ViolationType),
		ViolationCount: m.ViolationCount,
		Severity:       domain.SeverityFor(m.ViolationCount),
		DetectedAt:     m.DetectedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

type sessionScoreModel struct {
	bun.BaseModel `bun:"table:session_scores,alias:ss"`

	UserID       string    `bun:"user_id,pk"`
	SessionID    string    `bun:"session_id,pk"`
	SessionScore int       `bun:"session_score"`
	RecordedAt   time.Time `bun:"recorded_at"`
}

func toSessionScoreModel(s domain.SessionScore) sessionScoreModel {
	return sessionScoreModel{
		UserID:       s.UserID,
		SessionID:    s.SessionID,
		SessionScore: s.SessionScore,
		RecordedAt:   s.RecordedAt,
	}
}

func (m sessionScoreModel) toDomain() domain.SessionScore {
	return domain.SessionScore{
		UserID:       m.UserID,
		SessionID:    m.SessionID,
		SessionScore: m.SessionScore,
		RecordedAt:   m.RecordedAt,
	}
}

type cumulativeModel struct {
	bun.BaseModel `bun:"table:cumulative_scores,alias:cs"`

	UserID               string    `bun:"user_id,pk"`
	TotalScore           int       `bun:"total_score"`
	SessionsParticipated int       `bun:"sessions_participated"`
	BestScore            int       `bun:"best_score"`
	AverageScore         float64   `bun:"average_score"`
	UpdatedAt            time.Time `bun:"updated_at"`
}

func toCumulativeModel(c domain.CumulativeScore) cumulativeModel {
	return cumulativeModel{
		UserID:               c.UserID,
		TotalScore:           c.TotalScore,
		SessionsParticipated: c.SessionsParticipated,
		BestScore:            c.BestScore,
		AverageScore:         c.AverageScore,
		UpdatedAt:            c.UpdatedAt,
	}
}

func (m cumulativeModel) toDomain() domain.CumulativeScore {
	return domain.CumulativeScore{
		UserID:               m.UserID,
		TotalScore:           m.TotalScore,
		SessionsParticipated: m.SessionsParticipated,
		BestScore:            m.BestScore,
		AverageScore:         m.AverageScore,
		UpdatedAt:            m.UpdatedAt,
	}
}
