package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

var _ app.Store = (*Store)(nil)

const uniqueViolation = "23505"

// OpenDB opens a bun handle over pgdriver.
func OpenDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// Store is the relational system of record. Claims and counters rely on the
// unique constraints created by the migrations.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == uniqueViolation
}

func (s *Store) CreateSession(ctx context.Context, session domain.GameSession) error {
	m := toSessionModel(session)
	_, err := s.db.NewInsert().Model(&m).Exec(ctx)
	if isUniqueViolation(err) {
		return domain.ErrDuplicatePIN
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.GameSession, error) {
	var m sessionModel
	err := s.db.NewSelect().Model(&m).Where("id = ?", sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.GameSession{}, fmt.Errorf("select session: %w", err)
	}
	return m.toDomain(), nil
}

func (s *Store) GetSessionByPIN(ctx context.Context, pin string) (domain.GameSession, error) {
	var m sessionModel
	err := s.db.NewSelect().Model(&m).Where("pin = ?", domain.NormalizePIN(pin)).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.GameSession{}, fmt.Errorf("select session by pin: %w", err)
	}
	return m.toDomain(), nil
}

func (s *Store) StartSession(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*sessionModel)(nil)).
		Set("status = ?", domain.SessionActive).
		Set("started_at = ?", at).
		Where("id = ?", sessionID).
		Where("status = ?", domain.SessionWaiting).
		Exec(ctx)
	return s.transitioned(ctx, sessionID, res, err)
}

func (s *Store) CompleteSession(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*sessionModel)(nil)).
		Set("status = ?", domain.SessionCompleted).
		Set("ended_at = ?", at).
		Where("id = ?", sessionID).
		Where("status <> ?", domain.SessionCompleted).
		Exec(ctx)
	return s.transitioned(ctx, sessionID, res, err)
}

// transitioned distinguishes "already in the target state" from "no such
// session" when a guarded update touched no rows.
func (s *Store) transitioned(ctx context.Context, sessionID string, res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("update session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) AddParticipant(ctx context.Context, participant domain.Participant) error {
	m := toParticipantModel(participant)
	if _, err := s.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, participantID string) (domain.Participant, error) {
	var m participantModel
	err := s.db.NewSelect().Model(&m).Where("id = ?", participantID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("select participant: %w", err)
	}
	return m.toDomain(), nil
}

func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	var rows []participantModel
	err := s.db.NewSelect().Model(&rows).
		Where("session_id = ?", sessionID).
		Order("join_time ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return participantsToDomain(rows), nil
}

func (s *Store) ProgressCursors(ctx context.Context, sessionID string) ([]domain.Cursor, error) {
	var cursors []domain.Cursor
	err := s.db.NewSelect().Model((*participantModel)(nil)).
		ColumnExpr("id AS participant_id").
		Column("current_question_index").
		Where("session_id = ?", sessionID).
		Scan(ctx, &cursors)
	if err != nil {
		return nil, fmt.Errorf("load cursors: %w", err)
	}
	return cursors, nil
}

func (s *Store) TopParticipants(ctx context.Context, sessionID string, limit int) ([]domain.Participant, error) {
	var rows []participantModel
	q := s.db.NewSelect().Model(&rows).
		Where("session_id = ?", sessionID).
		Order("score DESC", "join_time ASC", "id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("top participants: %w", err)
	}
	return participantsToDomain(rows), nil
}

// ApplyAnswer is one UPDATE: the score delta is added in SQL and the cursor
// only moves forward.
func (s *Store) ApplyAnswer(ctx context.Context, participantID string, delta domain.ScoreDelta) (domain.Participant, error) {
	var m participantModel
	q := s.db.NewUpdate().Model(&m).
		Set("score = score + ?", delta.Points).
		Set("current_question_index = GREATEST(current_question_index, ?)", delta.Index+1).
		Where("id = ?", participantID).
		Returning("*")
	if delta.Correct {
		q = q.Set("streak = streak + 1").Set("correct_answers = correct_answers + 1")
	} else {
		q = q.Set("streak = 0")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("apply answer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return m.toDomain(), nil
}

func (s *Store) CountGamesPlayed(ctx context.Context, userID, excludeSessionID string) (int, error) {
	var n int
	err := s.db.NewSelect().Model((*participantModel)(nil)).
		ColumnExpr("COUNT(DISTINCT session_id)").
		Where("user_id = ?", userID).
		Where("session_id <> ?", excludeSessionID).
		Scan(ctx, &n)
	if err != nil {
		return 0, fmt.Errorf("count games played: %w", err)
	}
	return n, nil
}

func (s *Store) InsertAnswer(ctx context.Context, answer domain.Answer) error {
	m := toAnswerModel(answer)
	res, err := s.db.NewInsert().Model(&m).
		On("CONFLICT (participant_id, question_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrDuplicateAnswer
	}
	return nil
}

func (s *Store) ListBadges(ctx context.Context) ([]domain.Badge, error) {
	var rows []badgeModel
	if err := s.db.NewSelect().Model(&rows).Order("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	out := make([]domain.Badge, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) HasAchievement(ctx context.Context, userID, badgeID string) (bool, error) {
	exists, err := s.db.NewSelect().Model((*achievementModel)(nil)).
		Where("user_id = ?", userID).
		Where("badge_id = ?", badgeID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check achievement: %w", err)
	}
	return exists, nil
}

func (s *Store) AwardAchievement(ctx context.Context, achievement domain.Achievement) error {
	m := toAchievementModel(achievement)
	res, err := s.db.NewInsert().Model(&m).
		On("CONFLICT (user_id, badge_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert achievement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrDuplicateAchievement
	}
	return nil
}

// ListAchievements joins a user's achievements with the badge catalog, newest first.
func (s *Store) ListAchievements(ctx context.Context, userID string) ([]domain.EarnedBadge, error) {
	var earned []achievementModel
	err := s.db.NewSelect().Model(&earned).
		Where("user_id = ?", userID).
		Order("earned_at DESC", "badge_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	out := make([]domain.EarnedBadge, 0, len(earned))
	if len(earned) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(earned))
	for _, a := range earned {
		ids = append(ids, a.BadgeID)
	}
	var badges []badgeModel
	if err := s.db.NewSelect().Model(&badges).Where("id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		return nil, fmt.Errorf("load earned badges: %w", err)
	}
	catalog := make(map[string]domain.Badge, len(badges))
	for _, b := range badges {
		catalog[b.ID] = b.toDomain()
	}

	for _, a := range earned {
		badge, ok := catalog[a.BadgeID]
		if !ok {
			continue
		}
		out = append(out, domain.EarnedBadge{Badge: badge, EarnedAt: a.EarnedAt, Context: a.Context})
	}
	return out, nil
}

// IncrementViolation upserts the counter row; concurrent reports each add one.
func (s *Store) IncrementViolation(ctx context.Context, sessionID, participantID string, violationType domain.ViolationType, at time.Time) (domain.SecurityViolation, error) {
	m := violationModel{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		ParticipantID:  participantID,
		ViolationType:  string(violationType),
		ViolationCount: 1,
		DetectedAt:     at,
		UpdatedAt:      at,
	}
	_, err := s.db.NewInsert().Model(&m).
		On("CONFLICT (session_id, participant_id, violation_type) DO UPDATE").
		Set("violation_count = sv.violation_count + 1").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return domain.SecurityViolation{}, fmt.Errorf("increment violation: %w", err)
	}
	return m.toDomain(), nil
}

func (s *Store) ListViolations(ctx context.Context, sessionID string) ([]domain.SecurityViolation, error) {
	var rows []violationModel
	err := s.db.NewSelect().Model(&rows).
		Where("session_id = ?", sessionID).
		Order("participant_id ASC", "violation_type ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	out := make([]domain.SecurityViolation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) RecordSessionScore(ctx context.Context, score domain.SessionScore) error {
	m := toSessionScoreModel(score)
	_, err := s.db.NewInsert().Model(&m).
		On("CONFLICT (user_id, session_id) DO UPDATE").
		Set("session_score = EXCLUDED.session_score").
		Set("recorded_at = EXCLUDED.recorded_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("record session score: %w", err)
	}
	return nil
}

// RecomputeCumulative rebuilds the rollup from the ledger inside one
// transaction so a concurrent finalize cannot interleave a stale total.
func (s *Store) RecomputeCumulative(ctx context.Context, userID string, at time.Time) (domain.CumulativeScore, error) {
	var rollup domain.CumulativeScore
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var ledger []sessionScoreModel
		err := tx.NewSelect().Model(&ledger).
			Where("user_id = ?", userID).
			Order("session_id ASC").
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return err
		}
		scores := make([]domain.SessionScore, 0, len(ledger))
		for _, row := range ledger {
			scores = append(scores, row.toDomain())
		}
		rollup = domain.RollupScores(userID, scores, at)

		m := toCumulativeModel(rollup)
		_, err = tx.NewInsert().Model(&m).
			On("CONFLICT (user_id) DO UPDATE").
			Set("total_score = EXCLUDED.total_score").
			Set("sessions_participated = EXCLUDED.sessions_participated").
			Set("best_score = EXCLUDED.best_score").
			Set("average_score = EXCLUDED.average_score").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		return err
	})
	if err != nil {
		return domain.CumulativeScore{}, fmt.Errorf("recompute cumulative score: %w", err)
	}
	return rollup, nil
}

func (s *Store) CumulativeLeaderboard(ctx context.Context, limit int) ([]domain.CumulativeScore, error) {
	var rows []cumulativeModel
	q := s.db.NewSelect().Model(&rows).Order("total_score DESC", "user_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("cumulative leaderboard: %w", err)
	}
	out := make([]domain.CumulativeScore, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
