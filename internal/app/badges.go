package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/metrics"
)

const (
	quickDrawSeconds     = 5
	streakMasterLength   = 10
	perfectStreakLength  = 25
	knowledgeSeekerGames = 50
)

// BadgeContext is the player snapshot a badge evaluation runs against.
type BadgeContext struct {
	// IsFirstGame is true only at the first question of the user's first game.
	IsFirstGame bool
	// GameCompleted and PerfectScore are set once the session is over.
	GameCompleted bool
	PerfectScore  bool
	// AnswerTime is the time taken on the answer just submitted; nil when the
	// evaluation is not tied to an answer.
	AnswerTime *int
	Streak     int
	// TotalGames includes the game in progress.
	TotalGames int
}

type badgeRule struct {
	name   string
	note   string
	earned func(BadgeContext) bool
}

// Rules are checked in this order, so Streak Master precedes Perfect Streak.
var badgeRules = []badgeRule{
	{domain.BadgeFirstSteps, "Completed first game", func(c BadgeContext) bool { return c.IsFirstGame }},
	{domain.BadgeQuickDraw, "Answered in under 5 seconds", func(c BadgeContext) bool {
		return c.AnswerTime != nil && *c.AnswerTime < quickDrawSeconds
	}},
	{domain.BadgePerfectScore, "Answered every question correctly", func(c BadgeContext) bool {
		return c.GameCompleted && c.PerfectScore
	}},
	{domain.BadgeStreakMaster, "Reached a streak of 10", func(c BadgeContext) bool { return c.Streak >= streakMasterLength }},
	{domain.BadgePerfectStreak, "Reached a streak of 25", func(c BadgeContext) bool { return c.Streak >= perfectStreakLength }},
	{domain.BadgeKnowledgeSeeker, "Played 50 games", func(c BadgeContext) bool { return c.TotalGames >= knowledgeSeekerGames }},
}

// BadgeEvaluator awards badges idempotently: each qualifying rule is checked
// against existing achievements, and the insert itself is a unique claim so
// concurrent evaluations cannot produce a second row.
type BadgeEvaluator struct {
	repo    AchievementRepository
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewBadgeEvaluator(repo AchievementRepository, logger *zap.Logger, m *metrics.Metrics) *BadgeEvaluator {
	return &BadgeEvaluator{repo: repo, logger: logger, metrics: m, now: time.Now}
}

// Evaluate returns the badges newly earned by userID. Anonymous players
// (empty userID) never earn badges. A failure on one rule is logged and the
// remaining rules are still evaluated.
func (e *BadgeEvaluator) Evaluate(ctx context.Context, userID string, bc BadgeContext) ([]domain.Badge, error) {
	if userID == "" {
		return nil, nil
	}

	var qualifying []badgeRule
	for _, rule := range badgeRules {
		if rule.earned(bc) {
			qualifying = append(qualifying, rule)
		}
	}
	if len(qualifying) == 0 {
		return nil, nil
	}

	catalog, err := e.repo.ListBadges(ctx)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	byName := make(map[string]domain.Badge, len(catalog))
	for _, b := range catalog {
		byName[b.Name] = b
	}

	var awarded []domain.Badge
	for _, rule := range qualifying {
		badge, ok := byName[rule.name]
		if !ok {
			e.logger.Warn("badge missing from catalog", zap.String("badge", rule.name))
			continue
		}
		won, err := e.award(ctx, userID, badge, rule.note)
		if err != nil {
			e.logger.Error("award badge failed",
				zap.String("user_id", userID),
				zap.String("badge", badge.Name),
				zap.Error(err))
			continue
		}
		if won {
			awarded = append(awarded, badge)
		}
	}
	return awarded, nil
}

func (e *BadgeEvaluator) award(ctx context.Context, userID string, badge domain.Badge, note string) (bool, error) {
	has, err := e.repo.HasAchievement(ctx, userID, badge.ID)
	if err != nil {
		return false, err
	}
	if has {
		return false, nil
	}

	err = e.repo.AwardAchievement(ctx, domain.Achievement{
		ID:       uuid.NewString(),
		UserID:   userID,
		BadgeID:  badge.ID,
		EarnedAt: e.now(),
		Context:  note,
	})
	if errors.Is(err, domain.ErrDuplicateAchievement) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	e.metrics.Badge(badge.Name)
	e.logger.Info("badge awarded", zap.String("user_id", userID), zap.String("badge", badge.Name))
	return true, nil
}

// Earned lists the badges a user holds, newest first.
func (e *BadgeEvaluator) Earned(ctx context.Context, userID string) ([]domain.EarnedBadge, error) {
	return e.repo.ListAchievements(ctx, userID)
}
