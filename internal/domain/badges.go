package domain

import "time"

// Rarity grades badges for display.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Badge names as seeded into the catalog.
const (
	BadgeFirstSteps      = "First Steps"
	BadgeQuickDraw       = "Quick Draw"
	BadgePerfectScore    = "Perfect Score"
	BadgeStreakMaster    = "Streak Master"
	BadgePerfectStreak   = "Perfect Streak"
	BadgeKnowledgeSeeker = "Knowledge Seeker"
)

// Badge is a static catalog entry.
type Badge struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Rarity      Rarity `json:"rarity"`
	Requirement string `json:"requirement"`
	PointsValue int    `json:"points_value"`
}

// Achievement records that a user earned a badge. At most one per (user, badge).
type Achievement struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	BadgeID  string    `json:"badge_id"`
	EarnedAt time.Time `json:"earned_at"`
	Context  string    `json:"context"`
}

// EarnedBadge is an achievement joined with its catalog entry.
type EarnedBadge struct {
	Badge    Badge     `json:"badge"`
	EarnedAt time.Time `json:"earned_at"`
	Context  string    `json:"context"`
}

// DefaultBadges is the seed catalog. IDs are stable so stores can seed idempotently.
func DefaultBadges() []Badge {
	return []Badge{
		{ID: "badge-first-steps", Name: BadgeFirstSteps, Description: "Complete your first quiz", Icon: "🎯", Rarity: RarityCommon, Requirement: "first game", PointsValue: 10},
		{ID: "badge-quick-draw", Name: BadgeQuickDraw, Description: "Answer a question in under 5 seconds", Icon: "⚡", Rarity: RarityRare, Requirement: "answer time < 5s", PointsValue: 25},
		{ID: "badge-perfect-score", Name: BadgePerfectScore, Description: "Answer every question correctly", Icon: "💯", Rarity: RarityEpic, Requirement: "all answers correct", PointsValue: 50},
		{ID: "badge-streak-master", Name: BadgeStreakMaster, Description: "Get 10 answers right in a row", Icon: "🔥", Rarity: RarityRare, Requirement: "streak >= 10", PointsValue: 30},
		{ID: "badge-perfect-streak", Name: BadgePerfectStreak, Description: "Get 25 answers right in a row", Icon: "🌟", Rarity: RarityLegendary, Requirement: "streak >= 25", PointsValue: 100},
		{ID: "badge-knowledge-seeker", Name: BadgeKnowledgeSeeker, Description: "Play 50 games", Icon: "📚", Rarity: RarityEpic, Requirement: "games played >= 50", PointsValue: 75},
	}
}
