package migrations

import (
	"context"

	"github.com/uptrace/bun"

	"live-quiz-service/internal/domain"
)

type badgeSeed struct {
	bun.BaseModel `bun:"table:badges"`

	ID          string `bun:"id,pk"`
	Name        string `bun:"name"`
	Description string `bun:"description"`
	Icon        string `bun:"icon"`
	Rarity      string `bun:"rarity"`
	Requirement string `bun:"requirement"`
	PointsValue int    `bun:"points_value"`
}

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			badges := domain.DefaultBadges()
			rows := make([]badgeSeed, 0, len(badges))
			for _, b := range badges {
				rows = append(rows, badgeSeed{
					ID:          b.ID,
					Name:        b.Name,
					Description: b.Description,
					Icon:        b.Icon,
					Rarity:      string(b.Rarity),
					Requirement: b.Requirement,
					PointsValue: b.PointsValue,
				})
			}
			_, err := db.NewInsert().Model(&rows).On("CONFLICT (id) DO NOTHING").Exec(ctx)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			ids := make([]string, 0)
			for _, b := range domain.DefaultBadges() {
				ids = append(ids, b.ID)
			}
			_, err := db.NewDelete().Model((*badgeSeed)(nil)).Where("id IN (?)", bun.In(ids)).Exec(ctx)
			return err
		},
	)
}
