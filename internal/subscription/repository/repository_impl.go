package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/stylora/stylora/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(sub)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return findByUserID(ctx, db, userID, false)
}

func (r *repo) FindByUserIDForUpdate(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return findByUserID(ctx, db, userID, true)
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET plan_type = ?, status = ?, tokens_limit = ?, tokens_used = ?,
		     period_start = ?, period_end = ?, cancelled_at = ?, updated_at = ?
		 WHERE id = ?`,
		sub.PlanType,
		sub.Status,
		sub.TokensLimit,
		sub.TokensUsed,
		sub.PeriodStart,
		sub.PeriodEnd,
		sub.CancelledAt,
		sub.UpdatedAt,
		sub.ID,
	).Error
}

func (r *repo) ListExpiring(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("period_end <= ?", cutoff).
		Order("period_end ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func findByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID, forUpdate bool) (*subscriptiondomain.Subscription, error) {
	query := db.WithContext(ctx)
	if forUpdate && db.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var sub subscriptiondomain.Subscription
	err := query.Where("user_id = ?", userID).Take(&sub).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}
