package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/stylora/stylora/internal/entitlement/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() entitlementdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, addOn *entitlementdomain.AddOn) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(addOn)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*entitlementdomain.AddOn, error) {
	var addOn entitlementdomain.AddOn
	err := db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&addOn).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &addOn, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*entitlementdomain.AddOn, error) {
	var addOn entitlementdomain.AddOn
	err := db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).Take(&addOn).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &addOn, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]entitlementdomain.AddOn, error) {
	var rows []entitlementdomain.AddOn
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, addOn *entitlementdomain.AddOn) error {
	return db.WithContext(ctx).Exec(
		`UPDATE entitlement_addons
		 SET active = ?, cancelled_at = ?, updated_at = ?
		 WHERE id = ?`,
		addOn.Active,
		addOn.CancelledAt,
		addOn.UpdatedAt,
		addOn.ID,
	).Error
}

func (r *repo) SumActiveQuantity(ctx context.Context, db *gorm.DB, userID snowflake.ID, kind entitlementdomain.ResourceKind) (int, error) {
	var total struct {
		Sum int
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(quantity), 0) AS sum
		 FROM entitlement_addons
		 WHERE user_id = ? AND resource_kind = ? AND active`,
		userID,
		kind,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total.Sum, nil
}
