package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/stylora/stylora/internal/ledger/domain"
	"github.com/stylora/stylora/pkg/db/option"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *ledgerdomain.UsageEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, req ledgerdomain.ListEventsRequest) ([]ledgerdomain.UsageEvent, error) {
	query := db.WithContext(ctx).Where("user_id = ?", req.UserID)
	if req.Kind != "" {
		query = option.ApplyOperator(option.Condition{
			Field: "kind", Operator: option.EQ, Value: req.Kind,
		}).Apply(query)
	}
	query = option.ApplyPagination(req.Pagination).Apply(query)
	query = option.WithSortBy(option.WithQuerySortBy("created_at", "desc", nil)).Apply(query)
	// Secondary sort keeps pages stable when timestamps tie.
	query = query.Order("id DESC")

	var rows []ledgerdomain.UsageEvent
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) SumCommitted(ctx context.Context, db *gorm.DB, userID snowflake.ID, since, until time.Time) (int64, error) {
	var total struct {
		Sum int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(CASE WHEN kind = ? THEN amount ELSE -amount END), 0) AS sum
		 FROM usage_events
		 WHERE user_id = ?
		   AND outcome = ?
		   AND created_at >= ?
		   AND created_at < ?`,
		ledgerdomain.EventKindDeduct,
		userID,
		ledgerdomain.OutcomeCommitted,
		since,
		until,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total.Sum, nil
}
