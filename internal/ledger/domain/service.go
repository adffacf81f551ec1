package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stylora/stylora/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrInvalidAmount = errors.New("invalid_amount")
)

// RejectReason classifies business rejections. These travel in the
// result, not the error: a rejected deduct is a normal outcome, not a
// failure of the operation.
type RejectReason string

const (
	RejectNone               RejectReason = ""
	RejectInsufficientTokens RejectReason = "insufficient_tokens"
	RejectPlanInactive       RejectReason = "plan_inactive"
)

type DeductRequest struct {
	UserID   snowflake.ID
	Amount   int64
	Metadata datatypes.JSONMap
}

type RefundRequest struct {
	UserID   snowflake.ID
	Amount   int64
	Metadata datatypes.JSONMap
}

// DeductResult reports what happened to the counter. On rejection,
// Remaining and Required let the caller show the gap.
type DeductResult struct {
	Committed bool
	Reason    RejectReason
	Remaining int64
	Required  int64
}

type Balance struct {
	Remaining   int64
	Used        int64
	Limit       int64
	PercentUsed float64
	PeriodEnd   time.Time
}

// ReconcileResult compares the stored counter against the event log.
type ReconcileResult struct {
	StoredUsed   int64
	ComputedUsed int64
	Adjusted     bool
}

type ListEventsRequest struct {
	UserID     snowflake.ID
	Kind       EventKind
	Pagination pagination.Pagination
}

// Service is the quota ledger. Every mutation runs inside the per-user
// critical section shared with the subscription lifecycle, so a deduct
// never races a plan change or rollover.
type Service interface {
	// TryDeduct reserves tokens before the paid work runs. A lapsed
	// period is rolled over first, then the request is evaluated
	// against the fresh state.
	TryDeduct(ctx context.Context, req DeductRequest) (DeductResult, error)

	// Refund rolls back a committed deduct after the paid work failed.
	// Floored at zero; callers pass the amount they were charged.
	Refund(ctx context.Context, req RefundRequest) (Balance, error)

	Balance(ctx context.Context, userID snowflake.ID) (Balance, error)

	// Reconcile rebuilds tokens_used from the committed events of the
	// current period and repairs the counter if they diverge.
	Reconcile(ctx context.Context, userID snowflake.ID) (ReconcileResult, error)

	ListEvents(ctx context.Context, req ListEventsRequest) ([]UsageEvent, pagination.PageInfo, error)
}

// Repository is the persistence boundary for usage events.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *UsageEvent) error
	List(ctx context.Context, db *gorm.DB, req ListEventsRequest) ([]UsageEvent, error)
	// SumCommitted returns committed deducts minus refunds in
	// [since, until).
	SumCommitted(ctx context.Context, db *gorm.DB, userID snowflake.ID, since, until time.Time) (int64, error)
}

// PercentUsed computes spend as a percentage of the limit.
func PercentUsed(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit) * 100
}

// FormatPercent renders percent_used with enough precision to tell
// small values apart: three decimals under 0.01%, two under 1%, one
// otherwise.
func FormatPercent(p float64) string {
	switch {
	case p < 0.01:
		return fmt.Sprintf("%.3f", p)
	case p < 1:
		return fmt.Sprintf("%.2f", p)
	default:
		return fmt.Sprintf("%.1f", p)
	}
}
