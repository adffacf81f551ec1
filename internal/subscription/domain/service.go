package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stylora/stylora/internal/plan"
	"gorm.io/gorm"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrNotCancelled         = errors.New("not_cancelled")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrAlreadyOnPlan        = errors.New("already_on_plan")
)

type ActivateRequest struct {
	UserID snowflake.ID
	PlanID plan.Type
}

type RolloverOutcome struct {
	Kind    RolloverKind
	Subject Subscription
}

// Service owns the subscription lifecycle. All mutating operations
// serialize per user and run in a transaction, so concurrent calls for
// the same user observe each other's writes.
type Service interface {
	// EnsureSubscription provisions the free-tier row at signup. Safe
	// to call repeatedly; an existing row wins.
	EnsureSubscription(ctx context.Context, userID snowflake.ID) (Subscription, error)

	Get(ctx context.Context, userID snowflake.ID) (Subscription, error)
	Activate(ctx context.Context, req ActivateRequest) (Subscription, error)
	Cancel(ctx context.Context, userID snowflake.ID) (Subscription, error)
	Reactivate(ctx context.Context, userID snowflake.ID) (Subscription, error)

	// Rollover settles any elapsed periods for the user. Returns what
	// happened; RolloverNone when the period is still open.
	Rollover(ctx context.Context, userID snowflake.ID) (RolloverOutcome, error)

	Plans(ctx context.Context) []plan.Plan
}

// Repository is the persistence boundary for subscription rows. The
// caller supplies db so the same methods work inside or outside a
// transaction.
type Repository interface {
	// Insert creates the row; returns false without error when a row
	// for the user already exists.
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) (bool, error)
	FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Subscription, error)
	// FindByUserIDForUpdate takes a row lock; call inside a transaction.
	FindByUserIDForUpdate(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Subscription, error)
	Update(ctx context.Context, db *gorm.DB, sub *Subscription) error
	// ListExpiring returns rows whose period_end is at or before the
	// cutoff, oldest first, up to limit.
	ListExpiring(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]Subscription, error)
}
