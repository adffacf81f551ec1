// Package domain contains the subscription row and its state machine.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stylora/stylora/internal/plan"
	"gorm.io/datatypes"
)

// Status represents lifecycle states for a subscription. Expired is
// transient: rollover resolves it to a fresh free-tier row inside the
// same step, so it is never persisted or externally observable.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCancelled Status = "CANCELLED"
)

// Subscription is the one-per-user billing row. A free-tier user is an
// ACTIVE row with plan_type "free". Rows are never hard-deleted; expiry
// demotes them back to the free tier.
type Subscription struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	UserID      snowflake.ID      `gorm:"not null;uniqueIndex:ux_subscriptions_user"`
	PlanType    plan.Type         `gorm:"type:text;not null"`
	Status      Status            `gorm:"type:text;not null"`
	TokensLimit int64             `gorm:"not null"`
	TokensUsed  int64             `gorm:"not null"`
	PeriodStart time.Time         `gorm:"not null"`
	PeriodEnd   time.Time         `gorm:"not null"`
	CancelledAt *time.Time        `gorm:""`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Remaining returns the unspent token balance.
func (s *Subscription) Remaining() int64 {
	remaining := s.TokensLimit - s.TokensUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}
