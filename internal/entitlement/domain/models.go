// Package domain defines resource entitlements: per-plan base
// allowances plus purchased add-on capacity, orthogonal to token spend.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ResourceKind names a countable resource under an entitlement cap.
type ResourceKind string

const (
	ResourceBrandProfile ResourceKind = "brand_profile"
)

// AddOn is one purchased capacity extension. Cancellation marks it
// inactive; rows are never hard-deleted so purchase history survives.
// The idempotency key carries a unique index, which makes retried
// purchases land exactly once.
type AddOn struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	UserID         snowflake.ID      `gorm:"not null;index:ix_entitlement_addons_user"`
	ResourceKind   ResourceKind      `gorm:"type:text;not null"`
	Quantity       int               `gorm:"not null"`
	UnitPriceCents int64             `gorm:"not null"`
	Active         bool              `gorm:"not null"`
	IdempotencyKey string            `gorm:"not null;uniqueIndex:ux_entitlement_addons_idem"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	CancelledAt    *time.Time        `gorm:""`
}

// TableName sets the database table name.
func (AddOn) TableName() string { return "entitlement_addons" }
