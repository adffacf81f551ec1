// Package domain defines the token ledger: the per-period spend counter
// on the subscription row plus the append-only usage event log.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventKind separates spends from rollbacks.
type EventKind string

const (
	EventKindDeduct EventKind = "DEDUCT"
	EventKindRefund EventKind = "REFUND"
)

// EventOutcome records whether the attempt changed the counter.
// Rejected attempts are logged too; the audit trail covers every spend
// attempt, not only the ones that landed.
type EventOutcome string

const (
	OutcomeCommitted            EventOutcome = "COMMITTED"
	OutcomeRejectedInsufficient EventOutcome = "REJECTED_INSUFFICIENT"
)

// UsageEvent is one write-once ledger entry. balance_after snapshots
// tokens_used at write time so the counter can be rebuilt from the log.
type UsageEvent struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	UserID       snowflake.ID      `gorm:"not null;index:ix_usage_events_user_created,priority:1"`
	Kind         EventKind         `gorm:"type:text;not null"`
	Outcome      EventOutcome      `gorm:"type:text;not null"`
	Amount       int64             `gorm:"not null"`
	BalanceAfter int64             `gorm:"not null"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt    time.Time         `gorm:"not null;index:ix_usage_events_user_created,priority:2"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }
