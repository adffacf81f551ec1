package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stylora/stylora/internal/plan"
)

// RolloverKind reports what a rollover did to the row.
type RolloverKind string

const (
	RolloverNone   RolloverKind = "none"
	RolloverRenew  RolloverKind = "renew"
	RolloverDemote RolloverKind = "demote"
)

// SpendEligible reports whether the ledger may deduct against this row.
// Cancellation is advisory: access persists until the paid-for period
// ends, so CANCELLED rows still spend.
func SpendEligible(s *Subscription) bool {
	switch s.Status {
	case StatusActive, StatusCancelled:
		return true
	default:
		return false
	}
}

// ApplyActivate moves the row onto a plan. A fresh activation grants the
// full period; a plan change while already paid keeps tokens_used and
// the current period unless the billing interval differs, in which case
// the period restarts from now. Activating while cancelled also restores
// ACTIVE status.
func ApplyActivate(s *Subscription, target plan.Plan, catalog *plan.Catalog, now time.Time) {
	current, err := catalog.Get(s.PlanType)
	freshStart := s.PlanType == plan.TypeFree || err != nil

	s.Status = StatusActive
	s.CancelledAt = nil

	if freshStart {
		s.PlanType = target.ID
		s.TokensLimit = target.TokensPerPeriod
		s.TokensUsed = 0
		s.PeriodStart = now
		s.PeriodEnd = target.NextPeriodEnd(now)
		s.UpdatedAt = now
		return
	}

	// Plan change takes effect immediately. tokens_used is kept so a
	// mid-period switch cannot mint spent tokens back.
	s.PlanType = target.ID
	s.TokensLimit = target.TokensPerPeriod
	if current.Interval != target.Interval {
		s.PeriodStart = now
		s.PeriodEnd = target.NextPeriodEnd(now)
	}
	s.UpdatedAt = now
}

// ApplyCancel flips status only; tokens and period are untouched so the
// grace period keeps working. Idempotent on already-cancelled and free
// rows.
func ApplyCancel(s *Subscription, now time.Time) bool {
	if s.Status == StatusCancelled || s.PlanType == plan.TypeFree {
		return false
	}
	s.Status = StatusCancelled
	s.CancelledAt = &now
	s.UpdatedAt = now
	return true
}

// ApplyReactivate reverts a cancellation. No token or period change.
func ApplyReactivate(s *Subscription, now time.Time) error {
	if s.Status != StatusCancelled {
		return ErrNotCancelled
	}
	s.Status = StatusActive
	s.CancelledAt = nil
	s.UpdatedAt = now
	return nil
}

// ApplyRollover reconciles elapsed time with the row. It recomputes
// from period_end rather than accumulating deltas, so redundant calls
// observe now < period_end and no-op. An ACTIVE row renews with the
// catalog's current grant; a CANCELLED row passes through the transient
// expired state and comes out as a fresh free-tier subscription.
func ApplyRollover(s *Subscription, catalog *plan.Catalog, now time.Time) (RolloverKind, error) {
	if now.Before(s.PeriodEnd) {
		return RolloverNone, nil
	}

	switch s.Status {
	case StatusActive:
		p, err := catalog.Get(s.PlanType)
		if err != nil {
			return RolloverNone, err
		}
		// Re-read the grant so catalog changes apply at renewal. Walk
		// whole periods forward; an idle user may be several behind.
		start := s.PeriodEnd
		end := p.NextPeriodEnd(start)
		for !end.After(now) {
			start = end
			end = p.NextPeriodEnd(start)
		}
		s.TokensUsed = 0
		s.TokensLimit = p.TokensPerPeriod
		s.PeriodStart = start
		s.PeriodEnd = end
		s.UpdatedAt = now
		return RolloverRenew, nil

	case StatusCancelled:
		free := catalog.Free()
		s.PlanType = plan.TypeFree
		s.Status = StatusActive
		s.TokensLimit = free.TokensPerPeriod
		s.TokensUsed = 0
		s.PeriodStart = now
		s.PeriodEnd = free.NextPeriodEnd(now)
		s.CancelledAt = nil
		s.UpdatedAt = now
		return RolloverDemote, nil

	default:
		return RolloverNone, ErrInvalidStatus
	}
}

// NewFreeSubscription builds the signup row: free tier, active, a full
// free-period window.
func NewFreeSubscription(id, userID snowflake.ID, catalog *plan.Catalog, now time.Time) Subscription {
	free := catalog.Free()
	return Subscription{
		ID:          id,
		UserID:      userID,
		PlanType:    plan.TypeFree,
		Status:      StatusActive,
		TokensLimit: free.TokensPerPeriod,
		TokensUsed:  0,
		PeriodStart: now,
		PeriodEnd:   free.NextPeriodEnd(now),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
