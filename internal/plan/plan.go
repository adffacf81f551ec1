// Package plan holds the static billing plan catalog. The catalog is
// read-only reference data and safe to share without locking.
package plan

import (
	"errors"
	"time"
)

// Type identifies a billing plan.
type Type string

const (
	TypeFree     Type = "free"
	TypeMonthly  Type = "monthly"
	TypeSixMonth Type = "sixMonth"
	TypeAnnual   Type = "annual"
)

// Interval is the billing interval of a paid plan.
type Interval string

const (
	IntervalMonth     Interval = "month"
	IntervalSixMonths Interval = "sixmonths"
	IntervalYear      Interval = "year"
)

// FreePeriodDays is the length of the free-tier usage window.
const FreePeriodDays = 30

// Plan is one catalog entry. Immutable at runtime.
type Plan struct {
	ID              Type     `json:"id"`
	Name            string   `json:"name"`
	PriceCents      int64    `json:"price_cents"`
	Interval        Interval `json:"interval"`
	TokensPerPeriod int64    `json:"tokens_per_period"`
}

var ErrUnknownPlan = errors.New("unknown_plan")

// NextPeriodEnd advances a period start by one billing interval.
func (p Plan) NextPeriodEnd(start time.Time) time.Time {
	switch p.Interval {
	case IntervalMonth:
		return start.AddDate(0, 1, 0)
	case IntervalSixMonths:
		return start.AddDate(0, 6, 0)
	case IntervalYear:
		return start.AddDate(1, 0, 0)
	default:
		// free tier
		return start.AddDate(0, 0, FreePeriodDays)
	}
}

func (p Plan) IsFree() bool {
	return p.ID == TypeFree
}
