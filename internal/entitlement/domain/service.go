package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/stylora/stylora/internal/plan"
	"gorm.io/gorm"
)

var (
	ErrAddOnNotFound   = errors.New("addon_not_found")
	ErrInvalidQuantity = errors.New("invalid_quantity")
	ErrUnknownResource = errors.New("unknown_resource")
)

type PurchaseAddOnRequest struct {
	UserID         snowflake.ID
	ResourceKind   ResourceKind
	Quantity       int
	IdempotencyKey string
}

// PurchaseResult reports the add-on row and whether this call created
// it. A retried purchase returns the original row with Created false.
type PurchaseResult struct {
	AddOn   AddOn
	Created bool
}

// Cap breaks an effective cap into its parts.
type Cap struct {
	Base      int `json:"base"`
	AddOn     int `json:"add_on"`
	Effective int `json:"effective"`
}

// Service computes resource caps and manages add-on purchases.
//
// CanCreate is an advisory gate: it does not reserve a slot, and the
// caller must re-check at the creating write. Resource creation is not
// safety-critical the way token spend is, so the window is accepted.
type Service interface {
	PurchaseAddOn(ctx context.Context, req PurchaseAddOnRequest) (PurchaseResult, error)
	CancelAddOn(ctx context.Context, userID, addOnID snowflake.ID) (AddOn, error)
	ListAddOns(ctx context.Context, userID snowflake.ID) ([]AddOn, error)

	BaseAllowance(planType plan.Type, kind ResourceKind) int
	EffectiveCap(ctx context.Context, userID snowflake.ID, kind ResourceKind) (Cap, error)
	CanCreate(ctx context.Context, userID snowflake.ID, kind ResourceKind, currentCount int) (bool, Cap, error)
}

// Repository is the persistence boundary for add-on rows.
type Repository interface {
	// Insert creates the row; returns false without error when the
	// idempotency key already exists.
	Insert(ctx context.Context, db *gorm.DB, addOn *AddOn) (bool, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*AddOn, error)
	FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*AddOn, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]AddOn, error)
	Update(ctx context.Context, db *gorm.DB, addOn *AddOn) error
	// SumActiveQuantity totals active add-on quantity for one resource.
	SumActiveQuantity(ctx context.Context, db *gorm.DB, userID snowflake.ID, kind ResourceKind) (int, error)
}
