package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/stylora/stylora/internal/clock"
	"github.com/stylora/stylora/internal/config"
	entitlementdomain "github.com/stylora/stylora/internal/entitlement/domain"
	"github.com/stylora/stylora/internal/plan"
	subscriptiondomain "github.com/stylora/stylora/internal/subscription/domain"
	"github.com/stylora/stylora/internal/userlock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Add-on list prices, in cents per unit per purchase.
var addOnPriceCents = map[entitlementdomain.ResourceKind]int64{
	entitlementdomain.ResourceBrandProfile: 700,
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID  *snowflake.Node
	clock  clock.Clock
	repo   entitlementdomain.Repository
	subs   subscriptiondomain.Service
	policy *config.PolicyHolder
	locks  *userlock.Arena
}

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   entitlementdomain.Repository
	Subs   subscriptiondomain.Service
	Policy *config.PolicyHolder
	Locks  *userlock.Arena
}

func NewService(p ServiceParam) entitlementdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("entitlement.service"),

		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		subs:   p.Subs,
		policy: p.Policy,
		locks:  p.Locks,
	}
}

// PurchaseAddOn implements domain.Service. The idempotency key makes
// retries land exactly once; a duplicate returns the original row.
func (s *Service) PurchaseAddOn(ctx context.Context, req entitlementdomain.PurchaseAddOnRequest) (entitlementdomain.PurchaseResult, error) {
	if req.Quantity <= 0 {
		return entitlementdomain.PurchaseResult{}, entitlementdomain.ErrInvalidQuantity
	}
	price, ok := addOnPriceCents[req.ResourceKind]
	if !ok {
		return entitlementdomain.PurchaseResult{}, entitlementdomain.ErrUnknownResource
	}

	key := req.IdempotencyKey
	if key == "" {
		// No caller token means no retry protection for this purchase.
		key = s.genID.Generate().String()
	}

	release := s.locks.Lock(req.UserID)
	defer release()

	now := s.clock.Now()
	addOn := entitlementdomain.AddOn{
		ID:             s.genID.Generate(),
		UserID:         req.UserID,
		ResourceKind:   req.ResourceKind,
		Quantity:       req.Quantity,
		UnitPriceCents: price,
		Active:         true,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	created, err := s.repo.Insert(ctx, s.db, &addOn)
	if err != nil {
		return entitlementdomain.PurchaseResult{}, err
	}
	if created {
		s.log.Info("add-on purchased",
			zap.Int64("user_id", req.UserID.Int64()),
			zap.String("resource", string(req.ResourceKind)),
			zap.Int("quantity", req.Quantity),
		)
		return entitlementdomain.PurchaseResult{AddOn: addOn, Created: true}, nil
	}

	existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, key)
	if err != nil {
		return entitlementdomain.PurchaseResult{}, err
	}
	if existing == nil {
		return entitlementdomain.PurchaseResult{}, entitlementdomain.ErrAddOnNotFound
	}
	return entitlementdomain.PurchaseResult{AddOn: *existing}, nil
}

// CancelAddOn implements domain.Service. Effective immediately; no
// refund of elapsed time. Idempotent on already-cancelled rows.
func (s *Service) CancelAddOn(ctx context.Context, userID, addOnID snowflake.ID) (entitlementdomain.AddOn, error) {
	release := s.locks.Lock(userID)
	defer release()

	addOn, err := s.repo.FindByID(ctx, s.db, userID, addOnID)
	if err != nil {
		return entitlementdomain.AddOn{}, err
	}
	if addOn == nil {
		return entitlementdomain.AddOn{}, entitlementdomain.ErrAddOnNotFound
	}
	if !addOn.Active {
		return *addOn, nil
	}

	now := s.clock.Now()
	addOn.Active = false
	addOn.CancelledAt = &now
	addOn.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, addOn); err != nil {
		return entitlementdomain.AddOn{}, err
	}

	s.log.Info("add-on cancelled",
		zap.Int64("user_id", userID.Int64()),
		zap.Int64("addon_id", addOnID.Int64()),
	)
	return *addOn, nil
}

// ListAddOns implements domain.Service.
func (s *Service) ListAddOns(ctx context.Context, userID snowflake.ID) ([]entitlementdomain.AddOn, error) {
	return s.repo.ListByUser(ctx, s.db, userID)
}

// BaseAllowance implements domain.Service. Unlisted plan and resource
// pairs grant zero, which gates the feature.
func (s *Service) BaseAllowance(planType plan.Type, kind entitlementdomain.ResourceKind) int {
	for _, a := range s.policy.Get().BaseAllowances {
		if a.Plan == string(planType) && a.Resource == string(kind) {
			return a.Quantity
		}
	}
	return 0
}

// EffectiveCap implements domain.Service: base allowance of the current
// plan plus active add-on quantity. A user without a subscription row
// is capped as free tier.
func (s *Service) EffectiveCap(ctx context.Context, userID snowflake.ID, kind entitlementdomain.ResourceKind) (entitlementdomain.Cap, error) {
	planType := plan.TypeFree
	sub, err := s.subs.Get(ctx, userID)
	switch err {
	case nil:
		planType = sub.PlanType
	case subscriptiondomain.ErrSubscriptionNotFound:
	default:
		return entitlementdomain.Cap{}, err
	}

	base := s.BaseAllowance(planType, kind)

	addOn := 0
	if planType != plan.TypeFree || !s.policy.Get().SuspendAddOnsOnDowngrade {
		addOn, err = s.repo.SumActiveQuantity(ctx, s.db, userID, kind)
		if err != nil {
			return entitlementdomain.Cap{}, err
		}
	}

	return entitlementdomain.Cap{
		Base:      base,
		AddOn:     addOn,
		Effective: base + addOn,
	}, nil
}

// CanCreate implements domain.Service. Advisory only; see the
// interface note.
func (s *Service) CanCreate(ctx context.Context, userID snowflake.ID, kind entitlementdomain.ResourceKind, currentCount int) (bool, entitlementdomain.Cap, error) {
	limit, err := s.EffectiveCap(ctx, userID, kind)
	if err != nil {
		return false, entitlementdomain.Cap{}, err
	}
	return currentCount < limit.Effective, limit, nil
}
