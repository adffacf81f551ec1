package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/stylora/stylora/internal/clock"
	"github.com/stylora/stylora/internal/observability/metrics"
	"github.com/stylora/stylora/internal/plan"
	subscriptiondomain "github.com/stylora/stylora/internal/subscription/domain"
	"github.com/stylora/stylora/internal/userlock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	repo    subscriptiondomain.Repository
	catalog *plan.Catalog
	locks   *userlock.Arena
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    subscriptiondomain.Repository
	Catalog *plan.Catalog
	Locks   *userlock.Arena
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		catalog: p.Catalog,
		locks:   p.Locks,
	}
}

// EnsureSubscription implements domain.Service.
func (s *Service) EnsureSubscription(ctx context.Context, userID snowflake.ID) (subscriptiondomain.Subscription, error) {
	if userID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}

	now := s.clock.Now()
	sub := subscriptiondomain.NewFreeSubscription(s.genID.Generate(), userID, s.catalog, now)

	inserted, err := s.repo.Insert(ctx, s.db, &sub)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if inserted {
		s.log.Info("provisioned free subscription",
			zap.Int64("user_id", userID.Int64()),
			zap.Int64("tokens_limit", sub.TokensLimit),
		)
		return sub, nil
	}

	existing, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if existing == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *existing, nil
}

// Get implements domain.Service. The returned row is settled first so
// a caller never observes a lapsed period.
func (s *Service) Get(ctx context.Context, userID snowflake.ID) (subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	if !s.clock.Now().Before(sub.PeriodEnd) {
		outcome, err := s.Rollover(ctx, userID)
		if err != nil {
			return subscriptiondomain.Subscription{}, err
		}
		return outcome.Subject, nil
	}
	return *sub, nil
}

// Activate implements domain.Service. Activating an unknown or free
// plan fails; plan changes take effect immediately.
func (s *Service) Activate(ctx context.Context, req subscriptiondomain.ActivateRequest) (subscriptiondomain.Subscription, error) {
	target, err := s.catalog.GetPurchasable(req.PlanID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	var out subscriptiondomain.Subscription
	err = s.mutate(ctx, req.UserID, func(tx *gorm.DB, sub *subscriptiondomain.Subscription) error {
		now := s.clock.Now()
		if sub.Status == subscriptiondomain.StatusActive && sub.PlanType == target.ID {
			return subscriptiondomain.ErrAlreadyOnPlan
		}
		subscriptiondomain.ApplyActivate(sub, target, s.catalog, now)
		if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}
		out = *sub
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.log.Info("subscription activated",
		zap.Int64("user_id", req.UserID.Int64()),
		zap.String("plan", string(target.ID)),
	)
	return out, nil
}

// Cancel implements domain.Service. Idempotent; cancelling the free
// tier is a no-op.
func (s *Service) Cancel(ctx context.Context, userID snowflake.ID) (subscriptiondomain.Subscription, error) {
	var out subscriptiondomain.Subscription
	err := s.mutate(ctx, userID, func(tx *gorm.DB, sub *subscriptiondomain.Subscription) error {
		if changed := subscriptiondomain.ApplyCancel(sub, s.clock.Now()); changed {
			if err := s.repo.Update(ctx, tx, sub); err != nil {
				return err
			}
		}
		out = *sub
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.log.Info("subscription cancelled", zap.Int64("user_id", userID.Int64()))
	return out, nil
}

// Reactivate implements domain.Service.
func (s *Service) Reactivate(ctx context.Context, userID snowflake.ID) (subscriptiondomain.Subscription, error) {
	var out subscriptiondomain.Subscription
	err := s.mutate(ctx, userID, func(tx *gorm.DB, sub *subscriptiondomain.Subscription) error {
		if err := subscriptiondomain.ApplyReactivate(sub, s.clock.Now()); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}
		out = *sub
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.log.Info("subscription reactivated", zap.Int64("user_id", userID.Int64()))
	return out, nil
}

// Rollover implements domain.Service.
func (s *Service) Rollover(ctx context.Context, userID snowflake.ID) (subscriptiondomain.RolloverOutcome, error) {
	var outcome subscriptiondomain.RolloverOutcome
	err := s.mutate(ctx, userID, func(tx *gorm.DB, sub *subscriptiondomain.Subscription) error {
		kind, err := subscriptiondomain.ApplyRollover(sub, s.catalog, s.clock.Now())
		if err != nil {
			return err
		}
		if kind != subscriptiondomain.RolloverNone {
			if err := s.repo.Update(ctx, tx, sub); err != nil {
				return err
			}
		}
		outcome = subscriptiondomain.RolloverOutcome{Kind: kind, Subject: *sub}
		return nil
	})
	if err != nil {
		return subscriptiondomain.RolloverOutcome{}, err
	}

	if outcome.Kind != subscriptiondomain.RolloverNone {
		metrics.Engine().IncRollover(string(outcome.Kind))
		s.log.Info("subscription rolled over",
			zap.Int64("user_id", userID.Int64()),
			zap.String("kind", string(outcome.Kind)),
			zap.Time("period_end", outcome.Subject.PeriodEnd),
		)
	}
	return outcome, nil
}

// Plans implements domain.Service.
func (s *Service) Plans(ctx context.Context) []plan.Plan {
	return s.catalog.Purchasable()
}

// mutate serializes on the per-user lock, then re-reads the row under a
// transaction-scoped FOR UPDATE so concurrent processes settle on the
// same row state.
func (s *Service) mutate(ctx context.Context, userID snowflake.ID, fn func(tx *gorm.DB, sub *subscriptiondomain.Subscription) error) error {
	release := s.locks.Lock(userID)
	defer release()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		return fn(tx, sub)
	})
}
