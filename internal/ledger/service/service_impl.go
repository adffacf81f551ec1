package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stylora/stylora/internal/clock"
	ledgerdomain "github.com/stylora/stylora/internal/ledger/domain"
	"github.com/stylora/stylora/internal/observability/metrics"
	"github.com/stylora/stylora/internal/plan"
	subscriptiondomain "github.com/stylora/stylora/internal/subscription/domain"
	"github.com/stylora/stylora/internal/userlock"
	"github.com/stylora/stylora/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	repo    ledgerdomain.Repository
	subRepo subscriptiondomain.Repository
	catalog *plan.Catalog
	locks   *userlock.Arena
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    ledgerdomain.Repository
	SubRepo subscriptiondomain.Repository
	Catalog *plan.Catalog
	Locks   *userlock.Arena
}

func NewService(p ServiceParam) ledgerdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("ledger.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		subRepo: p.SubRepo,
		catalog: p.Catalog,
		locks:   p.Locks,
	}
}

// TryDeduct implements domain.Service. The read-check-increment runs as
// one atomic unit under the per-user lock and a row-locked transaction;
// no caller acts on a stale counter.
func (s *Service) TryDeduct(ctx context.Context, req ledgerdomain.DeductRequest) (ledgerdomain.DeductResult, error) {
	if req.Amount < 0 {
		return ledgerdomain.DeductResult{}, ledgerdomain.ErrInvalidAmount
	}

	var result ledgerdomain.DeductResult
	var rolled subscriptiondomain.RolloverKind

	release := s.locks.Lock(req.UserID)
	defer release()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subRepo.FindByUserIDForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if sub == nil {
			result = ledgerdomain.DeductResult{
				Reason:   ledgerdomain.RejectPlanInactive,
				Required: req.Amount,
			}
			return nil
		}

		rolled, err = s.settle(ctx, tx, sub)
		if err != nil {
			return err
		}

		if !subscriptiondomain.SpendEligible(sub) {
			result = ledgerdomain.DeductResult{
				Reason:    ledgerdomain.RejectPlanInactive,
				Remaining: sub.Remaining(),
				Required:  req.Amount,
			}
			return nil
		}

		if req.Amount == 0 {
			result = ledgerdomain.DeductResult{
				Committed: true,
				Remaining: sub.Remaining(),
			}
			return nil
		}

		if sub.TokensUsed+req.Amount > sub.TokensLimit {
			event := ledgerdomain.UsageEvent{
				ID:           s.genID.Generate(),
				UserID:       req.UserID,
				Kind:         ledgerdomain.EventKindDeduct,
				Outcome:      ledgerdomain.OutcomeRejectedInsufficient,
				Amount:       req.Amount,
				BalanceAfter: sub.TokensUsed,
				Metadata:     req.Metadata,
				CreatedAt:    s.clock.Now(),
			}
			if err := s.repo.Insert(ctx, tx, &event); err != nil {
				return err
			}
			result = ledgerdomain.DeductResult{
				Reason:    ledgerdomain.RejectInsufficientTokens,
				Remaining: sub.Remaining(),
				Required:  req.Amount,
			}
			return nil
		}

		sub.TokensUsed += req.Amount
		sub.UpdatedAt = s.clock.Now()
		if err := s.subRepo.Update(ctx, tx, sub); err != nil {
			return err
		}

		event := ledgerdomain.UsageEvent{
			ID:           s.genID.Generate(),
			UserID:       req.UserID,
			Kind:         ledgerdomain.EventKindDeduct,
			Outcome:      ledgerdomain.OutcomeCommitted,
			Amount:       req.Amount,
			BalanceAfter: sub.TokensUsed,
			Metadata:     req.Metadata,
			CreatedAt:    s.clock.Now(),
		}
		if err := s.repo.Insert(ctx, tx, &event); err != nil {
			return err
		}

		result = ledgerdomain.DeductResult{
			Committed: true,
			Remaining: sub.Remaining(),
		}
		return nil
	})
	if err != nil {
		return ledgerdomain.DeductResult{}, err
	}

	s.recordRollover(req.UserID, rolled)
	switch {
	case result.Committed:
		metrics.Engine().IncDeduct("committed")
	case result.Reason == ledgerdomain.RejectInsufficientTokens:
		metrics.Engine().IncDeduct("rejected_insufficient")
	default:
		metrics.Engine().IncDeduct("rejected_plan_inactive")
	}

	if !result.Committed {
		s.log.Info("deduct rejected",
			zap.Int64("user_id", req.UserID.Int64()),
			zap.String("reason", string(result.Reason)),
			zap.Int64("required", result.Required),
			zap.Int64("remaining", result.Remaining),
		)
	}
	return result, nil
}

// Refund implements domain.Service. Floored at zero so a duplicate
// refund cannot drive the counter negative.
func (s *Service) Refund(ctx context.Context, req ledgerdomain.RefundRequest) (ledgerdomain.Balance, error) {
	if req.Amount < 0 {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidAmount
	}

	var balance ledgerdomain.Balance
	var rolled subscriptiondomain.RolloverKind
	var applied int64

	release := s.locks.Lock(req.UserID)
	defer release()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subRepo.FindByUserIDForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		rolled, err = s.settle(ctx, tx, sub)
		if err != nil {
			return err
		}

		// Only the delta the counter actually moved goes on the log;
		// the floored portion of an over-refund (or a refund of a
		// charge from an already-settled period) never did, so
		// recording it would let Reconcile erase real usage.
		applied = req.Amount
		if applied > sub.TokensUsed {
			applied = sub.TokensUsed
		}

		if applied > 0 {
			sub.TokensUsed -= applied
			sub.UpdatedAt = s.clock.Now()
			if err := s.subRepo.Update(ctx, tx, sub); err != nil {
				return err
			}

			event := ledgerdomain.UsageEvent{
				ID:           s.genID.Generate(),
				UserID:       req.UserID,
				Kind:         ledgerdomain.EventKindRefund,
				Outcome:      ledgerdomain.OutcomeCommitted,
				Amount:       applied,
				BalanceAfter: sub.TokensUsed,
				Metadata:     req.Metadata,
				CreatedAt:    s.clock.Now(),
			}
			if err := s.repo.Insert(ctx, tx, &event); err != nil {
				return err
			}
		}

		balance = balanceOf(sub)
		return nil
	})
	if err != nil {
		return ledgerdomain.Balance{}, err
	}

	s.recordRollover(req.UserID, rolled)
	if applied > 0 {
		metrics.Engine().IncRefund()
	}
	return balance, nil
}

// Balance implements domain.Service. A lapsed period is settled first
// so the response never shows an expired window.
func (s *Service) Balance(ctx context.Context, userID snowflake.ID) (ledgerdomain.Balance, error) {
	sub, err := s.subRepo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return ledgerdomain.Balance{}, err
	}
	if sub == nil {
		return ledgerdomain.Balance{}, subscriptiondomain.ErrSubscriptionNotFound
	}

	if !s.clock.Now().Before(sub.PeriodEnd) {
		var rolled subscriptiondomain.RolloverKind
		release := s.locks.Lock(userID)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			fresh, err := s.subRepo.FindByUserIDForUpdate(ctx, tx, userID)
			if err != nil {
				return err
			}
			if fresh == nil {
				return subscriptiondomain.ErrSubscriptionNotFound
			}
			rolled, err = s.settle(ctx, tx, fresh)
			if err != nil {
				return err
			}
			sub = fresh
			return nil
		})
		release()
		if err != nil {
			return ledgerdomain.Balance{}, err
		}
		s.recordRollover(userID, rolled)
	}

	return balanceOf(sub), nil
}

// Reconcile implements domain.Service. The event log is the source of
// truth; the counter is repaired to match it.
func (s *Service) Reconcile(ctx context.Context, userID snowflake.ID) (ledgerdomain.ReconcileResult, error) {
	var result ledgerdomain.ReconcileResult

	release := s.locks.Lock(userID)
	defer release()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subRepo.FindByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		computed, err := s.repo.SumCommitted(ctx, tx, userID, sub.PeriodStart, s.clock.Now().Add(time.Second))
		if err != nil {
			return err
		}
		if computed < 0 {
			computed = 0
		}

		result = ledgerdomain.ReconcileResult{
			StoredUsed:   sub.TokensUsed,
			ComputedUsed: computed,
		}
		if computed != sub.TokensUsed {
			sub.TokensUsed = computed
			sub.UpdatedAt = s.clock.Now()
			if err := s.subRepo.Update(ctx, tx, sub); err != nil {
				return err
			}
			result.Adjusted = true
		}
		return nil
	})
	if err != nil {
		return ledgerdomain.ReconcileResult{}, err
	}

	if result.Adjusted {
		s.log.Warn("ledger counter diverged from event log",
			zap.Int64("user_id", userID.Int64()),
			zap.Int64("stored_used", result.StoredUsed),
			zap.Int64("computed_used", result.ComputedUsed),
		)
	}
	return result, nil
}

// ListEvents implements domain.Service.
func (s *Service) ListEvents(ctx context.Context, req ledgerdomain.ListEventsRequest) ([]ledgerdomain.UsageEvent, pagination.PageInfo, error) {
	size := req.Pagination.PageSize
	if size <= 0 {
		size = 10
		req.Pagination.PageSize = size
	}

	rows, err := s.repo.List(ctx, s.db, req)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}

	info := pagination.PageInfo{}
	if len(rows) > size {
		rows = rows[:size]
		info.HasMore = true
	}
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        last.ID.String(),
			CreatedAt: last.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, pagination.PageInfo{}, err
		}
		info.NextPageToken = token
	}
	return rows, info, nil
}

// settle applies any due rollover inside the caller's transaction.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription) (subscriptiondomain.RolloverKind, error) {
	kind, err := subscriptiondomain.ApplyRollover(sub, s.catalog, s.clock.Now())
	if err != nil {
		return subscriptiondomain.RolloverNone, err
	}
	if kind != subscriptiondomain.RolloverNone {
		if err := s.subRepo.Update(ctx, tx, sub); err != nil {
			return subscriptiondomain.RolloverNone, err
		}
	}
	return kind, nil
}

func (s *Service) recordRollover(userID snowflake.ID, kind subscriptiondomain.RolloverKind) {
	if kind == subscriptiondomain.RolloverNone {
		return
	}
	metrics.Engine().IncRollover(string(kind))
	s.log.Info("period settled during ledger call",
		zap.Int64("user_id", userID.Int64()),
		zap.String("kind", string(kind)),
	)
}

func balanceOf(sub *subscriptiondomain.Subscription) ledgerdomain.Balance {
	return ledgerdomain.Balance{
		Remaining:   sub.Remaining(),
		Used:        sub.TokensUsed,
		Limit:       sub.TokensLimit,
		PercentUsed: ledgerdomain.PercentUsed(sub.TokensUsed, sub.TokensLimit),
		PeriodEnd:   sub.PeriodEnd,
	}
}
