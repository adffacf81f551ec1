// Package scheduler runs the proactive rollover sweep. The ledger
// already settles lapsed periods lazily on first touch; the sweep
// exists so idle accounts are demoted and renewed on time too.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stylora/stylora/internal/clock"
	obsmetrics "github.com/stylora/stylora/internal/observability/metrics"
	"github.com/stylora/stylora/internal/ratelimit"
	subscriptiondomain "github.com/stylora/stylora/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler dependencies missing")

const leaderLockKey = "scheduler:rollover_sweep:leader"

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Clock            clock.Clock
	SubscriptionSvc  subscriptiondomain.Service
	SubscriptionRepo subscriptiondomain.Repository
	Locker           *ratelimit.Locker `optional:"true"`
	Config           Config            `optional:"true"`
}

type Scheduler struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	clock   clock.Clock
	subSvc  subscriptiondomain.Service
	subRepo subscriptiondomain.Repository
	locker  *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.SubscriptionSvc == nil || p.SubscriptionRepo == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:      p.DB,
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		clock:   p.Clock,
		subSvc:  p.SubscriptionSvc,
		subRepo: p.SubscriptionRepo,
		locker:  p.Locker,
	}, nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweep run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes one sweep pass. With a locker configured, only one
// replica holds the leadership key per pass; the rest skip silently.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, leaderLockKey, s.cfg.LeaderLockTTL)
		if err != nil {
			return fmt.Errorf("leader lock: %w", err)
		}
		if !ok {
			return nil
		}
		defer func() {
			if rerr := s.locker.Release(context.WithoutCancel(ctx), leaderLockKey, token); rerr != nil {
				s.log.Warn("leader lock release failed", zap.Error(rerr))
			}
		}()
	}

	return s.runJob(ctx, "rollover_sweep", s.cfg.JobTimeout, s.RolloverSweepJob)
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	obsmetrics.Engine().IncSweepRun(name)
	err := fn(ctx)
	if err == nil {
		s.log.Debug("job finished",
			zap.String("job", name),
			zap.Duration("took", time.Since(start)),
		)
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		obsmetrics.Engine().IncSweepError(name, obsmetrics.SweepReasonDeadlineExceeded)
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	obsmetrics.Engine().IncSweepError(name, obsmetrics.SweepReasonError)
	return fmt.Errorf("%s: %w", name, err)
}

// RolloverSweepJob settles every subscription whose period has lapsed.
// Batches repeat until a pass comes back empty, so a backlog from
// scheduler downtime drains in one run.
func (s *Scheduler) RolloverSweepJob(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := s.clock.Now()
		expiring, err := s.subRepo.ListExpiring(ctx, s.db, now, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(expiring) == 0 {
			return nil
		}

		settled := 0
		for _, sub := range expiring {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcome, err := s.subSvc.Rollover(ctx, sub.UserID)
			if err != nil {
				s.log.Warn("rollover failed",
					zap.Int64("user_id", sub.UserID.Int64()),
					zap.Error(err),
				)
				continue
			}
			if outcome.Kind != subscriptiondomain.RolloverNone {
				settled++
			}
		}

		s.log.Info("sweep batch settled",
			zap.Int("expiring", len(expiring)),
			zap.Int("settled", settled),
		)
		// Nothing settled means the remaining rows keep failing; bail
		// instead of spinning on them.
		if settled == 0 {
			return nil
		}
	}
}
