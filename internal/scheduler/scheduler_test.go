package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stylora/stylora/internal/clock"
	"github.com/stylora/stylora/internal/plan"
	subscriptiondomain "github.com/stylora/stylora/internal/subscription/domain"
	subscriptionrepository "github.com/stylora/stylora/internal/subscription/repository"
	subscriptionservice "github.com/stylora/stylora/internal/subscription/service"
	"github.com/stylora/stylora/internal/userlock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type harness struct {
	sched *Scheduler
	subs  subscriptiondomain.Service
	clock *clock.FakeClock
	node  *snowflake.Node
}

func newHarness(t *testing.T, start time.Time) *harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&subscriptiondomain.Subscription{}); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	node, _ := snowflake.NewNode(1)
	fake := clock.NewFakeClock(start)
	repo := subscriptionrepository.Provide()

	subs := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fake,
		Repo:    repo,
		Catalog: plan.NewCatalog(),
		Locks:   userlock.NewArena(),
	})

	sched, err := New(Params{
		DB:               db,
		Log:              zap.NewNop(),
		Clock:            fake,
		SubscriptionSvc:  subs,
		SubscriptionRepo: repo,
		Config:           Config{BatchSize: 2},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{sched: sched, subs: subs, clock: fake, node: node}
}

func (h *harness) addUser(t *testing.T, planID plan.Type) snowflake.ID {
	t.Helper()
	userID := h.node.Generate()
	if _, err := h.subs.EnsureSubscription(context.Background(), userID); err != nil {
		t.Fatalf("EnsureSubscription: %v", err)
	}
	if planID != plan.TypeFree {
		if _, err := h.subs.Activate(context.Background(), subscriptiondomain.ActivateRequest{UserID: userID, PlanID: planID}); err != nil {
			t.Fatalf("Activate: %v", err)
		}
	}
	return userID
}

func TestSweepSettlesLapsedSubscriptions(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, start)
	ctx := context.Background()

	// Five lapsed users across a batch size of two proves the sweep
	// drains the whole backlog in one run.
	users := make([]snowflake.ID, 0, 5)
	for i := 0; i < 4; i++ {
		users = append(users, h.addUser(t, plan.TypeMonthly))
	}
	cancelled := h.addUser(t, plan.TypeMonthly)
	users = append(users, cancelled)
	if _, err := h.subs.Cancel(ctx, cancelled); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	h.clock.Set(start.AddDate(0, 1, 0).Add(time.Hour))
	if err := h.sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	for _, userID := range users {
		sub, err := h.subs.Get(ctx, userID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !sub.PeriodEnd.After(h.clock.Now()) {
			t.Fatalf("user %d still lapsed after sweep", userID)
		}
		if sub.TokensUsed != 0 {
			t.Fatalf("expected reset counter, got %d", sub.TokensUsed)
		}
	}

	demoted, err := h.subs.Get(ctx, cancelled)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if demoted.PlanType != plan.TypeFree || demoted.Status != subscriptiondomain.StatusActive {
		t.Fatalf("expected cancelled user demoted to free, got plan=%s status=%s", demoted.PlanType, demoted.Status)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, start)
	ctx := context.Background()

	userID := h.addUser(t, plan.TypeMonthly)
	h.clock.Set(start.AddDate(0, 1, 0).Add(time.Hour))

	if err := h.sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	first, err := h.subs.Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if err := h.sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce again: %v", err)
	}
	second, err := h.subs.Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !second.PeriodEnd.Equal(first.PeriodEnd) || second.TokensUsed != first.TokensUsed {
		t.Fatalf("second sweep changed state: %+v vs %+v", first, second)
	}
}

func TestSweepLeavesOpenPeriodsAlone(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, start)
	ctx := context.Background()

	userID := h.addUser(t, plan.TypeMonthly)
	h.clock.Advance(24 * time.Hour)

	if err := h.sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	sub, err := h.subs.Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !sub.PeriodEnd.Equal(start.AddDate(0, 1, 0)) {
		t.Fatalf("sweep must not touch open periods, got end %s", sub.PeriodEnd)
	}
}
