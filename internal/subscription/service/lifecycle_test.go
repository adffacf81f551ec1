package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stylora/stylora/internal/clock"
	"github.com/stylora/stylora/internal/plan"
	subscriptiondomain "github.com/stylora/stylora/internal/subscription/domain"
	"github.com/stylora/stylora/internal/subscription/repository"
	"github.com/stylora/stylora/internal/userlock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
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
	return db
}

func newTestService(t *testing.T, start time.Time) (subscriptiondomain.Service, *clock.FakeClock, snowflake.ID) {
	t.Helper()
	db := setupTestDB(t)
	node, _ := snowflake.NewNode(1)
	fake := clock.NewFakeClock(start)

	svc := NewService(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fake,
		Repo:    repository.Provide(),
		Catalog: plan.NewCatalog(),
		Locks:   userlock.NewArena(),
	})

	userID := node.Generate()
	if _, err := svc.EnsureSubscription(context.Background(), userID); err != nil {
		t.Fatalf("EnsureSubscription: %v", err)
	}
	return svc, fake, userID
}

func TestEnsureSubscriptionIdempotent(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	svc, _, userID := newTestService(t, start)
	ctx := context.Background()

	first, err := svc.Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := svc.EnsureSubscription(ctx, userID)
	if err != nil {
		t.Fatalf("EnsureSubscription again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected existing row to win, got new id %d", second.ID)
	}
	if second.PlanType != plan.TypeFree || second.Status != subscriptiondomain.StatusActive {
		t.Fatalf("unexpected row: plan=%s status=%s", second.PlanType, second.Status)
	}
	if second.TokensLimit != 1000 {
		t.Fatalf("expected free grant 1000, got %d", second.TokensLimit)
	}
	if !second.PeriodEnd.Equal(start.AddDate(0, 0, 30)) {
		t.Fatalf("expected 30 day free period, got %s", second.PeriodEnd)
	}
}

func TestActivateFromFree(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	svc, _, userID := newTestService(t, start)
	ctx := context.Background()

	sub, err := svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: userID, PlanID: plan.TypeMonthly})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if sub.PlanType != plan.TypeMonthly || sub.Status != subscriptiondomain.StatusActive {
		t.Fatalf("unexpected row: plan=%s status=%s", sub.PlanType, sub.Status)
	}
	if sub.TokensLimit != 5000 || sub.TokensUsed != 0 {
		t.Fatalf("expected fresh 5000 grant, got limit=%d used=%d", sub.TokensLimit, sub.TokensUsed)
	}
	if !sub.PeriodEnd.Equal(start.AddDate(0, 1, 0)) {
		t.Fatalf("expected one month period, got %s", sub.PeriodEnd)
	}
}

func TestActivateRejectsFreeAndUnknownPlans(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	svc, _, userID := newTestService(t, start)
	ctx := context.Background()

	if _, err := svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: userID, PlanID: plan.TypeFree}); err != plan.ErrUnknownPlan {
		t.Fatalf("expected ErrUnknownPlan for free plan, got %v", err)
	}
	if _, err := svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: userID, PlanID: plan.Type("platinum")}); err != plan.ErrUnknownPlan {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
}

func TestPlanChangeKeepsUsageWithinSameInterval(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	svc, fake, userID := newTestService(t, start)
	ctx := context.Background()

	if _, err := svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: userID, PlanID: plan.TypeMonthly}); err != nil {
		t.Fatalf("Activate monthly: %v", err)
	}

	// Changing between plans with different intervals restarts the
	// period from now and keeps tokens_used.
	fake.Advance(10 * 24 * time.Hour)
	sub, err := svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: userID, PlanID: plan.TypeAnnual})
	if err != nil {
		t.Fatalf("Activate annual: %v", err)
	}
	if sub.TokensLimit != 60000 {
		t.Fatalf("expected annual limit 60000, got %d", sub.TokensLimit)
	}
	if !sub.PeriodStart.Equal(fake.Now()) {
		t.Fatalf("expected period restart at change, got start %s", sub.PeriodStart)
	}
	if !sub.PeriodEnd.Equal(fake.Now().AddDate(1, 0, 0)) {
		t.Fatalf("expected one year period, got %s", sub.PeriodEnd)
	}
}

func TestActivateSamePlanFails(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	svc, _, userID := newTestService(t, start)
	ctx := context.Background()

	if _, err := svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: userID, PlanID: plan.TypeMonthly}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if _, err := svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: userID, PlanID: plan.TypeMonthly}); err != subscriptiondomain.ErrAlreadyOnPlan {
		t.Fatalf("expected ErrAlreadyOnPlan, got %v", err)
	}
}

func TestCancelKeepsAccessUntilPeriodEnd(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	svc, fake, userID := newTestService(t, start)
	ctx := context.Background()

	if _, err := svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: userID, PlanID: plan.TypeMonthly}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	sub, err := svc.Cancel(ctx, userID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if sub.Status != subscriptiondomain.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", sub.Status)
	}
	if sub.TokensLimit != 5000 || !sub.PeriodEnd.Equal(start.AddDate(0, 1, 0)) {
		t.Fatalf("cancel must not touch tokens or period")
	}

	// Idempotent.
	again, err := svc.Cancel(ctx, userID)
	if err != nil {
		t.Fatalf("Cancel again: %v", err)
	}
	if !again.CancelledAt.Equal(*sub.CancelledAt) {
		t.Fatalf("second cancel must not move cancelled_at")
	}

	// Still spend-eligible inside the paid window.
	fake.Advance(15 * 24 * time.Hour)
	got, err := svc.Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !subscriptiondomain.SpendEligible(&got) {
		t.Fatal("cancelled subscription should keep access until period end")
	}
}

func TestCancelFreeTierIsNoop(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	svc, _, userID := newTestService(t, start)

	sub, err := svc.Cancel(context.Background(), userID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if sub.Status != subscriptiondomain.StatusActive || sub.CancelledAt != nil {
		t.Fatalf("free tier cancel must be a no-op, got status=%s", sub.Status)
	}
}

func TestReactivate(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	svc, _, userID := newTestService(t, start)
	ctx := context.Background()

	if _, err := svc.Reactivate(ctx, userID); err != subscriptiondomain.ErrNotCancelled {
		t.Fatalf("expected ErrNotCancelled, got %v", err)
	}

	if _, err := svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: userID, PlanID: plan.TypeMonthly}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if _, err := svc.Cancel(ctx, userID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	sub, err := svc.Reactivate(ctx, userID)
	if err != nil {
		t.Fatalf("Reactivate: %v", err)
	}
	if sub.Status != subscriptiondomain.StatusActive || sub.CancelledAt != nil {
		t.Fatalf("expected ACTIVE with cleared cancelled_at, got status=%s", sub.Status)
	}
}

func TestRolloverRenewsActivePlan(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	svc, fake, userID := newTestService(t, start)
	ctx := context.Background()

	if _, err := svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: userID, PlanID: plan.TypeMonthly}); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	fake.Set(start.AddDate(0, 1, 0).Add(time.Hour))
	outcome, err := svc.Rollover(ctx, userID)
	if err != nil {
		t.Fatalf("Rollover: %v", err)
	}
	if outcome.Kind != subscriptiondomain.RolloverRenew {
		t.Fatalf("expected renew, got %s", outcome.Kind)
	}
	sub := outcome.Subject
	if sub.TokensUsed != 0 || sub.TokensLimit != 5000 {
		t.Fatalf("renew must reset usage, got used=%d limit=%d", sub.TokensUsed, sub.TokensLimit)
	}
	// The new period is anchored on the old period_end, not on when the
	// rollover happened to run.
	if !sub.PeriodStart.Equal(start.AddDate(0, 1, 0)) {
		t.Fatalf("expected period start %s, got %s", start.AddDate(0, 1, 0), sub.PeriodStart)
	}

	// Calling again inside the fresh period is a no-op.
	again, err := svc.Rollover(ctx, userID)
	if err != nil {
		t.Fatalf("Rollover again: %v", err)
	}
	if again.Kind != subscriptiondomain.RolloverNone {
		t.Fatalf("expected no-op, got %s", again.Kind)
	}
	if !again.Subject.PeriodEnd.Equal(sub.PeriodEnd) {
		t.Fatalf("second rollover must not move period_end")
	}
}

func TestRolloverCatchesUpMissedPeriods(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	svc, fake, userID := newTestService(t, start)
	ctx := context.Background()

	if _, err := svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: userID, PlanID: plan.TypeMonthly}); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	// Three and a half months idle: the row lands in the period that
	// contains now, not the first missed one.
	fake.Set(start.AddDate(0, 3, 15))
	outcome, err := svc.Rollover(ctx, userID)
	if err != nil {
		t.Fatalf("Rollover: %v", err)
	}
	if outcome.Kind != subscriptiondomain.RolloverRenew {
		t.Fatalf("expected renew, got %s", outcome.Kind)
	}
	if !outcome.Subject.PeriodStart.Equal(start.AddDate(0, 3, 0)) {
		t.Fatalf("expected catch-up to %s, got %s", start.AddDate(0, 3, 0), outcome.Subject.PeriodStart)
	}
	if !outcome.Subject.PeriodEnd.After(fake.Now()) {
		t.Fatalf("period end %s must be in the future", outcome.Subject.PeriodEnd)
	}
}

func TestRolloverDemotesCancelledToFree(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	svc, fake, userID := newTestService(t, start)
	ctx := context.Background()

	if _, err := svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: userID, PlanID: plan.TypeMonthly}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if _, err := svc.Cancel(ctx, userID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	fake.Set(start.AddDate(0, 1, 0).Add(time.Minute))
	outcome, err := svc.Rollover(ctx, userID)
	if err != nil {
		t.Fatalf("Rollover: %v", err)
	}
	if outcome.Kind != subscriptiondomain.RolloverDemote {
		t.Fatalf("expected demote, got %s", outcome.Kind)
	}
	sub := outcome.Subject
	if sub.PlanType != plan.TypeFree || sub.Status != subscriptiondomain.StatusActive {
		t.Fatalf("expected active free row, got plan=%s status=%s", sub.PlanType, sub.Status)
	}
	if sub.TokensLimit != 1000 || sub.TokensUsed != 0 {
		t.Fatalf("expected fresh free grant, got limit=%d used=%d", sub.TokensLimit, sub.TokensUsed)
	}
	if sub.CancelledAt != nil {
		t.Fatal("demote must clear cancelled_at")
	}
	if !sub.PeriodEnd.Equal(fake.Now().AddDate(0, 0, 30)) {
		t.Fatalf("expected fresh 30 day window, got %s", sub.PeriodEnd)
	}
}

func TestGetSettlesLapsedPeriod(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	svc, fake, userID := newTestService(t, start)
	ctx := context.Background()

	fake.Set(start.AddDate(0, 0, 31))
	sub, err := svc.Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !sub.PeriodEnd.After(fake.Now()) {
		t.Fatalf("Get must never surface a lapsed period, got end %s", sub.PeriodEnd)
	}
}
