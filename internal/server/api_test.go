package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stylora/stylora/internal/clock"
	"github.com/stylora/stylora/internal/config"
	entitlementdomain "github.com/stylora/stylora/internal/entitlement/domain"
	entitlementrepository "github.com/stylora/stylora/internal/entitlement/repository"
	entitlementservice "github.com/stylora/stylora/internal/entitlement/service"
	ledgerdomain "github.com/stylora/stylora/internal/ledger/domain"
	ledgerrepository "github.com/stylora/stylora/internal/ledger/repository"
	ledgerservice "github.com/stylora/stylora/internal/ledger/service"
	"github.com/stylora/stylora/internal/observability"
	obsmetrics "github.com/stylora/stylora/internal/observability/metrics"
	"github.com/stylora/stylora/internal/plan"
	subscriptiondomain "github.com/stylora/stylora/internal/subscription/domain"
	subscriptionrepository "github.com/stylora/stylora/internal/subscription/repository"
	subscriptionservice "github.com/stylora/stylora/internal/subscription/service"
	"github.com/stylora/stylora/internal/userlock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const identityHeader = "X-Stylora-User"

func swapPrometheusRegistry(t *testing.T) {
	t.Helper()
	registry := prometheus.NewRegistry()
	origRegisterer := prometheus.DefaultRegisterer
	origGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	obsmetrics.ResetEngineMetricsForTest()
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origRegisterer
		prometheus.DefaultGatherer = origGatherer
		obsmetrics.ResetEngineMetricsForTest()
	})
}

type apiFixture struct {
	server *Server
	clock  *clock.FakeClock
	node   *snowflake.Node
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	swapPrometheusRegistry(t)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	require.NoError(t, db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&ledgerdomain.UsageEvent{},
		&entitlementdomain.AddOn{},
	))

	node, _ := snowflake.NewNode(1)
	fake := clock.NewFakeClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	locks := userlock.NewArena()
	catalog := plan.NewCatalog()
	subRepo := subscriptionrepository.Provide()

	policy := &config.PolicyHolder{}
	policy.Store(config.DefaultPolicyConfig())

	cfg := config.Config{
		HTTPAddr:      ":0",
		TrustedIDHint: identityHeader,
	}
	log := zap.NewNop()

	subsSvc := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fake,
		Repo: subRepo, Catalog: catalog, Locks: locks,
	})
	ledgerSvc := ledgerservice.NewService(ledgerservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fake,
		Repo: ledgerrepository.Provide(), SubRepo: subRepo,
		Catalog: catalog, Locks: locks,
	})
	entSvc := entitlementservice.NewService(entitlementservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fake,
		Repo: entitlementrepository.Provide(), Subs: subsSvc,
		Policy: policy, Locks: locks,
	})

	engine := NewEngine(observability.Config{}, obsmetrics.NewHTTPMetrics())
	srv := NewServer(ServerParams{
		Gin:             engine,
		Cfg:             cfg,
		GenID:           node,
		SubscriptionSvc: subsSvc,
		LedgerSvc:       ledgerSvc,
		EntitlementSvc:  entSvc,
	})
	return &apiFixture{server: srv, clock: fake, node: node}
}

func (f *apiFixture) do(t *testing.T, method, path string, userID snowflake.ID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set(identityHeader, userID.String())
	}
	rec := httptest.NewRecorder()
	f.server.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestIdentityHeaderRequired(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/me/subscription", 0, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/me/subscription", nil)
	req.Header.Set(identityHeader, "not-a-snowflake")
	rec2 := httptest.NewRecorder()
	f.server.Engine().ServeHTTP(rec2, req)
	require.Equal(t, http.StatusUnauthorized, rec2.Code)
}

func TestPlansEndpointIsPublic(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/plans", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeJSON(t, rec)["data"].([]any)
	require.Len(t, data, 3, "free tier is not purchasable")
}

func TestSignupAndSpendFlow(t *testing.T) {
	f := newAPIFixture(t)
	userID := f.node.Generate()

	rec := f.do(t, http.MethodPost, "/v1/me/signup", userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Signup is idempotent.
	rec = f.do(t, http.MethodPost, "/v1/me/signup", userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/me/subscription/activate", userID, gin.H{"plan_id": "monthly"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/me/ledger/deduct", userID, gin.H{"amount": 4999})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	require.Equal(t, true, body["committed"])
	require.Equal(t, float64(1), body["remaining"])

	// Insufficient balance is a payment-required response, not a 4xx
	// validation failure.
	rec = f.do(t, http.MethodPost, "/v1/me/ledger/deduct", userID, gin.H{"amount": 2})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	body = decodeJSON(t, rec)
	require.Equal(t, false, body["committed"])
	require.Equal(t, "insufficient_tokens", body["reason"])
	require.Equal(t, float64(1), body["remaining"])
	require.Equal(t, float64(2), body["required"])

	rec = f.do(t, http.MethodPost, "/v1/me/ledger/refund", userID, gin.H{"amount": 999})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/me/ledger/balance", userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeJSON(t, rec)["data"].(map[string]any)
	require.Equal(t, float64(1000), data["remaining"])
	require.Equal(t, "80.0", data["percent_used"])
}

func TestActivateValidation(t *testing.T) {
	f := newAPIFixture(t)
	userID := f.node.Generate()
	f.do(t, http.MethodPost, "/v1/me/signup", userID, nil)

	rec := f.do(t, http.MethodPost, "/v1/me/subscription/activate", userID, gin.H{"plan_id": "platinum"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/me/subscription/activate", userID, gin.H{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Reactivate before ever cancelling conflicts with current state.
	rec = f.do(t, http.MethodPost, "/v1/me/subscription/reactivate", userID, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeductWithoutSubscription(t *testing.T) {
	f := newAPIFixture(t)
	userID := f.node.Generate()

	rec := f.do(t, http.MethodPost, "/v1/me/ledger/deduct", userID, gin.H{"amount": 10})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	require.Equal(t, "plan_inactive", decodeJSON(t, rec)["reason"])
}

func TestAddOnRoutes(t *testing.T) {
	f := newAPIFixture(t)
	userID := f.node.Generate()
	f.do(t, http.MethodPost, "/v1/me/signup", userID, nil)
	f.do(t, http.MethodPost, "/v1/me/subscription/activate", userID, gin.H{"plan_id": "monthly"})

	purchase := gin.H{"resource_kind": "brand_profile", "quantity": 2, "idempotency_key": "order-1"}
	rec := f.do(t, http.MethodPost, "/v1/me/addons", userID, purchase)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/me/addons", userID, purchase)
	require.Equal(t, http.StatusOK, rec.Code, "duplicate purchase returns the original")

	rec = f.do(t, http.MethodGet, "/v1/me/entitlements/brand_profile", userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	capData := decodeJSON(t, rec)["data"].(map[string]any)
	require.Equal(t, float64(4), capData["effective"])

	rec = f.do(t, http.MethodGet, "/v1/me/entitlements/brand_profile/can-create?current_count=3", userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeJSON(t, rec)["allowed"])

	rec = f.do(t, http.MethodGet, "/v1/me/entitlements/brand_profile/can-create?current_count=4", userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decodeJSON(t, rec)["allowed"])
}
