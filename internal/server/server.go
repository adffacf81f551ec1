// Package server wires the HTTP surface of the metering engine.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stylora/stylora/internal/config"
	"github.com/stylora/stylora/internal/entitlement"
	entitlementdomain "github.com/stylora/stylora/internal/entitlement/domain"
	"github.com/stylora/stylora/internal/ledger"
	ledgerdomain "github.com/stylora/stylora/internal/ledger/domain"
	"github.com/stylora/stylora/internal/observability"
	obsmiddleware "github.com/stylora/stylora/internal/observability/logger"
	obsmetrics "github.com/stylora/stylora/internal/observability/metrics"
	"github.com/stylora/stylora/internal/plan"
	"github.com/stylora/stylora/internal/ratelimit"
	"github.com/stylora/stylora/internal/subscription"
	subscriptiondomain "github.com/stylora/stylora/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	plan.Module,
	ratelimit.Module,
	subscription.Module,
	ledger.Module,
	entitlement.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	genID  *snowflake.Node

	subscriptionSvc subscriptiondomain.Service
	ledgerSvc       ledgerdomain.Service
	entitlementSvc  entitlementdomain.Service
	deductLimiter   *ratelimit.DeductLimiter
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	GenID *snowflake.Node

	SubscriptionSvc subscriptiondomain.Service
	LedgerSvc       ledgerdomain.Service
	EntitlementSvc  entitlementdomain.Service
	DeductLimiter   *ratelimit.DeductLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,
		genID:  p.GenID,

		subscriptionSvc: p.SubscriptionSvc,
		ledgerSvc:       p.LedgerSvc,
		entitlementSvc:  p.EntitlementSvc,
		deductLimiter:   p.DeductLimiter,
	}
	s.registerAPIRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")
	api.GET("/plans", s.ListPlans)

	me := api.Group("/me", s.TrustedIdentity())
	{
		me.POST("/signup", s.EnsureSubscription)
		me.GET("/subscription", s.GetSubscription)
		me.POST("/subscription/activate", s.ActivateSubscription)
		me.POST("/subscription/cancel", s.CancelSubscription)
		me.POST("/subscription/reactivate", s.ReactivateSubscription)

		me.POST("/ledger/deduct", s.DeductRateLimit(), s.Deduct)
		me.POST("/ledger/refund", s.Refund)
		me.GET("/ledger/balance", s.GetBalance)
		me.GET("/ledger/events", s.ListUsageEvents)
		me.POST("/ledger/reconcile", s.Reconcile)

		me.GET("/entitlements/:resource", s.GetEffectiveCap)
		me.GET("/entitlements/:resource/can-create", s.CanCreate)
		me.GET("/addons", s.ListAddOns)
		me.POST("/addons", s.PurchaseAddOn)
		me.POST("/addons/:id/cancel", s.CancelAddOn)
	}
}
