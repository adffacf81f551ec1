package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/stylora/stylora/internal/clock"
	"github.com/stylora/stylora/internal/config"
	"github.com/stylora/stylora/internal/observability"
	"github.com/stylora/stylora/internal/plan"
	"github.com/stylora/stylora/internal/ratelimit"
	"github.com/stylora/stylora/internal/scheduler"
	"github.com/stylora/stylora/internal/subscription"
	"github.com/stylora/stylora/internal/userlock"
	"github.com/stylora/stylora/pkg/db"
	"go.uber.org/fx"
)

// Headless rollover sweeper. No HTTP server; the API process owns the
// schema, so migrations are skipped here as well.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		userlock.Module,

		plan.Module,
		ratelimit.Module,
		subscription.Module,

		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
