package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/stylora/stylora/internal/clock"
	"github.com/stylora/stylora/internal/config"
	"github.com/stylora/stylora/internal/migration"
	"github.com/stylora/stylora/internal/observability"
	"github.com/stylora/stylora/internal/scheduler"
	"github.com/stylora/stylora/internal/server"
	"github.com/stylora/stylora/internal/userlock"
	"github.com/stylora/stylora/pkg/db"
	"go.uber.org/fx"
)

// The monolith serves the metering API and runs the rollover sweep in
// the same process. Deployments that want a dedicated sweeper use
// apps/sweeper instead.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		userlock.Module,
		migration.Module,

		server.Module,
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
