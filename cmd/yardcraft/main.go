package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/yardcraft/internal/clock"
	"github.com/smallbiznis/yardcraft/internal/config"
	"github.com/smallbiznis/yardcraft/internal/migration"
	"github.com/smallbiznis/yardcraft/internal/observability"
	"github.com/smallbiznis/yardcraft/internal/scheduler"
	"github.com/smallbiznis/yardcraft/internal/server"
	"github.com/smallbiznis/yardcraft/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// server.Module wires the domain services; the scheduler reuses them.
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
