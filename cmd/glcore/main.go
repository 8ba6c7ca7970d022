package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/glcore/internal/clock"
	"github.com/smallbiznis/glcore/internal/config"
	"github.com/smallbiznis/glcore/internal/migration"
	"github.com/smallbiznis/glcore/internal/observability"
	"github.com/smallbiznis/glcore/internal/scheduler"
	"github.com/smallbiznis/glcore/internal/server"
	"github.com/smallbiznis/glcore/pkg/db"
	"github.com/smallbiznis/glcore/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
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
