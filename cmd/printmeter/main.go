package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/printmeter/internal/clock"
	"github.com/smallbiznis/printmeter/internal/config"
	"github.com/smallbiznis/printmeter/internal/importer"
	"github.com/smallbiznis/printmeter/internal/logger"
	"github.com/smallbiznis/printmeter/internal/migration"
	"github.com/smallbiznis/printmeter/internal/ratelimit"
	"github.com/smallbiznis/printmeter/internal/server"
	"github.com/smallbiznis/printmeter/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		importer.Module,
		ratelimit.Module,
		server.Module,
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
