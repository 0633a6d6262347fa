package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldbill/internal/audit"
	"github.com/smallbiznis/fieldbill/internal/clock"
	"github.com/smallbiznis/fieldbill/internal/config"
	"github.com/smallbiznis/fieldbill/internal/customer"
	"github.com/smallbiznis/fieldbill/internal/invoice"
	"github.com/smallbiznis/fieldbill/internal/job"
	"github.com/smallbiznis/fieldbill/internal/lock"
	"github.com/smallbiznis/fieldbill/internal/migration"
	"github.com/smallbiznis/fieldbill/internal/observability"
	"github.com/smallbiznis/fieldbill/internal/providers"
	"github.com/smallbiznis/fieldbill/internal/receipt"
	"github.com/smallbiznis/fieldbill/internal/render"
	"github.com/smallbiznis/fieldbill/internal/sequence"
	"github.com/smallbiznis/fieldbill/internal/server"
	"github.com/smallbiznis/fieldbill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		lock.Module,

		// Documents
		sequence.Module,
		render.Module,
		providers.Module,

		// Billing domains
		audit.Module,
		customer.Module,
		job.Module,
		invoice.Module,
		receipt.Module,

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
