package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tontine/internal/agent"
	"github.com/smallbiznis/tontine/internal/client"
	"github.com/smallbiznis/tontine/internal/clock"
	"github.com/smallbiznis/tontine/internal/commission"
	"github.com/smallbiznis/tontine/internal/config"
	"github.com/smallbiznis/tontine/internal/enforcement"
	"github.com/smallbiznis/tontine/internal/events"
	"github.com/smallbiznis/tontine/internal/notification"
	"github.com/smallbiznis/tontine/internal/obligation"
	"github.com/smallbiznis/tontine/internal/observability"
	"github.com/smallbiznis/tontine/internal/payment"
	"github.com/smallbiznis/tontine/internal/providertoken"
	"github.com/smallbiznis/tontine/internal/ratelimit"
	"github.com/smallbiznis/tontine/internal/scheduler"
	"github.com/smallbiznis/tontine/internal/subscription"
	"github.com/smallbiznis/tontine/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,
		events.Module,
		notification.Module,
		providertoken.Module,

		// Domain services required by scheduler jobs
		agent.Module,
		client.Module,
		commission.Module,
		subscription.Module,
		obligation.Module,
		enforcement.Module,
		payment.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}
