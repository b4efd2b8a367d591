package notification

import (
	"context"
	"strings"

	"github.com/smallbiznis/tontine/internal/config"
	"github.com/smallbiznis/tontine/internal/events"
	obsmetrics "github.com/smallbiznis/tontine/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(newDispatcher),
	fx.Provide(func(d *Dispatcher) events.Dispatcher { return d }),
)

type dispatcherParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Config     config.Config
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func newDispatcher(p dispatcherParams) *Dispatcher {
	sinks := []Sink{NewLogSink(p.Log)}
	if url := strings.TrimSpace(p.Config.NotifyWebhookURL); url != "" {
		sinks = append(sinks, NewWebhookSink(url, p.Config.ProviderTimeout, p.Log))
	}

	d := NewDispatcher(p.Log, p.ObsMetrics, Options{Workers: p.Config.NotifyWorkers}, sinks...)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: d.Stop,
	})
	return d
}
