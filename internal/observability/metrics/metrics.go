package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	obligationsMarked      metric.Int64Counter
	subscriptionsCompleted metric.Int64Counter
	commissionsPaid        metric.Int64Counter
	paymentAttempts        metric.Int64Counter
	webhooks               metric.Int64Counter
	tokenRenewals          metric.Int64Counter
	notificationsFailed    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "tontine"
	}
	meter := provider.Meter(name)

	obligationsMarked, err := meter.Int64Counter("tontine_obligations_marked_total")
	if err != nil {
		return nil, err
	}
	subscriptionsCompleted, err := meter.Int64Counter("tontine_subscriptions_completed_total")
	if err != nil {
		return nil, err
	}
	commissionsPaid, err := meter.Int64Counter("tontine_commissions_paid_total")
	if err != nil {
		return nil, err
	}
	paymentAttempts, err := meter.Int64Counter("tontine_payment_attempts_total")
	if err != nil {
		return nil, err
	}
	webhooks, err := meter.Int64Counter("tontine_webhooks_total")
	if err != nil {
		return nil, err
	}
	tokenRenewals, err := meter.Int64Counter("tontine_token_renewals_total")
	if err != nil {
		return nil, err
	}
	notificationsFailed, err := meter.Int64Counter("tontine_notifications_failed_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		obligationsMarked:      obligationsMarked,
		subscriptionsCompleted: subscriptionsCompleted,
		commissionsPaid:        commissionsPaid,
		paymentAttempts:        paymentAttempts,
		webhooks:               webhooks,
		tokenRenewals:          tokenRenewals,
		notificationsFailed:    notificationsFailed,
	}, nil
}

// RecordObligationsMarked adds the number of obligations that transitioned to paid.
func (m *Metrics) RecordObligationsMarked(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.obligationsMarked.Add(ctx, int64(count))
}

func (m *Metrics) RecordSubscriptionCompleted(ctx context.Context, cycle string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("cycle", strings.TrimSpace(cycle)))
	m.subscriptionsCompleted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordCommissionsPaid(ctx context.Context, provider string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.commissionsPaid.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordPaymentAttempt counts initiate calls by provider and outcome.
func (m *Metrics) RecordPaymentAttempt(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.paymentAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhook counts webhook deliveries by provider and reconciliation result.
func (m *Metrics) RecordWebhook(ctx context.Context, provider, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.webhooks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordTokenRenewal(ctx context.Context, provider, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.tokenRenewals.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordNotificationFailed(ctx context.Context, sink, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("sink", strings.TrimSpace(sink)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.notificationsFailed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"route":       {},
	"method":      {},
	"status_code": {},
	"cycle":       {},
	"provider":    {},
	"outcome":     {},
	"result":      {},
	"sink":        {},
	"event_type":  {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
