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

// Metrics exposes payment schedule instruments.
type Metrics struct {
	paymentsRecorded  metric.Int64Counter
	paymentAmount     metric.Int64Histogram
	paymentsDeleted   metric.Int64Counter
	paymentRejections metric.Int64Counter
	schedulesSaved    metric.Int64Counter
	triggersApplied   metric.Int64Counter
	milestonesOverdue metric.Int64Counter
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
		name = "procura"
	}
	meter := provider.Meter(name)

	paymentsRecorded, err := meter.Int64Counter("procura_payments_recorded_total")
	if err != nil {
		return nil, err
	}
	paymentAmount, err := meter.Int64Histogram("procura_payment_amount_minor",
		metric.WithDescription("Recorded payment amounts in minor currency units."))
	if err != nil {
		return nil, err
	}
	paymentsDeleted, err := meter.Int64Counter("procura_payments_deleted_total")
	if err != nil {
		return nil, err
	}
	paymentRejections, err := meter.Int64Counter("procura_payment_rejections_total")
	if err != nil {
		return nil, err
	}
	schedulesSaved, err := meter.Int64Counter("procura_schedules_saved_total")
	if err != nil {
		return nil, err
	}
	triggersApplied, err := meter.Int64Counter("procura_trigger_events_total")
	if err != nil {
		return nil, err
	}
	milestonesOverdue, err := meter.Int64Counter("procura_milestones_overdue_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentsRecorded:  paymentsRecorded,
		paymentAmount:     paymentAmount,
		paymentsDeleted:   paymentsDeleted,
		paymentRejections: paymentRejections,
		schedulesSaved:    schedulesSaved,
		triggersApplied:   triggersApplied,
		milestonesOverdue: milestonesOverdue,
	}, nil
}

// RecordPayment counts a recorded payment. linked reports whether it credited milestones.
func (m *Metrics) RecordPayment(ctx context.Context, method string, linked bool, amount int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("method", strings.TrimSpace(method)),
		attribute.Bool("linked", linked),
	)
	m.paymentsRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.paymentAmount.Record(ctx, amount, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordPaymentDeleted(ctx context.Context, method string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("method", strings.TrimSpace(method)))
	m.paymentsDeleted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentRejected counts payments refused by a validation rule.
func (m *Metrics) RecordPaymentRejected(ctx context.Context, rule string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("rule", strings.TrimSpace(rule)))
	m.paymentRejections.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordScheduleSaved counts schedule commits by outcome (committed or invalid).
func (m *Metrics) RecordScheduleSaved(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.schedulesSaved.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTrigger counts a trigger event by outcome (applied, replayed or no_match).
func (m *Metrics) RecordTrigger(ctx context.Context, trigger, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("trigger", strings.TrimSpace(trigger)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.triggersApplied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordOverdue counts milestones that became overdue, by the code path that noticed.
func (m *Metrics) RecordOverdue(ctx context.Context, source string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("source", strings.TrimSpace(source)))
	m.milestonesOverdue.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
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
	"method":  {},
	"linked":  {},
	"rule":    {},
	"outcome": {},
	"trigger": {},
	"source":  {},
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
