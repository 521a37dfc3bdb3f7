package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"gorm.io/gorm"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("method", "wire_transfer"),
		attribute.String("invoice_id", "456"),
		attribute.String("trigger", "goods_received"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("method"), attrs[0].Key)
	assert.Equal(t, attribute.Key("trigger"), attrs[1].Key)
}

func TestDomainCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{ServiceName: "procura-test"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordPayment(ctx, "wire_transfer", true, 150_000)
	m.RecordPayment(ctx, "check", false, 10_000)
	m.RecordTrigger(ctx, "goods_received", "applied")
	m.RecordOverdue(ctx, "sweep", 0)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			if data, ok := metric.Data.(metricdata.Sum[int64]); ok {
				for _, point := range data.DataPoints {
					sums[metric.Name] += point.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), sums["procura_payments_recorded_total"])
	assert.Equal(t, int64(1), sums["procura_trigger_events_total"])
	assert.Zero(t, sums["procura_milestones_overdue_total"])
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordPayment(context.Background(), "cash", false, 1)
	var s *SweeperMetrics
	s.ObserveRun(time.Now(), time.Second, nil)
}

func TestClassifySweepReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SweepReasonDeadlineExceeded},
		{name: "lock timeout", err: &pgconn.PgError{Code: "55P03"}, want: SweepReasonDBLockTimeout},
		{name: "serialization", err: fmt.Errorf("tick: %w", &pgconn.PgError{Code: "40001"}), want: SweepReasonSerializationFailure},
		{name: "unique", err: gorm.ErrDuplicatedKey, want: SweepReasonUniqueViolation},
		{name: "db", err: gorm.ErrInvalidTransaction, want: SweepReasonDB},
		{name: "unknown", err: errors.New("boom"), want: SweepReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifySweepReason(tc.err))
		})
	}
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsRetryable(errors.New("boom")))
}

func TestSweeperMetricsObserveRun(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewSweeperMetrics(registry, Config{Environment: "test"})

	finished := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m.ObserveRun(finished, 2*time.Second, nil)
	m.ObserveRun(finished, time.Second, context.DeadlineExceeded)
	m.AddOverdue(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues(SweepReasonDeadlineExceeded)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.overdue))
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(m.lastSuccess))
}
