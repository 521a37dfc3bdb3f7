package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	SweepReasonDeadlineExceeded     = "deadline_exceeded"
	SweepReasonDBLockTimeout        = "db_lock_timeout"
	SweepReasonSerializationFailure = "serialization_failure"
	SweepReasonUniqueViolation      = "unique_violation"
	SweepReasonDB                   = "db"
	SweepReasonUnknown              = "unknown"
)

// SweeperMetrics captures overdue sweeper health.
type SweeperMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	errors      *prometheus.CounterVec
	overdue     prometheus.Counter
	runLoopLag  prometheus.Observer
	lastSuccess prometheus.Gauge
}

var (
	sweeperMetricsOnce sync.Once
	sweeperMetrics     *SweeperMetrics
)

// Sweeper returns the singleton sweeper metrics registered on the default registry.
func Sweeper() *SweeperMetrics {
	return SweeperWithConfig(Config{})
}

// SweeperWithConfig returns the singleton sweeper metrics using config labels.
func SweeperWithConfig(cfg Config) *SweeperMetrics {
	sweeperMetricsOnce.Do(func() {
		sweeperMetrics = NewSweeperMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return sweeperMetrics
}

// ResetSweeperMetricsForTest resets the singleton for tests.
func ResetSweeperMetricsForTest() {
	sweeperMetricsOnce = sync.Once{}
	sweeperMetrics = nil
}

// NewSweeperMetrics registers sweeper collectors on registerer.
func NewSweeperMetrics(registerer prometheus.Registerer, cfg Config) *SweeperMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "procura"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "procura_sweeper_runs_total",
		Help:        "Overdue sweeper runs by result.",
		ConstLabels: constLabels,
	}, []string{"result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "procura_sweeper_duration_seconds",
		Help:        "Overdue sweeper run latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	}, []string{"result"})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "procura_sweeper_errors_total",
		Help:        "Overdue sweeper errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	overdue := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "procura_sweeper_milestones_overdue_total",
		Help:        "Milestones moved to overdue by the sweeper.",
		ConstLabels: constLabels,
	})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "procura_sweeper_runloop_lag_seconds",
		Help:        "Sweeper run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "procura_sweeper_last_success_timestamp_seconds",
		Help:        "Unix time of the last successful sweep.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(runs, duration, errs, overdue, runLoopLag, lastSuccess)

	return &SweeperMetrics{
		runs:        runs,
		duration:    duration,
		errors:      errs,
		overdue:     overdue,
		runLoopLag:  runLoopLag,
		lastSuccess: lastSuccess,
	}
}

// ObserveRun records one sweep. err is nil on success.
func (m *SweeperMetrics) ObserveRun(finishedAt time.Time, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
		m.errors.WithLabelValues(ClassifySweepReason(err)).Inc()
	} else {
		m.lastSuccess.Set(float64(finishedAt.Unix()))
	}
	m.runs.WithLabelValues(result).Inc()
	m.duration.WithLabelValues(result).Observe(duration.Seconds())
}

func (m *SweeperMetrics) AddOverdue(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.overdue.Add(float64(count))
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *SweeperMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m == nil {
		return
	}
	if lag < 0 {
		lag = 0
	}
	m.runLoopLag.Observe(lag.Seconds())
}

// ClassifySweepReason maps sweep errors to low-cardinality reasons.
func ClassifySweepReason(err error) string {
	switch {
	case err == nil:
		return SweepReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SweepReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return SweepReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return SweepReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return SweepReasonUniqueViolation
	case isDBError(err):
		return SweepReasonDB
	default:
		return SweepReasonUnknown
	}
}

// IsRetryable reports whether a sweep error is transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return hasPGCode(err, "55P03") || hasPGCode(err, "40001")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrInvalidValue) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
