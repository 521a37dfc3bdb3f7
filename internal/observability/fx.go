package observability

import (
	"github.com/smallbiznis/procura/internal/observability/logger"
	"github.com/smallbiznis/procura/internal/observability/metrics"
	"github.com/smallbiznis/procura/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(LoadConfig),
	fx.Provide(func(cfg Config) logger.Config {
		return logger.Config{
			ServiceName:         cfg.ServiceName,
			Environment:         cfg.Environment,
			Version:             cfg.Version,
			Level:               cfg.Log.Level,
			Format:              cfg.Log.Format,
			IncludeCaller:       true,
			IncludeStackOnError: cfg.Debug(),
		}
	}),
	fx.Provide(func(cfg Config) logger.GormLoggerConfig {
		gormCfg := logger.DefaultGormLoggerConfig()
		if cfg.Log.SlowQuery > 0 {
			gormCfg.SlowThreshold = cfg.Log.SlowQuery
		}
		if cfg.Debug() {
			gormCfg.Verbose = true
		}
		return gormCfg
	}),
	fx.Provide(logger.New),

	fx.Provide(func(cfg Config) tracing.Config {
		return tracing.Config{
			Enabled:          cfg.Otel.Enabled,
			ServiceName:      cfg.ServiceName,
			ServiceVersion:   cfg.Version,
			Environment:      cfg.Environment,
			ExporterEndpoint: cfg.Otel.Endpoint,
			ExporterProtocol: cfg.Otel.Protocol,
			SamplingRatio:    cfg.Otel.SamplingRatio,
		}
	}),
	fx.Provide(tracing.NewProvider),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),

	fx.Provide(func(cfg Config) metrics.Config {
		return metrics.Config{
			Enabled:          cfg.Otel.Enabled,
			ExporterEndpoint: cfg.Otel.Endpoint,
			ExporterProtocol: cfg.Otel.Protocol,
			ServiceName:      cfg.ServiceName,
			Environment:      cfg.Environment,
		}
	}),
	fx.Provide(metrics.NewProvider, metrics.New, metrics.SweeperWithConfig),
)
