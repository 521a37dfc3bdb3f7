package observability

import (
	"strings"
	"time"

	"github.com/smallbiznis/procura/internal/config"
	"github.com/spf13/viper"
)

// Config groups logging and OpenTelemetry settings.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	Log  LogConfig
	Otel OtelConfig
}

type LogConfig struct {
	Level  string
	Format string
	// SlowQuery is the statement duration above which gorm queries log at warn.
	SlowQuery time.Duration
}

type OtelConfig struct {
	Enabled       bool
	Endpoint      string
	Protocol      string
	SamplingRatio float64
}

// LoadConfig layers LOG_*, DB_SLOW_QUERY and OTEL_* variables over the
// application config.
func LoadConfig(cfg config.Config) Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("DEPLOYMENT_ENV", cfg.Environment)
	v.SetDefault("SERVICE_VERSION", cfg.AppVersion)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("DB_SLOW_QUERY", 200*time.Millisecond)
	v.SetDefault("OTEL_ENABLED", true)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	v.SetDefault("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	v.SetDefault("OTEL_SAMPLING_RATIO", 0.1)

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "procura"
	}

	protocol := v.GetString("OTEL_EXPORTER_OTLP_PROTOCOL")
	if traces := strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}

	return Config{
		ServiceName: serviceName,
		Environment: strings.TrimSpace(v.GetString("DEPLOYMENT_ENV")),
		Version:     strings.TrimSpace(v.GetString("SERVICE_VERSION")),
		Log: LogConfig{
			Level:     lower(v.GetString("LOG_LEVEL")),
			Format:    lower(v.GetString("LOG_FORMAT")),
			SlowQuery: v.GetDuration("DB_SLOW_QUERY"),
		},
		Otel: OtelConfig{
			Enabled:       v.GetBool("OTEL_ENABLED"),
			Endpoint:      strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT")),
			Protocol:      lower(protocol),
			SamplingRatio: v.GetFloat64("OTEL_SAMPLING_RATIO"),
		},
	}
}

// Debug is true for debug log level or a development environment.
func (c Config) Debug() bool {
	if lower(c.Log.Level) == "debug" {
		return true
	}
	switch lower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
