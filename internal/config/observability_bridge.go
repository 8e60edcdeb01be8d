package config

import (
	"github.com/haasonsaas/nexus/internal/observability"
)

// EffectiveLogConfig converts LoggingConfig into the observability
// package's own shape. Output is left nil so callers get the package
// default (os.Stdout).
func EffectiveLogConfig(cfg LoggingConfig) observability.LogConfig {
	return observability.LogConfig{
		Level:  cfg.Level,
		Format: cfg.Format,
	}
}

// EffectiveTraceConfig converts TracingConfig into the observability
// package's own shape.
func EffectiveTraceConfig(cfg TracingConfig) observability.TraceConfig {
	return observability.TraceConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Endpoint,
		SamplingRate:   cfg.SamplingRate,
		Attributes:     cfg.Attributes,
		EnableInsecure: cfg.Insecure,
	}
}
