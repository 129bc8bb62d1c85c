package telemetry

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/onepush/onepush/pkg/engine"
)

// Telemetry bundles logging, tracing and metrics.
type Telemetry struct {
	Logger  zerolog.Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config

	metricsServer *http.Server
}

// New creates a telemetry bundle from configuration and starts the metrics
// server if one is configured.
func New(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, engine.NewConfigurationError("invalid telemetry configuration", err)
	}

	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to create logger", err)
	}

	tracer, err := NewTracer(cfg)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to create tracer", err)
	}

	metrics, err := NewMetrics(MetricsNamespace)
	if err != nil {
		return nil, engine.NewInternalError("failed to create metrics", err)
	}

	t := &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}
	t.metricsServer = metrics.StartMetricsServer(cfg.MetricsListen)
	return t, nil
}

// Nop returns a bundle that logs nothing, exports no spans and keeps no
// metrics.
func Nop() *Telemetry {
	return &Telemetry{
		Logger:  zerolog.Nop(),
		Tracer:  NoopTracer(),
		Metrics: NopMetrics(),
		Config:  DefaultConfig(),
	}
}

// RecordError counts err by class and code.
func (t *Telemetry) RecordError(err error) {
	if err == nil {
		return
	}
	t.Metrics.RecordError(string(engine.ClassOf(err)), engine.CodeOf(err))
}

// Shutdown flushes pending spans and stops the metrics server.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.metricsServer != nil {
		errs = append(errs, t.metricsServer.Shutdown(ctx))
	}
	errs = append(errs, t.Tracer.Shutdown(ctx))
	return errors.Join(errs...)
}
