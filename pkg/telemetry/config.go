package telemetry

import "fmt"

// Trace exporters accepted by Config.TraceExporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// MetricsNamespace prefixes every onepush metric.
const MetricsNamespace = "onepush"

// Config selects where one onepush invocation sends its logs, spans and
// metrics.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// LogLevel is one of trace, debug, info, warn, error or fatal.
	LogLevel string
	// LogFormat is "console" or "json". Logs always go to stderr.
	LogFormat string

	// TraceExporter is ExporterNone, ExporterStdout or ExporterOTLP.
	TraceExporter string
	// OTLPEndpoint is the collector's host:port. The connection is not
	// encrypted.
	OTLPEndpoint string

	// MetricsListen, when set, serves /metrics on that address for the
	// duration of the run.
	MetricsListen string
}

// DefaultConfig logs to the console at info level, keeps metrics in memory
// and records no spans.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "onepush",
		ServiceVersion: "dev",
		LogLevel:       "info",
		LogFormat:      "console",
		TraceExporter:  ExporterNone,
	}
}

// TracingEnabled reports whether spans are exported anywhere.
func (c *Config) TracingEnabled() bool {
	return c.TraceExporter != "" && c.TraceExporter != ExporterNone
}

// Validate rejects unknown levels, formats and exporters.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format %q (use console or json)", c.LogFormat)
	}
	switch c.TraceExporter {
	case "", ExporterNone, ExporterStdout:
	case ExporterOTLP:
		if c.OTLPEndpoint == "" {
			return fmt.Errorf("the otlp trace exporter needs an endpoint")
		}
	default:
		return fmt.Errorf("invalid trace exporter %q (use none, stdout or otlp)", c.TraceExporter)
	}
	return nil
}
