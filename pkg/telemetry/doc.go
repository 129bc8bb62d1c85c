// Package telemetry wires structured logging (zerolog), tracing
// (OpenTelemetry) and metrics (Prometheus) for onepush runs.
//
// A Telemetry value bundles all three and is built once per process from a
// Config:
//
//	tel, err := telemetry.New(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Spans and metrics are recorded at three levels: a run (one setup or
// push invocation), a task on a host, and a remote command. Remote commands
// are instrumented by wrapping a host's transport with InstrumentRemote.
//
// Metrics and tracing are both optional. A disabled Metrics value accepts
// every Record call and does nothing; a disabled Tracer hands out
// non-recording spans.
package telemetry
