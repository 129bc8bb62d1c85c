package telemetry

import (
	"context"

	"github.com/onepush/onepush/pkg/host"
)

// instrumentedRemote records a span, a metric and a trace-level log line
// for every call to the wrapped transport.
type instrumentedRemote struct {
	next    host.Remote
	address string
	tel     *Telemetry
}

// InstrumentRemote wraps r so every remote call is traced and counted.
func InstrumentRemote(r host.Remote, address string, tel *Telemetry) host.Remote {
	if tel == nil {
		return r
	}
	return &instrumentedRemote{next: r, address: address, tel: tel}
}

func (r *instrumentedRemote) observe(ctx context.Context, kind, detail string, fn func(ctx context.Context) error) error {
	timer := NewTimer()
	ctx, span := r.tel.Tracer.StartRemoteSpan(ctx, kind, r.address)
	err := fn(ctx)
	EndSpan(span, err)
	r.tel.Metrics.RecordRemoteCommand(kind, err, timer.Duration())
	r.tel.Logger.Trace().
		Str("host", r.address).
		Str("kind", kind).
		Str("command", detail).
		Dur("duration", timer.Duration()).
		Err(err).
		Msg("remote call")
	return err
}

func (r *instrumentedRemote) Execute(ctx context.Context, cmd string) error {
	return r.observe(ctx, "execute", cmd, func(ctx context.Context) error {
		return r.next.Execute(ctx, cmd)
	})
}

func (r *instrumentedRemote) Test(ctx context.Context, cmd string) (bool, error) {
	var ok bool
	err := r.observe(ctx, "test", cmd, func(ctx context.Context) error {
		var err error
		ok, err = r.next.Test(ctx, cmd)
		return err
	})
	return ok, err
}

func (r *instrumentedRemote) Capture(ctx context.Context, cmd string, opts host.CaptureOptions) (string, error) {
	var out string
	err := r.observe(ctx, "capture", cmd, func(ctx context.Context) error {
		var err error
		out, err = r.next.Capture(ctx, cmd, opts)
		return err
	})
	return out, err
}

func (r *instrumentedRemote) Upload(ctx context.Context, content []byte, remotePath string) error {
	return r.observe(ctx, "upload", remotePath, func(ctx context.Context) error {
		return r.next.Upload(ctx, content, remotePath)
	})
}

func (r *instrumentedRemote) Download(ctx context.Context, remotePath string) ([]byte, error) {
	var b []byte
	err := r.observe(ctx, "download", remotePath, func(ctx context.Context) error {
		var err error
		b, err = r.next.Download(ctx, remotePath)
		return err
	})
	return b, err
}
