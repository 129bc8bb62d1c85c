package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/onepush/onepush/pkg/engine"
	"github.com/onepush/onepush/pkg/stores"
	"github.com/onepush/onepush/pkg/telemetry"
)

// Result reports how far a push got.
type Result struct {
	RunID    string
	Revision string
	// Pushed lists the targets that were updated, in order.
	Pushed []string
	// Failed is the target that stopped the push, if any.
	Failed string
}

// Pusher force-pushes the local revision to every target.
type Pusher struct {
	Git       Git
	Telemetry *telemetry.Telemetry
	// Store receives the run and one event per target. Optional.
	Store stores.Store
}

// Push pushes to the targets of cfg strictly in order and stops at the
// first failure. Targets already pushed are left updated.
func (p *Pusher) Push(ctx context.Context, cfg *Config) (*Result, error) {
	tel := p.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}
	kind := string(stores.RunKindPush)
	timer := telemetry.NewTimer()
	res := &Result{RunID: uuid.New().String()}
	logger := tel.Logger.With().Str("run_id", res.RunID).Str("app_id", cfg.AppID).Logger()

	rev, err := p.Git.CurrentRevision(ctx)
	if err != nil {
		return res, engine.NewEnvironmentError("failed to determine the current git revision", err)
	}
	res.Revision = rev
	targets := ResolveTargets(cfg)

	if err := p.createRun(ctx, res, targets); err != nil {
		return res, err
	}
	tel.Metrics.RecordRunStarted(kind)
	ctx, span := tel.Tracer.StartRunSpan(ctx, res.RunID, kind)

	err = p.pushAll(ctx, res, targets, tel)

	status := stores.RunStatusSucceeded
	if err != nil {
		status = stores.RunStatusFailed
		tel.RecordError(err)
		logger.Error().Err(err).Str("target", res.Failed).Msg("push failed")
	} else {
		logger.Info().Int("targets", len(res.Pushed)).Str("revision", rev).Msg("push finished")
	}
	tel.Metrics.RecordRunCompleted(kind, string(status), timer.Duration())
	telemetry.EndSpan(span, err)
	p.finishRun(ctx, res.RunID, status, err, tel)
	return res, err
}

func (p *Pusher) pushAll(ctx context.Context, res *Result, targets []string, tel *telemetry.Telemetry) error {
	for _, url := range targets {
		tel.Logger.Info().Str("target", url).Msgf("Pushing to %s...", url)
		tctx, span := tel.Tracer.StartPushSpan(ctx, url)
		err := p.Git.Push(tctx, url, res.Revision)
		tel.Metrics.RecordPush(err)
		telemetry.EndSpan(span, err)

		if err != nil {
			res.Failed = url
			p.event(ctx, res.RunID, url, stores.EventLevelError, err.Error(), tel)
			return engine.NewPushError(fmt.Sprintf("push to %s failed", url), err).
				WithCode(engine.ErrCodePushFailed).
				WithOperation("push").
				WithDetail("target", url).
				WithDetail("revision", res.Revision)
		}
		res.Pushed = append(res.Pushed, url)
		p.event(ctx, res.RunID, url, stores.EventLevelInfo, "pushed "+res.Revision, tel)
	}
	return nil
}

func (p *Pusher) createRun(ctx context.Context, res *Result, targets []string) error {
	if p.Store == nil {
		return nil
	}
	meta, err := json.Marshal(map[string]any{"revision": res.Revision, "targets": targets})
	if err != nil {
		return engine.NewInternalError("failed to encode run metadata", err)
	}
	err = p.Store.CreateRun(ctx, &stores.Run{
		ID:        res.RunID,
		Kind:      stores.RunKindPush,
		Status:    stores.RunStatusRunning,
		StartedAt: time.Now().UTC(),
		Metadata:  string(meta),
	})
	if err != nil {
		return engine.NewInternalError("failed to record run", err)
	}
	return nil
}

func (p *Pusher) finishRun(ctx context.Context, runID string, status stores.RunStatus, runErr error, tel *telemetry.Telemetry) {
	if p.Store == nil {
		return
	}
	var msg *string
	if runErr != nil {
		s := runErr.Error()
		msg = &s
	}
	if err := p.Store.FinishRun(context.WithoutCancel(ctx), runID, status, msg); err != nil {
		tel.Logger.Warn().Err(err).Msg("failed to record run result")
	}
}

func (p *Pusher) event(ctx context.Context, runID, target string, level stores.EventLevel, msg string, tel *telemetry.Telemetry) {
	if p.Store == nil {
		return
	}
	err := p.Store.AppendEvent(context.WithoutCancel(ctx), &stores.Event{
		RunID:   runID,
		Host:    target,
		Task:    "push",
		Level:   level,
		Message: msg,
	})
	if err != nil {
		tel.Logger.Warn().Err(err).Msg("failed to record event")
	}
}
