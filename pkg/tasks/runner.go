package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/onepush/onepush/pkg/engine"
	"github.com/onepush/onepush/pkg/host"
	"github.com/onepush/onepush/pkg/manifest"
	"github.com/onepush/onepush/pkg/stores"
	"github.com/onepush/onepush/pkg/telemetry"
)

// Task outcomes as reported in HostResult and metrics.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Runner converges a set of hosts by running the graph on each of them.
// Hosts run concurrently; the tasks of one host run one after another.
type Runner struct {
	Graph      *Graph
	Manifest   *manifest.Context
	PublicKeys []string

	// Parallelism bounds how many hosts are worked on at once. Zero or less
	// means no bound.
	Parallelism int

	Telemetry *telemetry.Telemetry

	// Store receives the run and its events. Optional.
	Store stores.Store
}

// TaskResult is the outcome of one task on one host.
type TaskResult struct {
	Task     string
	Status   string
	Duration time.Duration
}

// HostResult is the outcome of a run on one host.
type HostResult struct {
	Host  string
	Tasks []TaskResult
	Err   error
}

// Result summarizes a run.
type Result struct {
	RunID string
	Hosts []HostResult
}

// Run executes the graph on every host. The first host failure cancels the
// remaining hosts and is returned; results are reported for every host
// that was started.
func (r *Runner) Run(ctx context.Context, hosts []*host.Host) (*Result, error) {
	if r.Graph == nil || r.Manifest == nil {
		return nil, engine.NewInternalError("runner needs a graph and a manifest", nil)
	}
	tel := r.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}

	runID := uuid.New().String()
	kind := string(stores.RunKindSetup)
	logger := tel.Logger.With().Str("run_id", runID).Logger()
	timer := telemetry.NewTimer()

	if err := r.createRun(ctx, runID, hosts); err != nil {
		return nil, err
	}
	tel.Metrics.RecordRunStarted(kind)
	ctx, span := tel.Tracer.StartRunSpan(ctx, runID, kind)

	logger.Info().Int("hosts", len(hosts)).Int("tasks", r.Graph.Len()).Msg("starting setup")

	result := &Result{RunID: runID, Hosts: make([]HostResult, len(hosts))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if r.Parallelism > 0 {
		g.SetLimit(r.Parallelism)
	}
	for i, h := range hosts {
		i, h := i, h
		g.Go(func() error {
			hr := r.runHost(gctx, runID, h, tel, logger)
			mu.Lock()
			result.Hosts[i] = hr
			mu.Unlock()
			return hr.Err
		})
	}
	err := g.Wait()

	status := stores.RunStatusSucceeded
	if err != nil {
		status = stores.RunStatusFailed
		tel.RecordError(err)
		logger.Error().Err(err).Msg("setup failed")
	} else {
		logger.Info().Dur("duration", timer.Duration()).Msg("setup finished")
	}
	tel.Metrics.RecordRunCompleted(kind, string(status), timer.Duration())
	telemetry.EndSpan(span, err)
	r.finishRun(ctx, runID, status, err, logger)

	return result, err
}

func (r *Runner) runHost(ctx context.Context, runID string, h *host.Host, tel *telemetry.Telemetry, logger zerolog.Logger) HostResult {
	hr := HostResult{Host: h.Address}
	logger = logger.With().Str("host", h.Address).Logger()

	tel.Metrics.HostStarted()
	defer tel.Metrics.HostFinished()
	ctx, span := tel.Tracer.StartHostSpan(ctx, h.Address)

	// Restored on return so the host can be run again.
	remote := h.Remote
	h.Remote = telemetry.InstrumentRemote(remote, h.Address, tel)
	defer func() { h.Remote = remote }()

	for _, t := range r.Graph.Order() {
		if len(t.Roles) > 0 && !h.HasAnyRole(t.Roles...) {
			hr.Tasks = append(hr.Tasks, TaskResult{Task: t.Name, Status: StatusSkipped})
			continue
		}
		tr, err := r.runTask(ctx, runID, h, t, tel, logger)
		hr.Tasks = append(hr.Tasks, tr)
		if err != nil {
			hr.Err = err
			break
		}
	}

	telemetry.EndSpan(span, hr.Err)
	return hr
}

func (r *Runner) runTask(ctx context.Context, runID string, h *host.Host, t *Task, tel *telemetry.Telemetry, logger zerolog.Logger) (TaskResult, error) {
	logger = logger.With().Str("task", t.Name).Logger()
	timer := telemetry.NewTimer()
	ctx, span := tel.Tracer.StartTaskSpan(ctx, t.Name, h.Address)

	if t.Notice != "" {
		logger.Info().Msg(t.Notice)
	}
	r.event(ctx, runID, h.Address, t.Name, stores.EventLevelInfo, "started", logger)

	env := &Env{
		Host:       h,
		Manifest:   r.Manifest,
		PublicKeys: r.PublicKeys,
		Log:        logger,
		Metrics:    tel.Metrics,
		task:       t.Name,
	}
	err := t.Run(ctx, env)
	if err != nil {
		err = annotate(err, h.Address, t.Name)
	}

	tr := TaskResult{Task: t.Name, Status: StatusSucceeded, Duration: timer.Duration()}
	if err != nil {
		tr.Status = StatusFailed
		logger.Error().Err(err).Msg("task failed")
		r.event(ctx, runID, h.Address, t.Name, stores.EventLevelError, err.Error(), logger)
	} else {
		logger.Debug().Dur("duration", tr.Duration).Msg("task finished")
		r.event(ctx, runID, h.Address, t.Name, stores.EventLevelInfo, "finished", logger)
	}
	tel.Metrics.RecordTask(t.Name, tr.Status, tr.Duration)
	telemetry.EndSpan(span, err)
	return tr, err
}

// annotate attaches the host and task to err, wrapping plain errors as
// remote errors.
func annotate(err error, address, task string) error {
	var ee *engine.EngineError
	if !errors.As(err, &ee) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return engine.NewRemoteError(fmt.Sprintf("task %s failed", task), err).
			WithCode(engine.ErrCodeCommandFailed).
			WithHost(address).
			WithOperation(task)
	}
	if ee.Host == "" {
		ee.WithHost(address)
	}
	if ee.Operation == "" {
		ee.WithOperation(task)
	}
	return err
}

type runMetadata struct {
	AppID string   `json:"app_id"`
	Hosts []string `json:"hosts"`
}

func (r *Runner) createRun(ctx context.Context, runID string, hosts []*host.Host) error {
	if r.Store == nil {
		return nil
	}
	meta := runMetadata{AppID: r.Manifest.ID()}
	for _, h := range hosts {
		meta.Hosts = append(meta.Hosts, h.Address)
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return engine.NewInternalError("failed to encode run metadata", err)
	}
	run := &stores.Run{
		ID:        runID,
		Kind:      stores.RunKindSetup,
		Status:    stores.RunStatusRunning,
		StartedAt: time.Now().UTC(),
		Metadata:  string(data),
	}
	if err := r.Store.CreateRun(ctx, run); err != nil {
		return engine.NewInternalError("failed to record run", err)
	}
	return nil
}

// History writes must land even when the run itself was canceled.
func (r *Runner) finishRun(ctx context.Context, runID string, status stores.RunStatus, runErr error, logger zerolog.Logger) {
	if r.Store == nil {
		return
	}
	var msg *string
	if runErr != nil {
		s := runErr.Error()
		msg = &s
	}
	if err := r.Store.FinishRun(context.WithoutCancel(ctx), runID, status, msg); err != nil {
		logger.Warn().Err(err).Msg("failed to record run result")
	}
}

func (r *Runner) event(ctx context.Context, runID, address, task string, level stores.EventLevel, msg string, logger zerolog.Logger) {
	if r.Store == nil {
		return
	}
	err := r.Store.AppendEvent(context.WithoutCancel(ctx), &stores.Event{
		RunID:   runID,
		Host:    address,
		Task:    task,
		Level:   level,
		Message: msg,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to record event")
	}
}
