package tasks

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/onepush/onepush/pkg/engine"
	"github.com/onepush/onepush/pkg/host"
	"github.com/onepush/onepush/pkg/host/hosttest"
	"github.com/onepush/onepush/pkg/stores"
	"github.com/onepush/onepush/pkg/telemetry"
)

func testTelemetry(t *testing.T) *telemetry.Telemetry {
	t.Helper()
	tel := telemetry.Nop()
	m, err := telemetry.NewMetrics(telemetry.MetricsNamespace)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	tel.Metrics = m
	return tel
}

func TestRunnerRecordsRun(t *testing.T) {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.MemoryPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h, _ := debianHost()
	g, err := BuildGraph(SetupTasks())
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}
	tel := testTelemetry(t)
	r := &Runner{
		Graph:      g,
		Manifest:   testManifest(t, nil),
		PublicKeys: []string{testKeyA},
		Telemetry:  tel,
		Store:      store,
	}

	res, err := r.Run(ctx, []*host.Host{h})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Hosts) != 1 || len(res.Hosts[0].Tasks) != g.Len() {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, tr := range res.Hosts[0].Tasks {
		if tr.Status != StatusSucceeded {
			t.Errorf("task %s status = %s", tr.Task, tr.Status)
		}
	}

	run, err := store.GetRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Kind != stores.RunKindSetup || run.Status != stores.RunStatusSucceeded {
		t.Errorf("run = %s/%s", run.Kind, run.Status)
	}
	if !strings.Contains(run.Metadata, `"app_id":"shop"`) {
		t.Errorf("metadata = %s", run.Metadata)
	}

	events, err := store.ListEvents(ctx, res.RunID, 0)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 2*g.Len() {
		t.Errorf("expected %d events, got %d", 2*g.Len(), len(events))
	}

	n, err := testutil.GatherAndCount(tel.Metrics.Registry(), "onepush_tasks_executed_total")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if n != g.Len() {
		t.Errorf("expected %d task series, got %d", g.Len(), n)
	}
}

func TestRunnerStopsOnFailure(t *testing.T) {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.MemoryPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	good, _ := debianHost()
	bad, badRemote := debianHost()
	bad.Address = "203.0.113.99"
	badRemote.On("adduser", hosttest.Response{Exit: 1})

	g, _ := BuildGraph(SetupTasks())
	r := &Runner{
		Graph:       g,
		Manifest:    testManifest(t, nil),
		PublicKeys:  []string{testKeyA},
		Parallelism: 1,
		Store:       store,
	}

	res, err := r.Run(ctx, []*host.Host{good, bad})
	if err == nil {
		t.Fatal("expected run to fail")
	}
	if !engine.IsRemote(err) {
		t.Errorf("expected remote error, got %v", err)
	}
	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Host != "203.0.113.99" || ee.Operation != CreateAppUser {
		t.Errorf("expected error for %s on 203.0.113.99, got %v", CreateAppUser, err)
	}

	if res.Hosts[0].Err != nil {
		t.Errorf("first host should have converged, got %v", res.Hosts[0].Err)
	}
	last := res.Hosts[1].Tasks[len(res.Hosts[1].Tasks)-1]
	if last.Task != CreateAppUser || last.Status != StatusFailed {
		t.Errorf("expected %s to be the last task attempted, got %+v", CreateAppUser, last)
	}
	if badRemote.Ran("mkdir -p /var/www/shop") {
		t.Error("tasks after the failure must not run")
	}

	run, err := store.GetRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != stores.RunStatusFailed || run.Error == nil {
		t.Errorf("expected failed run with error, got %+v", run)
	}
}

func TestRunnerSkipsTasksByRole(t *testing.T) {
	r := hosttest.New()
	h := host.New("203.0.113.50", "root", host.Debian, r, host.RoleDB)

	res := runSetup(t, testManifest(t, nil), h)

	if len(r.Calls()) != 0 {
		t.Errorf("expected no remote calls on a db-only host, got %q", r.Scripts())
	}
	for _, tr := range res.Hosts[0].Tasks {
		if tr.Status != StatusSkipped {
			t.Errorf("task %s status = %s, want skipped", tr.Task, tr.Status)
		}
	}
}

func TestRunnerRestoresRemote(t *testing.T) {
	h, r := debianHost()
	runSetup(t, testManifest(t, nil), h)
	if h.Remote != host.Remote(r) {
		t.Error("expected the host's remote to be restored after the run")
	}
}

func TestRunnerNeedsGraph(t *testing.T) {
	_, err := (&Runner{}).Run(context.Background(), nil)
	if !engine.IsInternal(err) {
		t.Errorf("expected internal error, got %v", err)
	}
}
