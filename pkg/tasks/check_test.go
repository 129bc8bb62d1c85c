package tasks

import (
	"context"
	"strings"
	"testing"

	"github.com/onepush/onepush/pkg/engine"
	"github.com/onepush/onepush/pkg/host"
	"github.com/onepush/onepush/pkg/host/hosttest"
)

func setUpHost(record string) (*host.Host, *hosttest.FakeRemote) {
	r := hosttest.New()
	r.Links["/etc/onepush/apps/shop"] = "/srv/shop"
	if record != "" {
		r.AddFile("/srv/shop/onepush-setup.json", record)
	}
	return host.New("203.0.113.60", "deploy", host.Debian, r), r
}

func TestCheckServerSetup(t *testing.T) {
	h, r := setUpHost(`{"about":{"id":"shop","type":"ruby","domain_names":"shop.example.com"},` +
		`"setup":{"user":"shop","app_dir":"/srv/shop","ruby_manager":"rvm","ruby_version":"ruby-3.3.4"}}`)

	status, err := CheckServerSetup(context.Background(), h, testManifest(t, nil))
	if err != nil {
		t.Fatalf("CheckServerSetup() error = %v", err)
	}
	if status.AppDir != "/srv/shop" || status.RepoDir != "/srv/shop/onepush_repo" {
		t.Errorf("status = %+v", status)
	}
	if status.Recorded.Setup.RubyVersion != "ruby-3.3.4" {
		t.Errorf("recorded ruby version = %q", status.Recorded.Setup.RubyVersion)
	}
	if !r.Ran(RVMBinary + " ruby-3.3.4 do ruby --version") {
		t.Error("expected ruby version probe")
	}
	for _, c := range r.Calls() {
		if c.Escalated {
			t.Errorf("check should not escalate, got %q", c.Raw)
		}
	}
}

func TestCheckServerSetupNotSetUp(t *testing.T) {
	r := hosttest.New()
	h := host.New("203.0.113.61", "root", host.Debian, r)

	_, err := CheckServerSetup(context.Background(), h, testManifest(t, nil))
	if !engine.IsEnvironment(err) || engine.CodeOf(err) != engine.ErrCodeNotSetUp {
		t.Fatalf("expected not-set-up error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Please run 'onepush setup'.") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestCheckServerSetupMissingRecord(t *testing.T) {
	h, _ := setUpHost("")

	_, err := CheckServerSetup(context.Background(), h, testManifest(t, nil))
	if engine.CodeOf(err) != engine.ErrCodeNotSetUp {
		t.Errorf("expected not-set-up error, got %v", err)
	}
}

func TestCheckServerSetupOtherApp(t *testing.T) {
	h, _ := setUpHost(`{"about":{"id":"blog","type":"ruby","domain_names":"blog.example.com"},"setup":{}}`)

	_, err := CheckServerSetup(context.Background(), h, testManifest(t, nil))
	if engine.CodeOf(err) != engine.ErrCodeNotSetUp {
		t.Errorf("expected not-set-up error, got %v", err)
	}
}

func TestCheckServerSetupRubyMissing(t *testing.T) {
	h, r := setUpHost(`{"about":{"id":"shop","type":"ruby","domain_names":"shop.example.com"},` +
		`"setup":{"ruby_manager":"rvm","ruby_version":"ruby-3.3.4"}}`)
	r.On(RVMBinary, hosttest.Response{Exit: 1})

	_, err := CheckServerSetup(context.Background(), h, testManifest(t, nil))
	if err == nil {
		t.Fatal("expected error for missing ruby")
	}
	want := "Your app requires ruby-3.3.4, but it isn't installed yet. Please run 'onepush setup'."
	if !strings.Contains(err.Error(), want) {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}
