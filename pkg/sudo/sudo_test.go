package sudo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/onepush/onepush/pkg/engine"
	"github.com/onepush/onepush/pkg/host"
	"github.com/onepush/onepush/pkg/host/hosttest"
)

func newHost(user string) (*host.Host, *hosttest.FakeRemote) {
	r := hosttest.New().AddFile(Helper, "")
	return host.New("app1.example.com", user, host.Debian, r), r
}

func TestWrapSuperuser(t *testing.T) {
	h, r := newHost("root")

	cmd, err := Wrap(context.Background(), h, "touch /var/run/onepush/restart_web_server")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := "/bin/bash -c 'set -o pipefail && touch /var/run/onepush/restart_web_server'"
	if cmd != expected {
		t.Errorf("expected %q, got %q", expected, cmd)
	}
	if len(r.Calls()) != 0 {
		t.Errorf("expected no verification probes for root, got %d calls", len(r.Calls()))
	}
}

func TestWrapNonSuperuser(t *testing.T) {
	h, _ := newHost("deploy")

	cmd, err := Wrap(context.Background(), h, "apt-get install -y git")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := "/usr/bin/sudo -k -n -H /bin/bash -c 'set -o pipefail && apt-get install -y git'"
	if cmd != expected {
		t.Errorf("expected %q, got %q", expected, cmd)
	}
	if !h.Props.EscalationVerified {
		t.Error("expected escalation to be marked verified")
	}
}

func TestVerifyRunsOncePerHost(t *testing.T) {
	ctx := context.Background()
	h, r := newHost("deploy")

	for i := 0; i < 5; i++ {
		if err := Run(ctx, h, "true"); err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
	}

	if n := r.Count("[[ -e /usr/bin/sudo ]]"); n != 1 {
		t.Errorf("expected sudo presence probe once, got %d", n)
	}
	if n := r.Count("/usr/bin/sudo -k -n true"); n != 1 {
		t.Errorf("expected passwordless probe once, got %d", n)
	}

	other, otherRemote := newHost("deploy")
	if err := Run(ctx, other, "true"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := otherRemote.Count("/usr/bin/sudo -k -n true"); n != 1 {
		t.Errorf("expected second host to verify on its own, got %d probes", n)
	}
}

func TestVerifySudoMissing(t *testing.T) {
	r := hosttest.New()
	h := host.New("app1", "deploy", host.Debian, r)

	err := Run(context.Background(), h, "true")
	if !engine.IsEnvironment(err) {
		t.Fatalf("expected environment error, got %v", err)
	}
	if engine.CodeOf(err) != engine.ErrCodeSudoMissing {
		t.Errorf("expected code %s, got %s", engine.ErrCodeSudoMissing, engine.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "requires 'sudo' to be installed") {
		t.Errorf("unexpected message: %v", err)
	}
	if h.Props.EscalationVerified {
		t.Error("expected host to stay unverified")
	}
	if n := len(r.Scripts()); n != 1 {
		t.Errorf("expected only the presence probe, got %v", r.Scripts())
	}
}

func TestVerifySudoNeedsPassword(t *testing.T) {
	h, r := newHost("deploy")
	r.On("/usr/bin/sudo -k -n true", hosttest.Response{Exit: 1})

	err := Run(context.Background(), h, "apt-get update")
	if !engine.IsEnvironment(err) {
		t.Fatalf("expected environment error, got %v", err)
	}
	if engine.CodeOf(err) != engine.ErrCodeSudoPassword {
		t.Errorf("expected code %s, got %s", engine.ErrCodeSudoPassword, engine.CodeOf(err))
	}
	for _, want := range []string{"sudo visudo", "deploy ALL=(ALL) NOPASSWD: ALL"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected message to contain %q, got %v", want, err)
		}
	}
	if r.Ran("apt-get update") {
		t.Error("expected the command not to run")
	}
}

func TestRunFailureIsRemoteError(t *testing.T) {
	h, r := newHost("root")
	r.On("yum install", hosttest.Response{Exit: 1})

	err := Run(context.Background(), h, "yum install -y redis")
	if !engine.IsRemote(err) {
		t.Fatalf("expected remote error, got %v", err)
	}
	var exitErr *hosttest.ExitError
	if !errors.As(err, &exitErr) {
		t.Errorf("expected wrapped exit error, got %v", err)
	}
}

func TestUploadAndDownload(t *testing.T) {
	ctx := context.Background()
	h, r := newHost("deploy")
	r.Dirs["/etc/nginx"] = true

	if err := Upload(ctx, h, []byte("server {}\n"), "/etc/nginx/site.conf"); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	content, ok := r.File("/etc/nginx/site.conf")
	if !ok || content != "server {}\n" {
		t.Fatalf("expected uploaded content, got %q (exists=%v)", content, ok)
	}
	for _, p := range r.Paths() {
		if strings.HasPrefix(p, "/tmp/onepush.") {
			t.Errorf("expected temp dir to be removed, found %s", p)
		}
	}
	if !r.Ran("chown root: /tmp/onepush.") {
		t.Error("expected staged file to be chowned to root")
	}

	got, err := Download(ctx, h, "/etc/nginx/site.conf")
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if got != "server {}" {
		t.Errorf("expected trimmed content, got %q", got)
	}
}

func TestUploadCleansUpOnMoveFailure(t *testing.T) {
	h, r := newHost("root")

	err := Upload(context.Background(), h, []byte("x"), "/missing/dir/file")
	if !engine.IsRemote(err) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if !r.Ran("rm -rf /tmp/onepush.") {
		t.Error("expected temp dir cleanup after failure")
	}
}
