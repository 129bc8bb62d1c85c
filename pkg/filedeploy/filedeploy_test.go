package filedeploy

import (
	"context"
	"testing"

	"github.com/onepush/onepush/pkg/host"
	"github.com/onepush/onepush/pkg/host/hosttest"
)

func newHost() (*host.Host, *hosttest.FakeRemote) {
	r := hosttest.New()
	r.Dirs["/etc/app"] = true
	return host.New("203.0.113.30", "root", host.Debian, r), r
}

func TestDeployIfChanged(t *testing.T) {
	tests := []struct {
		name     string
		existing *string
		content  string
		want     bool
	}{
		{"missing file", nil, "a\n", true},
		{"identical content", strPtr("a\n"), "a\n", false},
		{"different content", strPtr("a\n"), "b\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, r := newHost()
			if tt.existing != nil {
				r.AddFile("/etc/app/vhost.conf", *tt.existing)
			}
			changed, err := DeployIfChanged(context.Background(), h, Artifact{
				Path:    "/etc/app/vhost.conf",
				Content: []byte(tt.content),
			})
			if err != nil {
				t.Fatalf("DeployIfChanged() error = %v", err)
			}
			if changed != tt.want {
				t.Errorf("DeployIfChanged() = %v, want %v", changed, tt.want)
			}
			if got, _ := r.File("/etc/app/vhost.conf"); got != tt.content {
				t.Errorf("remote content = %q, want %q", got, tt.content)
			}
		})
	}
}

func TestDeployIfChangedAppliesOwnerAndMode(t *testing.T) {
	h, r := newHost()
	_, err := DeployIfChanged(context.Background(), h, Artifact{
		Path:    "/etc/app/vhost.conf",
		Content: []byte("x"),
		Owner:   "app:",
		Mode:    "600",
	})
	if err != nil {
		t.Fatalf("DeployIfChanged() error = %v", err)
	}
	if r.Owners["/etc/app/vhost.conf"] != "app:" {
		t.Errorf("owner = %q", r.Owners["/etc/app/vhost.conf"])
	}
	if r.Modes["/etc/app/vhost.conf"] != "600" {
		t.Errorf("mode = %q", r.Modes["/etc/app/vhost.conf"])
	}
}

func TestWriteOnce(t *testing.T) {
	h, r := newHost()
	ctx := context.Background()
	a := Artifact{Path: "/etc/app/local.conf", Content: []byte("first")}

	wrote, err := WriteOnce(ctx, h, a)
	if err != nil || !wrote {
		t.Fatalf("WriteOnce() = %v, %v", wrote, err)
	}

	a.Content = []byte("second")
	wrote, err = WriteOnce(ctx, h, a)
	if err != nil {
		t.Fatalf("WriteOnce() error = %v", err)
	}
	if wrote {
		t.Error("existing file should not be overwritten")
	}
	if got, _ := r.File(a.Path); got != "first" {
		t.Errorf("content = %q, want first", got)
	}
}

func strPtr(s string) *string { return &s }
