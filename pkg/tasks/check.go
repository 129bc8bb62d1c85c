package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/onepush/onepush/pkg/engine"
	"github.com/onepush/onepush/pkg/host"
	"github.com/onepush/onepush/pkg/manifest"
	"github.com/onepush/onepush/pkg/shell"
)

// RVMBinary is the system-wide RVM executable.
const RVMBinary = "/usr/local/rvm/bin/rvm"

const notSetUp = "The server has not been setup for your app yet. Please run 'onepush setup'."

// SetupStatus is what CheckServerSetup found on a host.
type SetupStatus struct {
	// AppDir is where the app link on the server points.
	AppDir string
	// RepoDir is the bare repository deploys are pushed to.
	RepoDir string
	// Recorded is the manifest the last setup applied.
	Recorded *manifest.Manifest
}

// CheckServerSetup verifies that setup has run on h for the app in mc and
// that the Ruby version the app was set up with is installed.
func CheckServerSetup(ctx context.Context, h *host.Host, mc *manifest.Context) (*SetupStatus, error) {
	link := path.Join(AppsDir, mc.ID())
	out, err := h.Remote.Capture(ctx, shell.Tolerant(shell.New("readlink", link).String()), host.CaptureOptions{})
	if err != nil {
		return nil, err
	}
	appDir := strings.TrimSpace(out)
	if appDir == "" {
		return nil, engine.NewEnvironmentError(notSetUp, nil).
			WithCode(engine.ErrCodeNotSetUp).
			WithHost(h.Address)
	}

	data, err := h.Remote.Download(ctx, SetupRecordPath(appDir))
	if err != nil {
		return nil, engine.NewEnvironmentError(notSetUp, err).
			WithCode(engine.ErrCodeNotSetUp).
			WithHost(h.Address)
	}
	var recorded manifest.Manifest
	if err := json.Unmarshal(data, &recorded); err != nil {
		return nil, engine.NewEnvironmentError(
			fmt.Sprintf("%s is not a valid setup record", SetupRecordPath(appDir)), err,
		).WithCode(engine.ErrCodeNotSetUp).WithHost(h.Address)
	}
	if recorded.About == nil || recorded.About.ID != mc.ID() {
		return nil, engine.NewEnvironmentError(notSetUp, nil).
			WithCode(engine.ErrCodeNotSetUp).
			WithHost(h.Address).
			WithDetail("app_dir", appDir)
	}

	if v := recorded.Setup.RubyVersion; v != "" && recorded.Setup.RubyManager == manifest.RubyManagerRVM {
		ok, err := h.Remote.Test(ctx, shell.New(RVMBinary, v, "do", "ruby", "--version").String())
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, engine.NewEnvironmentError(
				fmt.Sprintf("Your app requires %s, but it isn't installed yet. Please run 'onepush setup'.", v), nil,
			).WithCode(engine.ErrCodeNotSetUp).WithHost(h.Address)
		}
	}

	return &SetupStatus{
		AppDir:   appDir,
		RepoDir:  path.Join(appDir, RepoDirName),
		Recorded: &recorded,
	}, nil
}
