package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/onepush/onepush/pkg/autodetect"
	"github.com/onepush/onepush/pkg/engine"
	"github.com/onepush/onepush/pkg/filedeploy"
	"github.com/onepush/onepush/pkg/host"
	"github.com/onepush/onepush/pkg/manifest"
	"github.com/onepush/onepush/pkg/packages"
	"github.com/onepush/onepush/pkg/shell"
	"github.com/onepush/onepush/pkg/sudo"
)

// Fixed server layout.
const (
	RunDir        = "/var/run/onepush"
	AppsDir       = "/etc/onepush/apps"
	RestartMarker = RunDir + "/restart_web_server"

	SetupRecordName = "onepush-setup.json"
	RepoDirName     = "onepush_repo"
)

// Task names.
const (
	InstallEssentials         = "install_essentials"
	CreateAppUser             = "create_app_user"
	CreateAppDir              = "create_app_dir"
	InstallWebServer          = "install_web_server"
	CreateAppVhost            = "create_app_vhost"
	InstallAdditionalServices = "install_additional_services"
	RecordSetup               = "record_setup"
	RestartWebServer          = "restart_web_server"
)

// SetupTasks returns the tasks of "onepush setup".
func SetupTasks() []*Task {
	return []*Task{
		{
			Name:   InstallEssentials,
			Notice: "Installing essentials...",
			Roles:  []string{host.RoleApp},
			Run:    installEssentials,
		},
		{
			Name:     CreateAppUser,
			Notice:   "Creating user account for app...",
			Requires: []string{InstallEssentials},
			Roles:    []string{host.RoleApp},
			Run:      createAppUser,
		},
		{
			Name:     CreateAppDir,
			Notice:   "Creating directory for app...",
			Requires: []string{InstallEssentials, CreateAppUser},
			Roles:    []string{host.RoleApp},
			Run:      createAppDir,
		},
		{
			Name:     InstallWebServer,
			Notice:   "Installing web server...",
			Requires: []string{InstallEssentials},
			Roles:    []string{host.RoleWeb},
			Run:      installWebServer,
		},
		{
			Name:     CreateAppVhost,
			Notice:   "Creating web server virtual host for app...",
			Requires: []string{CreateAppDir, InstallWebServer},
			Roles:    []string{host.RoleApp},
			Run:      createAppVhost,
		},
		{
			Name:     InstallAdditionalServices,
			Notice:   "Installing additional services...",
			Requires: []string{InstallEssentials},
			Roles:    []string{host.RoleApp},
			Run:      installAdditionalServices,
		},
		{
			Name:     RecordSetup,
			Notice:   "Recording setup...",
			Requires: []string{CreateAppDir, InstallAdditionalServices},
			Roles:    []string{host.RoleApp},
			Run:      recordSetup,
		},
		{
			Name:     RestartWebServer,
			Notice:   "Restarting web server if needed...",
			Requires: []string{InstallWebServer, CreateAppVhost},
			Roles:    []string{host.RoleWeb},
			Run:      restartWebServer,
		},
	}
}

func (env *Env) install(ctx context.Context, names ...string) error {
	n, err := packages.Install(ctx, env.Host, names...)
	if err != nil {
		return err
	}
	if n > 0 {
		env.Log.Info().Int("count", n).Strs("packages", names).Msg("installed packages")
	}
	env.Metrics.RecordPackagesInstalled(env.Host.OS.String(), n)
	return nil
}

func installEssentials(ctx context.Context, env *Env) error {
	if err := env.install(ctx, "git", "curl"); err != nil {
		return err
	}
	return sudo.Run(ctx, env.Host, shell.New("mkdir", "-p", RunDir, AppsDir).String())
}

// installWebServer installs the distribution's Nginx unless an install,
// packaged or built from source, is already present.
func installWebServer(ctx context.Context, env *Env) error {
	if _, found, err := autodetect.Nginx(ctx, env.Host); err != nil || found {
		return err
	}
	return env.install(ctx, "nginx")
}

func createUser(ctx context.Context, h *host.Host, name string) error {
	switch h.OS {
	case host.RedHat:
		return sudo.Run(ctx, h, shell.And(
			shell.New("adduser", name).String(),
			shell.New("usermod", "-L", name).String(),
		))
	case host.Debian:
		return sudo.Run(ctx, h, shell.New("adduser", "--disabled-password", "--gecos", name, name).String())
	}
	return engine.NewInternalError(fmt.Sprintf("cannot create users on OS family %s", h.OS), nil).
		WithCode(engine.ErrCodeUnsupportedOS)
}

func createAppUser(ctx context.Context, env *Env) error {
	h := env.Host
	name := env.Manifest.User()

	exists, err := h.Remote.Test(ctx, shell.New("id", "-u", name).Raw(">/dev/null 2>&1").String())
	if err != nil {
		return err
	}
	if !exists {
		if err := createUser(ctx, h, name); err != nil {
			return err
		}
	}

	if env.Manifest.About.Type == manifest.TypeRuby && env.Manifest.Setup.RubyManager == manifest.RubyManagerRVM {
		if err := sudo.Run(ctx, h, shell.New("usermod", "-a", "-G", "rvm", name).String()); err != nil {
			return err
		}
	}

	sshDir := path.Join("/home", name, ".ssh")
	keysFile := path.Join(sshDir, "authorized_keys")

	var existing string
	present, err := sudo.Test(ctx, h, shell.Exists(keysFile))
	if err != nil {
		return err
	}
	if present {
		if existing, err = sudo.Download(ctx, h, keysFile); err != nil {
			return err
		}
	}

	merged := mergeKeys(existing, env.PublicKeys)
	if strings.TrimSpace(merged) == strings.TrimSpace(existing) {
		return nil
	}

	if err := sudo.Run(ctx, h, shell.New("mkdir", "-p", sshDir).String()); err != nil {
		return err
	}
	err = filedeploy.Put(ctx, h, filedeploy.Artifact{
		Path:    keysFile,
		Content: []byte(merged),
		Owner:   name + ":",
		Mode:    "644",
	})
	if err != nil {
		return err
	}
	env.Metrics.RecordFileChanged(env.task)
	return sudo.Run(ctx, h, shell.And(
		shell.New("chown", name+":", sshDir).String(),
		shell.New("chmod", "700", sshDir).String(),
	))
}

func createAppDir(ctx context.Context, env *Env) error {
	h := env.Host
	dir := env.Manifest.AppDir()
	owner := env.Manifest.User() + ":"

	primary := []string{dir, path.Join(dir, "releases"), path.Join(dir, "shared")}
	sharedConfig := path.Join(dir, "shared", "config")
	repo := path.Join(dir, RepoDirName)
	repoDirs := []string{path.Join(dir, "repo"), repo}

	steps := []string{
		shell.And(
			shell.New("mkdir", "-p").Arg(primary...).String(),
			shell.New("chown", owner).Arg(primary...).String(),
			shell.New("chmod", "u=rwx,g=rx,o=x").Arg(primary...).String(),
		),
		shell.And(
			shell.New("mkdir", "-p", sharedConfig).String(),
			shell.New("chown", owner, sharedConfig).String(),
		),
		shell.And(
			shell.New("mkdir", "-p").Arg(repoDirs...).String(),
			shell.New("chown", owner).Arg(repoDirs...).String(),
			shell.New("chmod", "u=rwx,g=,o=").Arg(repoDirs...).String(),
		),
		shell.And(
			shell.New("cd", repo).String(),
			"if ! [[ -e HEAD ]]; then "+shell.New("sudo", "-u", env.Manifest.User(), "git", "init", "--bare").String()+"; fi",
		),
		shell.New("ln", "-sfn", dir, path.Join(AppsDir, env.Manifest.ID())).String(),
	}
	for _, step := range steps {
		if err := sudo.Run(ctx, h, step); err != nil {
			return err
		}
	}
	return nil
}

// VhostConfig renders the managed Nginx server block for the app.
func VhostConfig(mc *manifest.Context) string {
	var sb strings.Builder
	sb.WriteString("# Autogenerated by Onepush. Do not edit. Changes will be overwritten. Edit nginx-vhost-local.conf instead.\n")
	sb.WriteString("server {\n")
	sb.WriteString("    listen 80;\n")
	fmt.Fprintf(&sb, "    server_name %s;\n", mc.About.DomainNames)
	fmt.Fprintf(&sb, "    root %s;\n", path.Join(mc.AppDir(), "current", "public"))
	if mc.Setup.InstallPassenger {
		sb.WriteString("    passenger_enabled on;\n")
		fmt.Fprintf(&sb, "    passenger_user %s;\n", mc.User())
	}
	fmt.Fprintf(&sb, "    include %s;\n", localVhostPath(mc))
	sb.WriteString("}\n")
	return sb.String()
}

const localVhostTemplate = "# You can put custom Nginx configuration here. This file will not be overwritten by Onepush.\n"

func vhostPath(mc *manifest.Context) string {
	return path.Join(mc.AppDir(), "shared", "config", "nginx-vhost.conf")
}

func localVhostPath(mc *manifest.Context) string {
	return path.Join(mc.AppDir(), "shared", "config", "nginx-vhost-local.conf")
}

func createAppVhost(ctx context.Context, env *Env) error {
	h := env.Host
	owner := env.Manifest.User() + ":"

	changed, err := filedeploy.DeployIfChanged(ctx, h, filedeploy.Artifact{
		Path:    vhostPath(env.Manifest),
		Content: []byte(VhostConfig(env.Manifest)),
		Owner:   owner,
		Mode:    "600",
	})
	if err != nil {
		return err
	}
	if changed {
		env.Log.Info().Str("file", vhostPath(env.Manifest)).Msg("virtual host changed, web server restart requested")
		env.Metrics.RecordFileChanged(env.task)
		if err := sudo.Run(ctx, h, shell.New("touch", RestartMarker).String()); err != nil {
			return err
		}
	}

	_, err = filedeploy.WriteOnce(ctx, h, filedeploy.Artifact{
		Path:    localVhostPath(env.Manifest),
		Content: []byte(localVhostTemplate),
		Owner:   owner,
		Mode:    "640",
	})
	return err
}

func installAdditionalServices(ctx context.Context, env *Env) error {
	var names []string
	if env.Manifest.Memcached {
		names = append(names, "memcached")
	}
	if env.Manifest.Redis {
		switch env.Host.OS {
		case host.RedHat:
			names = append(names, "redis")
		case host.Debian:
			names = append(names, "redis-server")
		default:
			return engine.NewInternalError(fmt.Sprintf("no redis package for OS family %s", env.Host.OS), nil).
				WithCode(engine.ErrCodeUnsupportedOS)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return env.install(ctx, names...)
}

// SetupRecordPath returns where setup records the manifest it applied.
func SetupRecordPath(appDir string) string {
	return path.Join(appDir, SetupRecordName)
}

func recordSetup(ctx context.Context, env *Env) error {
	data, err := json.MarshalIndent(env.Manifest.Manifest, "", "  ")
	if err != nil {
		return engine.NewInternalError("failed to encode setup record", err)
	}
	changed, err := filedeploy.DeployIfChanged(ctx, env.Host, filedeploy.Artifact{
		Path:    SetupRecordPath(env.Manifest.AppDir()),
		Content: append(data, '\n'),
		Owner:   env.Manifest.User() + ":",
		Mode:    "644",
	})
	if changed {
		env.Metrics.RecordFileChanged(env.task)
	}
	return err
}

func restartWebServer(ctx context.Context, env *Env) error {
	h := env.Host
	requested, err := sudo.Test(ctx, h, shell.Exists(RestartMarker))
	if err != nil {
		return err
	}
	if !requested {
		env.Log.Debug().Msg("no web server restart requested")
		return nil
	}

	nginx, err := autodetect.MustNginx(ctx, h)
	if err != nil {
		return err
	}
	if err := sudo.Run(ctx, h, nginx.ConfigTestCommand); err != nil {
		return err
	}
	if err := sudo.Run(ctx, h, nginx.RestartCommand); err != nil {
		return err
	}
	env.Log.Info().Str("binary", nginx.Binary).Msg("web server restarted")
	return sudo.Run(ctx, h, shell.New("rm", "-f", RestartMarker).String())
}
