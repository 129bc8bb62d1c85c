// Package autodetect locates Nginx, Phusion Passenger and the Ruby
// interpreter Passenger runs with. Results are memoized in the host's
// properties; a detector that finds nothing is asked again next time.
package autodetect

import (
	"context"
	"path"
	"strings"

	"github.com/onepush/onepush/pkg/engine"
	"github.com/onepush/onepush/pkg/host"
	"github.com/onepush/onepush/pkg/shell"
)

// Well-known locations.
const (
	SystemNginxBinary = "/usr/sbin/nginx"
	SystemNginxConfig = "/etc/nginx/nginx.conf"
	SourceNginxBinary = "/opt/nginx/sbin/nginx"
	NginxRunitService = "/etc/service/nginx"

	SystemPassengerBinDir = "/usr/bin"
	SourcePassengerBinDir = "/opt/passenger/current/bin"

	SystemRuby = "/usr/bin/ruby"
	RVMRuby    = "/usr/local/rvm/wrappers/default/ruby"
)

const bugReport = " This is probably a bug in Onepush. Please report this to the authors."

func probe(ctx context.Context, h *host.Host, script string) (bool, error) {
	return h.Remote.Test(ctx, shell.Bash(script))
}

func output(ctx context.Context, h *host.Host, cmd string) (string, error) {
	return h.Remote.Capture(ctx, cmd, host.CaptureOptions{})
}

// Nginx finds the Nginx installation on h. A system package install is
// preferred over one built from source under /opt.
func Nginx(ctx context.Context, h *host.Host) (host.WebServerInfo, bool, error) {
	return host.ComputeOrFetch(ctx, &h.Props.WebServer, func(ctx context.Context) (host.WebServerInfo, bool, error) {
		system, err := probe(ctx, h, shell.And(shell.Exists(SystemNginxBinary), shell.Exists(SystemNginxConfig)))
		if err != nil {
			return host.WebServerInfo{}, false, err
		}
		if system {
			return host.WebServerInfo{
				Binary:                     SystemNginxBinary,
				ConfigFile:                 SystemNginxConfig,
				ConfigTestCommand:          "/etc/init.d/nginx configtest",
				RestartCommand:             "/etc/init.d/nginx restart",
				InstalledFromSystemPackage: true,
			}, true, nil
		}

		out, err := output(ctx, h, "ls -1 /opt/*/*/nginx 2>/dev/null")
		if err != nil {
			return host.WebServerInfo{}, false, err
		}
		files := nonEmptyLines(out)
		if len(files) == 0 {
			return host.WebServerInfo{}, false, nil
		}

		binary := files[0]
		info := host.WebServerInfo{
			Binary:            binary,
			ConfigFile:        path.Join(path.Dir(binary), "..", "conf", "nginx.conf"),
			ConfigTestCommand: shell.New(binary, "-t").String(),
			RestartCommand:    shell.New(binary, "-s", "reload").String(),
		}
		if binary == SourceNginxBinary {
			runit, err := h.Remote.Test(ctx, shell.New("grep", SourceNginxBinary, NginxRunitService+"/run").Raw("2>&1").String())
			if err != nil {
				return host.WebServerInfo{}, false, err
			}
			if runit {
				info.RestartCommand = shell.New("sv", "restart", NginxRunitService).String()
			}
		}
		return info, true, nil
	})
}

// MustNginx is Nginx, failing when nothing was found.
func MustNginx(ctx context.Context, h *host.Host) (host.WebServerInfo, error) {
	info, found, err := Nginx(ctx, h)
	if err != nil {
		return info, err
	}
	if !found {
		return info, notDetected(h, "Cannot autodetect Nginx."+bugReport)
	}
	return info, nil
}

// Ruby finds the interpreter Passenger should run with. Ruby apps get their
// Ruby from RVM, so RVM's wrapper is searched first for them.
func Ruby(ctx context.Context, h *host.Host, appType string) (string, bool, error) {
	return host.ComputeOrFetch(ctx, &h.Props.Ruby, func(ctx context.Context) (string, bool, error) {
		candidates := []string{SystemRuby, RVMRuby}
		if appType == "ruby" {
			candidates = []string{RVMRuby, SystemRuby}
		}
		for _, c := range candidates {
			ok, err := probe(ctx, h, shell.Exists(c))
			if err != nil {
				return "", false, err
			}
			if ok {
				return c, true, nil
			}
		}
		return "", false, nil
	})
}

// MustRuby is Ruby, failing when no interpreter was found.
func MustRuby(ctx context.Context, h *host.Host, appType string) (string, error) {
	ruby, found, err := Ruby(ctx, h, appType)
	if err != nil {
		return "", err
	}
	if !found {
		return "", notDetected(h, "Unable to find a Ruby interpreter on the system."+bugReport)
	}
	return ruby, nil
}

// Passenger finds the Passenger installation on h: the system package, then
// the /opt source install, then whatever passenger-config is on the PATH.
func Passenger(ctx context.Context, h *host.Host, appType string) (host.AppServerInfo, bool, error) {
	return host.ComputeOrFetch(ctx, &h.Props.AppServer, func(ctx context.Context) (host.AppServerInfo, bool, error) {
		ruby, _, err := Ruby(ctx, h, appType)
		if err != nil {
			return host.AppServerInfo{}, false, err
		}

		system, err := probe(ctx, h, shell.Exists(SystemPassengerBinDir+"/passenger-config"))
		if err != nil {
			return host.AppServerInfo{}, false, err
		}
		if system {
			info := passengerIn(SystemPassengerBinDir, "")
			info.Ruby = ruby
			info.InstalledFromSystemPackage = true
			return info, true, nil
		}

		source, err := probe(ctx, h, shell.Exists(SourcePassengerBinDir+"/passenger-config"))
		if err != nil {
			return host.AppServerInfo{}, false, err
		}
		if source {
			info := passengerIn(SourcePassengerBinDir, ruby)
			info.Ruby = ruby
			return info, true, nil
		}

		out, err := output(ctx, h, "which passenger-config")
		if err != nil {
			return host.AppServerInfo{}, false, err
		}
		config := strings.TrimSpace(out)
		if config == "" {
			return host.AppServerInfo{}, false, nil
		}
		info := passengerIn(path.Dir(config), "")
		info.Ruby = ruby
		return info, true, nil
	})
}

// passengerIn describes the Passenger tools in bindir, run through ruby
// when it is set.
func passengerIn(bindir, ruby string) host.AppServerInfo {
	tool := func(name string) string {
		p := path.Join(bindir, name)
		if ruby == "" {
			return p
		}
		return ruby + " " + p
	}
	return host.AppServerInfo{
		BinDir:           bindir,
		NginxInstaller:   tool("passenger-install-nginx-module"),
		Apache2Installer: tool("passenger-install-apache2-module"),
		ConfigCommand:    tool("passenger-config"),
	}
}

// MustPassenger is Passenger, failing when nothing was found.
func MustPassenger(ctx context.Context, h *host.Host, appType string) (host.AppServerInfo, error) {
	info, found, err := Passenger(ctx, h, appType)
	if err != nil {
		return info, err
	}
	if !found {
		return info, notDetected(h, "Cannot autodetect Phusion Passenger."+bugReport)
	}
	return info, nil
}

func notDetected(h *host.Host, msg string) error {
	return engine.NewEnvironmentError(msg, nil).
		WithCode(engine.ErrCodeNotDetected).
		WithHost(h.Address)
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
