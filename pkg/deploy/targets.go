package deploy

import (
	"fmt"
	"path"
	"strings"
)

// RemoteAppsDir is where app servers expose their deploy repositories.
const RemoteAppsDir = "/etc/pomodori/apps"

// RemoteRepoName is the bare repository inside an app's deploy directory.
const RemoteRepoName = "pomodori_repo"

// RepoPath returns the deploy repository path of an app on a server.
func RepoPath(appID string) string {
	return path.Join(RemoteAppsDir, appID, RemoteRepoName)
}

// ResolveTargets returns the git URL of every app server, in order.
// Credentials embedded in an address are dropped; the configured user is
// used instead.
func ResolveTargets(cfg *Config) []string {
	targets := make([]string, 0, len(cfg.AppServerAddresses))
	for _, addr := range cfg.AppServerAddresses {
		if i := strings.Index(addr, "@"); i >= 0 {
			addr = addr[i+1:]
		}
		targets = append(targets, fmt.Sprintf("ssh://%s@%s%s", cfg.User, addr, RepoPath(cfg.AppID)))
	}
	return targets
}
