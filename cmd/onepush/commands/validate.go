package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/onepush/onepush/pkg/engine"
	"github.com/onepush/onepush/pkg/manifest"
	"github.com/onepush/onepush/pkg/tasks"
)

// loadManifest reads, validates and completes the manifest in file.
func loadManifest(file string) (*manifest.Context, error) {
	if file == "" {
		return nil, engine.NewConfigurationError("please pass a manifest with --manifest", nil).
			WithCode(engine.ErrCodeNoConfig)
	}
	m, err := manifest.Load(file)
	if err != nil {
		return nil, err
	}
	return manifest.NewContext(m)
}

func newValidateCommand() *cobra.Command {
	var (
		manifestFile string
		showGraph    bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an app manifest",
		Long: `Validate an app manifest without contacting any server.

The manifest is checked against the schema, then for the required
'about' keys. On success the effective settings are printed, with
defaults filled in, followed by the setup plan: the tasks grouped in
the order they run, with the server roles each applies to.`,
		Example: `  # Validate a manifest
  onepush validate --manifest onepush.json

  # Also print the setup task graph in DOT format
  onepush validate --manifest onepush.yaml --graph`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mc, err := loadManifest(manifestFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Manifest is valid.\n\n")
			fmt.Fprintf(out, "  App ID:       %s\n", mc.ID())
			fmt.Fprintf(out, "  Type:         %s\n", mc.About.Type)
			fmt.Fprintf(out, "  Domain names: %s\n", mc.About.DomainNames)
			fmt.Fprintf(out, "  User:         %s\n", mc.User())
			fmt.Fprintf(out, "  App dir:      %s\n", mc.AppDir())
			if mc.Setup.RubyVersion != "" {
				fmt.Fprintf(out, "  Ruby:         %s (%s)\n", mc.Setup.RubyVersion, mc.Setup.RubyManager)
			}
			fmt.Fprintf(out, "  Passenger:    %t\n", mc.Setup.InstallPassenger)
			fmt.Fprintf(out, "  Memcached:    %t\n", mc.Memcached)
			fmt.Fprintf(out, "  Redis:        %t\n", mc.Redis)

			graph, err := tasks.BuildGraph(tasks.SetupTasks())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nSetup plan:\n")
			for i, level := range graph.Levels() {
				for _, name := range level {
					t, _ := graph.Task(name)
					fmt.Fprintf(out, "  %d. %-28s [%s]\n", i+1, name, strings.Join(t.Roles, ","))
				}
			}

			if showGraph {
				fmt.Fprintf(out, "\n%s", graph.ToDOT())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestFile, "manifest", "m", "", "app manifest (.json, .yaml, .cue)")
	cmd.Flags().BoolVar(&showGraph, "graph", false, "print the setup task graph in DOT format")

	return cmd
}
