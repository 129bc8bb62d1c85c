package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onepush/onepush/pkg/deploy"
)

func newPushCommand() *cobra.Command {
	var (
		configFile string
		configJSON string
		dir        string
	)

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push the current revision to every app server",
		Long: `Force-push the current git revision to the master branch of the app's
repository on every app server, one server at a time. The push stops at
the first server that fails; servers already pushed keep the new revision.

Servers must have been prepared with 'onepush setup'.`,
		Example: `  # Push using a config file
  onepush push --config deploy.yaml

  # Push using inline JSON
  onepush push --config-json '{"app_id":"shop","app_server_addresses":["203.0.113.10"]}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := deploy.LoadConfig(configFile, configJSON)
			if err != nil {
				return err
			}

			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.close(ctx)

			pusher := &deploy.Pusher{
				Git:       deploy.GitCLI{Dir: dir},
				Telemetry: sess.tel,
				Store:     sess.store,
			}
			result, err := pusher.Push(ctx, cfg)
			if result != nil && len(result.Pushed) > 0 {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Pushed %s to:\n", result.Revision)
				for _, target := range result.Pushed {
					fmt.Fprintf(out, "  %s\n", target)
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "push config file (.json, .yaml)")
	cmd.Flags().StringVar(&configJSON, "config-json", "", "push config as inline JSON")
	cmd.Flags().StringVar(&dir, "dir", "", "git working tree to push from (default: current directory)")

	return cmd
}
