package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/onepush/onepush/pkg/tasks"
)

func newSetupCommand() *cobra.Command {
	var (
		manifestFile string
		publicKeys   []string
		parallel     int
		inv          inventoryFlags
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Set up servers for an app",
		Long: `Set up servers so that they can host the app described by the manifest.

Every step checks the server first and only changes what is missing, so
setup can be run again at any time. Per server it:
  - installs git and curl
  - creates the app user and authorizes your public keys for it
  - creates the app directory and the git repository pushed to by 'onepush push'
  - writes the Nginx virtual host and restarts Nginx when it changed
  - installs memcached and redis when the manifest asks for them`,
		Example: `  # Set up two servers
  onepush setup --manifest onepush.json --server root@203.0.113.10 --server deploy@203.0.113.11

  # Servers and keys from the environment
  DEPLOY_ADDRESSES='["203.0.113.10"]' SSH_KEYS='["~/.ssh/deploy"]' onepush setup -m onepush.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			mc, err := loadManifest(manifestFile)
			if err != nil {
				return err
			}
			if len(publicKeys) == 0 {
				publicKeys = tasks.DefaultPublicKeyPaths()
			}
			keys, err := tasks.LoadPublicKeys(publicKeys...)
			if err != nil {
				return err
			}
			graph, err := tasks.BuildGraph(tasks.SetupTasks())
			if err != nil {
				return err
			}

			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.close(ctx)

			hosts, disconnect, err := inv.connect(ctx)
			if err != nil {
				return err
			}
			defer disconnect()

			runner := &tasks.Runner{
				Graph:       graph,
				Manifest:    mc,
				PublicKeys:  keys,
				Parallelism: parallel,
				Telemetry:   sess.tel,
				Store:       sess.store,
			}
			result, runErr := runner.Run(ctx, hosts)
			if result != nil {
				printSetupResult(cmd, result)
			}
			if runErr != nil {
				return runErr
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\nYour servers are set up for %s. You can now deploy with 'onepush push'.\n", mc.ID())
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestFile, "manifest", "m", "", "app manifest (.json, .yaml, .cue)")
	cmd.Flags().StringArrayVar(&publicKeys, "public-key", nil,
		"public key file to authorize for the app user (repeatable; default ~/.ssh/id_*.pub)")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "maximum number of servers set up at once (0 = all)")
	inv.register(cmd)

	return cmd
}

func printSetupResult(cmd *cobra.Command, result *tasks.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nRun %s\n", result.RunID)
	for _, hr := range result.Hosts {
		if hr.Host == "" {
			// never started
			continue
		}
		status := "ok"
		if hr.Err != nil {
			status = "FAILED"
		}
		fmt.Fprintf(out, "  %s: %s\n", hr.Host, status)
		for _, tr := range hr.Tasks {
			fmt.Fprintf(out, "    %-28s %-10s %s\n", tr.Task, tr.Status, tr.Duration.Round(time.Millisecond))
		}
	}
}
