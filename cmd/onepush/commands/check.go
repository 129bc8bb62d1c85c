package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onepush/onepush/pkg/tasks"
)

func newCheckCommand() *cobra.Command {
	var (
		manifestFile string
		inv          inventoryFlags
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that servers were set up for an app",
		Long: `Check that 'onepush setup' was run on every server for this app and
that the Ruby version the app asks for is installed.`,
		Example: `  onepush check --manifest onepush.json --server 203.0.113.10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			mc, err := loadManifest(manifestFile)
			if err != nil {
				return err
			}

			hosts, disconnect, err := inv.connect(ctx)
			if err != nil {
				return err
			}
			defer disconnect()

			out := cmd.OutOrStdout()
			for _, h := range hosts {
				status, err := tasks.CheckServerSetup(ctx, h, mc)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: set up for %s in %s\n", h.Address, mc.ID(), status.AppDir)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestFile, "manifest", "m", "", "app manifest (.json, .yaml, .cue)")
	inv.register(cmd)

	return cmd
}
