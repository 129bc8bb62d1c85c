package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onepush/onepush/pkg/autodetect"
	"github.com/onepush/onepush/pkg/host"
)

// hostFacts is what the facts command reports for one server.
type hostFacts struct {
	Host      string              `json:"host"`
	OS        string              `json:"os"`
	Nginx     *host.WebServerInfo `json:"nginx,omitempty"`
	Ruby      string              `json:"ruby,omitempty"`
	Passenger *host.AppServerInfo `json:"passenger,omitempty"`
}

func newFactsCommand() *cobra.Command {
	var (
		manifestFile string
		jsonOutput   bool
		inv          inventoryFlags
	)

	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Show what Onepush detects on servers",
		Long: `Connect to servers and print what Onepush detects there: the OS family,
the Nginx installation, the Ruby interpreter and Phusion Passenger.
Nothing is changed on the servers.`,
		Example: `  onepush facts --manifest onepush.json --server 203.0.113.10
  onepush facts -m onepush.json -s 203.0.113.10 --json`,
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

			var all []hostFacts
			for _, h := range hosts {
				f := hostFacts{Host: h.Address, OS: h.OS.String()}

				nginx, found, err := autodetect.Nginx(ctx, h)
				if err != nil {
					return err
				}
				if found {
					f.Nginx = &nginx
				}
				ruby, found, err := autodetect.Ruby(ctx, h, mc.About.Type)
				if err != nil {
					return err
				}
				if found {
					f.Ruby = ruby
				}
				passenger, found, err := autodetect.Passenger(ctx, h, mc.About.Type)
				if err != nil {
					return err
				}
				if found {
					f.Passenger = &passenger
				}
				all = append(all, f)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(all)
			}
			for _, f := range all {
				fmt.Fprintf(out, "%s\n", f.Host)
				fmt.Fprintf(out, "  OS family: %s\n", f.OS)
				if f.Nginx != nil {
					fmt.Fprintf(out, "  Nginx:     %s (config %s, system package: %t)\n",
						f.Nginx.Binary, f.Nginx.ConfigFile, f.Nginx.InstalledFromSystemPackage)
				} else {
					fmt.Fprintf(out, "  Nginx:     not found\n")
				}
				if f.Ruby != "" {
					fmt.Fprintf(out, "  Ruby:      %s\n", f.Ruby)
				} else {
					fmt.Fprintf(out, "  Ruby:      not found\n")
				}
				if f.Passenger != nil {
					fmt.Fprintf(out, "  Passenger: %s\n", f.Passenger.BinDir)
				} else {
					fmt.Fprintf(out, "  Passenger: not found\n")
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestFile, "manifest", "m", "", "app manifest (.json, .yaml, .cue)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	inv.register(cmd)

	return cmd
}
