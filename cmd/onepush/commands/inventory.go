package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/onepush/onepush/pkg/engine"
	"github.com/onepush/onepush/pkg/host"
	sshtransport "github.com/onepush/onepush/pkg/transports/ssh"
)

// Environment variables consulted when the matching flags are not given.
const (
	envAddresses = "DEPLOY_ADDRESSES"
	envSSHKeys   = "SSH_KEYS"
)

// inventoryFlags selects and reaches the target servers.
type inventoryFlags struct {
	servers    []string
	identities []string
	osName     string
	insecure   bool
}

func (f *inventoryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.servers, "server", "s", nil,
		"server to work on as [user@]host[:port] (repeatable; default from $"+envAddresses+")")
	cmd.Flags().StringArrayVarP(&f.identities, "identity", "i", nil,
		"SSH private key file (repeatable; default from $"+envSSHKeys+")")
	cmd.Flags().StringVar(&f.osName, "os", "", "skip OS detection and assume this family (debian, redhat)")
	cmd.Flags().BoolVar(&f.insecure, "insecure-host-key", false, "accept any SSH host key")
}

// addresses returns the servers from the flags, or from a JSON list in
// $DEPLOY_ADDRESSES.
func (f *inventoryFlags) addresses() ([]host.Address, error) {
	raw := f.servers
	if len(raw) == 0 {
		var err error
		if raw, err = jsonListEnv(envAddresses); err != nil {
			return nil, err
		}
	}
	if len(raw) == 0 {
		return nil, engine.NewConfigurationError(
			"no servers given; pass --server or set "+envAddresses, nil,
		).WithCode(engine.ErrCodeNoConfig)
	}

	addrs := make([]host.Address, 0, len(raw))
	for _, s := range raw {
		addr, err := host.ParseAddress(s, "")
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func (f *inventoryFlags) identityFiles() ([]string, error) {
	if len(f.identities) > 0 {
		return f.identities, nil
	}
	return jsonListEnv(envSSHKeys)
}

func jsonListEnv(name string) ([]string, error) {
	v := os.Getenv(name)
	if v == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(v), &list); err != nil {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("$%s must be a JSON list of strings", name), err,
		).WithCode(engine.ErrCodeValidation)
	}
	return list, nil
}

// connect opens an SSH connection to every server and detects its OS
// family unless --os was given. The returned function disconnects all of
// them.
func (f *inventoryFlags) connect(ctx context.Context) ([]*host.Host, func(), error) {
	addrs, err := f.addresses()
	if err != nil {
		return nil, nil, err
	}
	identities, err := f.identityFiles()
	if err != nil {
		return nil, nil, err
	}

	forced := host.OSUnknown
	if f.osName != "" {
		if forced, err = host.ParseOSFamily(f.osName); err != nil {
			return nil, nil, err
		}
	}

	var clients []*sshtransport.SSHClient
	disconnect := func() {
		for _, c := range clients {
			if err := c.Disconnect(); err != nil {
				log.Warn().Err(err).Msg("failed to close SSH connection")
			}
		}
	}

	hosts := make([]*host.Host, 0, len(addrs))
	for _, addr := range addrs {
		cfg := sshtransport.ConfigFor(addr, identities)
		if f.insecure {
			cfg.StrictHostKeyChecking = false
		}

		client, err := sshtransport.NewSSHClient(cfg)
		if err != nil {
			disconnect()
			return nil, nil, engine.NewConfigurationError(
				fmt.Sprintf("cannot use SSH settings for %s", addr.Hostname), err,
			).WithCode(engine.ErrCodeValidation)
		}
		if err := client.Connect(ctx); err != nil {
			disconnect()
			return nil, nil, engine.NewEnvironmentError(
				fmt.Sprintf("cannot connect to %s", addr.HostPort()), err,
			).WithHost(addr.Hostname)
		}
		clients = append(clients, client)

		address := addr.Hostname
		if addr.Port != 0 {
			address = addr.HostPort()
		}

		family := forced
		if family == host.OSUnknown {
			if family, err = host.DetectOSFamily(ctx, client); err != nil {
				disconnect()
				var ee *engine.EngineError
				if errors.As(err, &ee) {
					return nil, nil, ee.WithHost(address)
				}
				return nil, nil, engine.NewRemoteError("failed to detect OS family", err).WithHost(address)
			}
		}

		h := host.New(address, addr.User, family, client)
		log.Debug().Str("host", h.Address).Str("user", h.User).Str("os", family.String()).Msg("connected")
		hosts = append(hosts, h)
	}

	return hosts, disconnect, nil
}
