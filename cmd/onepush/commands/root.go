package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/onepush/onepush/pkg/engine"
	"github.com/onepush/onepush/pkg/stores"
	"github.com/onepush/onepush/pkg/telemetry"
)

var (
	// Global flags
	verbose       bool
	logFormat     string
	stateDBPath   string
	noHistory     bool
	metricsListen string
	traceExporter string
	otlpEndpoint  string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "onepush",
		Short: "Onepush - set up servers for your app and push deploy to them",
		Long: `Onepush prepares Linux servers to host a web app and deploys to them
with a git push.

  onepush setup   installs what the app needs: user account, app directory,
                  Nginx virtual host and optional services
  onepush push    force-pushes the current git revision to every app server`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&stateDBPath, "state-db", defaultStateDBPath(), "run history database")
	rootCmd.PersistentFlags().BoolVar(&noHistory, "no-history", false, "do not record runs in the history database")
	rootCmd.PersistentFlags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address while running")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	rootCmd.PersistentFlags().StringVar(&otlpEndpoint, "otlp-endpoint", "localhost:4317", "OTLP collector endpoint")

	rootCmd.AddCommand(newSetupCommand())
	rootCmd.AddCommand(newPushCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newFactsCommand())
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

func defaultStateDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".onepush", "state.db")
	}
	return filepath.Join(home, ".onepush", "state.db")
}

// newTelemetry builds the telemetry bundle from the global flags.
func newTelemetry() (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	cfg.LogFormat = logFormat
	cfg.TraceExporter = traceExporter
	cfg.OTLPEndpoint = otlpEndpoint
	cfg.MetricsListen = metricsListen
	return telemetry.New(cfg)
}

// openStore opens the history database, or returns nil when history is
// disabled.
func openStore(ctx context.Context) (stores.Store, error) {
	if noHistory || stateDBPath == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(stateDBPath), 0o700); err != nil {
		return nil, engine.NewEnvironmentError("failed to create state directory", err)
	}
	store, err := stores.Open(ctx, stateDBPath)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// session holds what a run needs besides its inputs.
type session struct {
	tel   *telemetry.Telemetry
	store stores.Store
}

func openSession(ctx context.Context) (*session, error) {
	tel, err := newTelemetry()
	if err != nil {
		return nil, err
	}
	store, err := openStore(ctx)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	return &session{tel: tel, store: store}, nil
}

func (s *session) close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.tel.Logger.Warn().Err(err).Msg("failed to close history database")
		}
	}
	if err := s.tel.Shutdown(ctx); err != nil {
		s.tel.Logger.Warn().Err(err).Msg("failed to shut down telemetry")
	}
}
