package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iksnae/synthshot/internal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	verbose    bool
	configPath string
	kibanaURL  string
	apiKey     string
	version    string = "dev"
	commit     string = "unknown"
	date       string = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "synthshot",
	Short: "Reconstruct synthetic monitor screenshots",
	Long: `Rebuild the per-step screenshots of a synthetic monitor's latest run.

Browser monitors store screenshots as deduplicated image tiles. synthshot finds
the most recent run of a monitor, fetches each step's tile layout, downloads
every distinct tile once and composites the tiles back into full images.

Features:
  • Reconstruct every step of the latest run in one command
  • Per-step failures never abort the other steps
  • Manifests in JSON, JSONL, YAML or Markdown next to the images
  • Local history of past reconstructions
  • A local HTTP service for dashboards

Quick Start:
  synthshot monitors                       # List monitors
  synthshot reconstruct <monitor-id>       # Write step images to ./screenshots
  synthshot serve                          # Serve screenshots over HTTP

Configuration is read from ~/.synthshot/config.yaml, SYNTHSHOT_* environment
variables and flags, in increasing priority.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		internal.SetVerbose(verbose)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.synthshot/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&kibanaURL, "kibana-url", "", "Kibana base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Kibana API key")

	// Set version template to ensure --version flag works
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// loadConfig resolves the configuration for cmd and applies its logging settings.
// extra maps config keys to flags local to cmd.
func loadConfig(cmd *cobra.Command, extra map[string]string) (*internal.Config, error) {
	bindings := map[string]*pflag.Flag{
		"kibana.url":     rootCmd.PersistentFlags().Lookup("kibana-url"),
		"kibana.api_key": rootCmd.PersistentFlags().Lookup("api-key"),
	}
	for key, name := range extra {
		bindings[key] = cmd.Flags().Lookup(name)
	}

	cfg, err := internal.LoadConfig(configPath, bindings)
	if err != nil {
		return nil, err
	}

	internal.ConfigureLogger(cmd.ErrOrStderr(), cfg.Log.Format)
	if verbose {
		internal.SetVerbose(true)
	} else {
		internal.SetLogLevel(internal.ParseLogLevel(cfg.Log.Level))
	}
	return cfg, nil
}

// openHistory opens the history store when enabled. The returned close func is
// never nil.
func openHistory(cfg *internal.Config) (*internal.HistoryStore, func(), error) {
	if !cfg.History.Enabled {
		return nil, func() {}, nil
	}
	db, err := internal.OpenDatabase(cfg.History.Path)
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to open history: %w", err)
	}
	return internal.NewHistoryStore(db), func() { _ = db.Close() }, nil
}
