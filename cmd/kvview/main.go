package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/systmms/kvview/cmd/kvview/commands"
	"github.com/systmms/kvview/internal/config"
	kverrors "github.com/systmms/kvview/internal/errors"
	"github.com/systmms/kvview/internal/logging"
	"github.com/systmms/kvview/internal/metrics"
	"github.com/systmms/kvview/internal/secure"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	err := run()
	// Wipe sealed secret values before exiting.
	secure.Purge()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", kverrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{Logger: logging.New(false, false)}
	factory := commands.DefaultFactory()

	rootCmd := &cobra.Command{
		Use:   "kvview",
		Short: "Browse and edit Azure Key Vault secrets",
		Long: `kvview signs in to Microsoft Entra ID and lists the secrets of one
Azure Key Vault. Values stay masked until revealed and can only be changed
with write mode turned on.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Logger = logging.New(debug, noColor)
			cfg.Path = configFile
			cfg.Explicit = cmd.Flags().Changed("config")
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewLoginCommand(cfg, factory),
		commands.NewLogoutCommand(cfg, factory),
		commands.NewWhoamiCommand(cfg, factory),
		commands.NewListCommand(cfg, factory),
		commands.NewShowCommand(cfg, factory),
		commands.NewSetCommand(cfg, factory),
		commands.NewBrowseCommand(cfg, factory),
		commands.NewDoctorCommand(cfg, factory),
	)

	metrics.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
