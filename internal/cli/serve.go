package cli

import (
	"context"
	"fmt"

	"github.com/calder/inkwell/internal/config"
	"github.com/calder/inkwell/internal/daemon"
	"github.com/calder/inkwell/internal/logger"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the inkwell service",
	Long: `Run the inkwell service in the foreground. The service exposes the
local agent endpoint and the session lifecycle API until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(daemon.Options{
		Config: cfg,
		Logger: log,
		Loader: loader,
	})
	if err != nil {
		return err
	}

	return d.Run(context.Background())
}
