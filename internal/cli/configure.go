package cli

import (
	"fmt"

	"github.com/calder/inkwell/internal/config"
	"github.com/spf13/cobra"
)

var (
	configureAPIKey string
	configureModel  string
	configurePort   int
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Update the stored configuration",
	Long: `Update the stored configuration file. Only the flags you pass are
changed; everything else keeps its current value.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureAPIKey, "api-key", "", "upstream API key")
	configureCmd.Flags().StringVar(&configureModel, "model", "", "model identifier")
	configureCmd.Flags().IntVar(&configurePort, "port", 0, "local endpoint port")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if configureAPIKey != "" {
		cfg.Provider.APIKey = configureAPIKey
	}
	if configureModel != "" {
		cfg.Provider.Model = configureModel
	}
	if configurePort != 0 {
		cfg.Server.Port = configurePort
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	path, err := loader.Path()
	if err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
	}
	return nil
}
