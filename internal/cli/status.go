package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/calder/inkwell/internal/config"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service status",
	Long:  `Check whether the inkwell service is reachable on its configured port.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	url := fmt.Sprintf("http://%s:%d/healthz", cfg.Server.Host, cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Status: stopped")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Fprintln(cmd.OutOrStdout(), "Status: running")
		fmt.Fprintf(cmd.OutOrStdout(), "Endpoint: http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Status: unhealthy (%d)\n", resp.StatusCode)
	}
	return nil
}
