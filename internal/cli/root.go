// Package cli defines the inkwell command tree.
package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "inkwell",
	Short: "Inkwell - local agent streaming service",
	Long: `Inkwell runs a local agent endpoint: it turns prompts into bounded
multi-turn exchanges with an LLM provider, executes note tools the
model requests, and streams incremental output to concurrent
conversation sessions.`,
	Version: version,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.inkwell/inkwell.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}
