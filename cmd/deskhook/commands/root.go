package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "deskhook",
	Short: "Deskhook - conversation to support-ticket synchronization",
	Long: `Deskhook synchronizes messaging-platform conversations with
support tickets on a ticketing platform: new conversations become tickets,
follow-up messages become ticket comments, and agent replies on tickets flow
back into the conversation.

Inbound webhooks are acknowledged immediately and processed through a durable
Redis-backed job queue with retry and backoff.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "deskhook.yml", "Path to the configuration file")
}
