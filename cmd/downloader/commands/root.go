// Package commands holds the downloader's cobra command tree.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/progitto/TelegramMediaDownload/internal/config"
)

// NewRootCmd builds the "downloader" command with its subcommands.
func NewRootCmd(version string) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "downloader",
		Short: "Save media posted in a Telegram chat to disk",
		Long: `downloader watches one Telegram chat and downloads every file, photo,
video or audio message posted there by the authorized user, reporting
progress in the chat and keeping download statistics.

Configuration comes from environment variables, optionally loaded from a
dotenv or YAML file given with --config.`,
		Version:       version,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "path to config file (.env or .yaml)")

	root.AddCommand(
		newRunCmd(&configPath, version),
		newShowConfCmd(&configPath),
		newStatsCmd(&configPath),
	)
	return root
}
