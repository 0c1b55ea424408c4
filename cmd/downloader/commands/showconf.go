package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/progitto/TelegramMediaDownload/internal/config"
)

func newShowConfCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "showconf",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			out, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
