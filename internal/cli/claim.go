package cli

import (
	"github.com/spf13/cobra"
)

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Run the reward claim protocol once for all configured assets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Claim(cmd.Context())
	},
}
