package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "slipway",
	Short: "Slipway is a review queue and payout service",
	Long: `Slipway runs the review dashboard backend: session handling, claim
leases on queue items, decision recording with payout calculation, and the
weekly reviewer leaderboard.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
