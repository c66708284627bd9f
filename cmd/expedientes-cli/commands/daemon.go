package commands

import (
	"time"

	"github.com/spf13/cobra"
)

var daemonInterval *time.Duration

func init() {
	daemonInterval = daemonCmd.Flags().Duration("interval", time.Hour*6, "Time between novelty cycles.")
	rootCmd.AddCommand(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon [--interval 6h]",
	Short: "Periodically refreshes the docket of every case that moved today.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		service, closeService := openService(cfg)
		defer closeService()

		service.DailyNovelty(cmd.Context(), scwCredentials(cfg), *daemonInterval)
	},
}
