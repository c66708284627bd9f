package commands

import (
	"log/slog"

	"expedientes-backend/lib/serviceutil"
	"expedientes-backend/services/expedientes"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(trayCmd)
}

var trayCmd = &cobra.Command{
	Use:   "tray",
	Short: "Mirrors the provincial virtual filing desk into the local store.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		service, closeService := openService(cfg)
		defer closeService()

		fresh, err := service.SyncTray(cmd.Context(), expedientes.Credentials{
			Username: cfg.Mev.Username,
			Password: cfg.Mev.Password,
		})
		if err != nil {
			serviceutil.Fatal("tray sync failed", err)
		}
		slog.Info("tray sync complete", "new_movements", fresh)
	},
}
