package commands

import (
	"expedientes-backend/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists every case in the authenticated user's tray, across all pages.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		service, closeService := openService(cfg)
		defer closeService()

		ctx := cmd.Context()
		session, err := service.Authenticate(ctx, scwCredentials(cfg))
		if err != nil {
			serviceutil.Fatal("login failed", err)
		}
		rows, err := service.FetchAllListPages(ctx, session)
		if err != nil {
			serviceutil.Fatal("failed to fetch case list", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Number", "Office", "Caption", "Status", "Last update"})
		for _, row := range rows {
			t.AppendRow(table.Row{row.Number, row.Office, row.Caption, row.Status, row.LastUpdate})
		}
		t.AppendFooter(table.Row{"Total", len(rows)})
		t.Render()
	},
}
