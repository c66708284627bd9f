package commands

import (
	"expedientes-backend/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <number/year[/incident]>",
	Short: "Looks up one case by its exact number.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		service, closeService := openService(cfg)
		defer closeService()

		ctx := cmd.Context()
		session, err := service.Authenticate(ctx, scwCredentials(cfg))
		if err != nil {
			serviceutil.Fatal("login failed", err)
		}
		row, err := service.SearchExactNumber(ctx, session, args[0])
		if err != nil {
			serviceutil.Fatal("search failed", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Number", "Office", "Caption", "Status"})
		t.AppendRow(table.Row{row.Number, row.Office, row.Caption, row.Status})
		t.Render()
	},
}
