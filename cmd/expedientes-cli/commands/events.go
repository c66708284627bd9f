package commands

import (
	"log/slog"

	"expedientes-backend/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(eventsCmd)
}

var eventsCmd = &cobra.Command{
	Use:   "events <number/year[/incident]>",
	Short: "Fetches and stores the full docket of one case.",
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
		detail, fresh, err := service.FetchCaseEvents(ctx, session, *row)
		if err != nil {
			serviceutil.Fatal("failed to fetch docket", err)
		}

		t := newTable()
		t.SetTitle(detail.Number + " - " + detail.Caption)
		t.AppendHeader(table.Row{"Date", "Office", "Type", "Description", "Folio"})
		for _, event := range detail.Events {
			t.AppendRow(table.Row{event.Date, event.Office, event.Type, event.Description, event.Folio})
		}
		t.Render()

		slog.Info("docket stored", "events", len(detail.Events), "new", fresh)
	},
}
