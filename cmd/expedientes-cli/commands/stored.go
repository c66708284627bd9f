package commands

import (
	"time"

	"expedientes-backend/lib/serviceutil"
	"expedientes-backend/services/expedientes/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	storedSource       *string
	storedJurisdiction *string
	storedLimit        *int64
)

func init() {
	storedSource = storedCmd.Flags().String("source", "", "Only cases from this portal (scw or mev).")
	storedJurisdiction = storedCmd.Flags().String("jurisdiction", "", "Only cases of this jurisdiction.")
	storedLimit = storedCmd.Flags().Int64("limit", 0, "Cap the number of cases shown, 0 shows all.")
	rootCmd.AddCommand(storedCmd)
}

var storedCmd = &cobra.Command{
	Use:   "stored [--source scw] [--jurisdiction CIV] [--limit 20]",
	Short: "Lists the cases persisted in the local store.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		service, closeService := openService(cfg)
		defer closeService()

		cases, err := service.ListStoredCases(cmd.Context(), db.ListExpedientesParams{
			SourceSystem: *storedSource,
			Jurisdiction: *storedJurisdiction,
			Limit:        *storedLimit,
		})
		if err != nil {
			serviceutil.Fatal("failed to read local store", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Source", "Number", "Caption", "Jurisdiction", "Status", "Updated"})
		for _, c := range cases {
			t.AppendRow(table.Row{
				c.SourceSystem, c.Number, c.Caption, c.Jurisdiction, c.Status,
				time.Unix(c.UpdatedAt, 0).Format("2006-01-02"),
			})
		}
		t.AppendFooter(table.Row{"Total", len(cases)})
		t.Render()
	},
}
