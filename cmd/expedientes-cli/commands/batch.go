package commands

import (
	"fmt"
	"os"
	"strings"

	"expedientes-backend/lib/serviceutil"
	"expedientes-backend/services/expedientes"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	batchWorkers     *int
	batchReauthEvery *int
)

func init() {
	batchWorkers = batchCmd.Flags().Int("workers", 4, "Concurrent workers, each with its own portal session.")
	batchReauthEvery = batchCmd.Flags().Int("reauth-every", 50, "Cases after which a worker re-authenticates.")
	rootCmd.AddCommand(batchCmd)
}

// readNumbers reads one case number per line, skipping blanks and
// #-comments.
func readNumbers(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var numbers []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		numbers = append(numbers, line)
	}
	return numbers, nil
}

var batchCmd = &cobra.Command{
	Use:   "batch <path/to/numbers.txt>",
	Short: "Fetches the docket of every listed case concurrently and stores the results.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		service, closeService := openService(cfg)
		defer closeService()

		numbers, err := readNumbers(args[0])
		if err != nil {
			serviceutil.Fatal("failed to read case numbers", err)
		}

		summary, err := service.RunBatchByNumbers(cmd.Context(), scwCredentials(cfg), numbers, expedientes.BatchOptions{
			Workers:     *batchWorkers,
			ReauthEvery: *batchReauthEvery,
		})
		if err != nil {
			serviceutil.Fatal("batch run failed", err)
		}

		failures := newTable()
		failures.AppendHeader(table.Row{"Case", "Error"})
		for _, item := range summary.Items {
			if item.Err != nil {
				failures.AppendRow(table.Row{item.Row.Number, item.Err.Error()})
			}
		}
		if summary.Failed > 0 {
			failures.Render()
		}

		t := newTable()
		t.AppendHeader(table.Row{"Requested", "Matched", "Unmatched", "Succeeded", "Failed", "Events", "Elapsed"})
		t.AppendRow(table.Row{
			len(numbers),
			summary.Matched,
			summary.Unmatched,
			summary.Succeeded,
			summary.Failed,
			summary.TotalEvents,
			fmt.Sprintf("%.1fs", summary.Elapsed.Seconds()),
		})
		t.Render()
	},
}
