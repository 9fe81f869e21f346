package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/refactorswarm/internal/analytics"
)

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate run outcomes, phase durations and gate rejections",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := historyDB()
		if err != nil {
			return err
		}
		defer d.Close()

		since, _ := cmd.Flags().GetString("since")

		outcomes, err := analytics.QueryRunOutcomes(d, since)
		if err != nil {
			return err
		}
		phases, err := analytics.QueryPhaseDurations(d, since)
		if err != nil {
			return err
		}
		gates, err := analytics.QueryGateRejections(d, since)
		if err != nil {
			return err
		}
		attempts, err := analytics.QueryAttemptStats(d, since)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, map[string]interface{}{
				"runs":     outcomes,
				"phases":   phases,
				"gates":    gates,
				"attempts": attempts,
			})
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Runs: %d finished, %d succeeded (%.1f%%), avg %.1f iterations, avg pass rate %.1f%%, %d bugs fixed\n",
			outcomes.Runs, outcomes.Succeeded, outcomes.SuccessPct, outcomes.AvgIterations, outcomes.AvgPassPct, outcomes.BugsFixed)
		fmt.Fprintf(out, "Fix attempts: %d file-iterations, %.1f%% first try, %.1f%% accepted, %.1f%% fallback, avg %.1f attempts\n",
			attempts.FileIterations, attempts.FirstTryPct, attempts.AcceptedPct, attempts.FallbackPct, attempts.AvgAttempts)

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		if len(phases) > 0 {
			fmt.Fprintln(w, "\nPHASE\tCOUNT\tAVG(s)\tP50(s)\tP95(s)")
			for _, p := range phases {
				fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%.1f\n", p.Phase, p.Count, p.Avg, p.P50, p.P95)
			}
		}
		if len(gates) > 0 {
			fmt.Fprintln(w, "\nGATE\tREJECTED\tOF ATTEMPTS")
			for _, g := range gates {
				fmt.Fprintf(w, "%s\t%d\t%.1f%%\n", g.Gate, g.Count, g.Pct)
			}
		}
		return w.Flush()
	},
}

func init() {
	historyStatsCmd.Flags().String("since", "", "only include data from this timestamp on (e.g. 2024-06-01)")
	historyStatsCmd.Flags().String("format", "text", "Output format: text or json")
	historyCmd.AddCommand(historyStatsCmd)
}
