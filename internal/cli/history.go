package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/refactorswarm/internal/db"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past runs from the history database",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := historyDB()
		if err != nil {
			return err
		}
		defer d.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := d.ListRuns(limit)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTARTED\tRESULT\tITER\tTESTS\tFIXED\tTARGET")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d/%d\t%d\t%s\n",
				shortID(r.ID), r.StartedAt, runResult(r), r.IterationsUsed, r.MaxIterations,
				r.TestsPassed, r.TestsTotal, r.BugsFixed, r.TargetDir)
		}
		return w.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the phase events and fix attempts of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := historyDB()
		if err != nil {
			return err
		}
		defer d.Close()

		run, err := d.GetRun(args[0])
		if err != nil {
			return err
		}
		events, err := d.GetRunEvents(run.ID)
		if err != nil {
			return err
		}
		attempts, err := d.GetAttempts(run.ID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Run %s (%s): %s\n", run.ID, runResult(*run), run.Reason)

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "\nTIME\tITER\tPHASE\tEVENT\tDETAIL")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", e.Timestamp, e.Iteration, e.Phase, e.Event, truncate(e.Detail, 60))
		}
		if len(attempts) > 0 {
			fmt.Fprintln(w, "\nITER\tTRY\tFILE\tACCEPTED\tGATE")
			for _, a := range attempts {
				fmt.Fprintf(w, "%d\t%d\t%s\t%t\t%s\n", a.Iteration, a.RetryIndex, a.File, a.Accepted, a.FailedGate)
			}
		}
		return w.Flush()
	},
}

// historyDB opens the configured history database.
func historyDB() (*db.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.History.Enabled = true
	d, err := openHistory(cfg)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if d == nil {
		return nil, errors.New("history database unavailable")
	}
	return d, nil
}

func runResult(r db.Run) string {
	switch {
	case !r.Finished:
		return "running"
	case r.Success:
		return "success"
	default:
		return "failed"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	historyCmd.Flags().String("format", "text", "Output format: text or json")
	historyCmd.AddCommand(historyShowCmd)
}
