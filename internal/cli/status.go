package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/refactorswarm/internal/pipeline"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show the state of recent runs, or one run in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := pipeline.DefaultStore(cfg.StateDir)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")

		if len(args) == 1 {
			st, err := store.Get(args[0])
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(cmd, st)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Run:        %s\n", st.RunID)
			fmt.Fprintf(w, "Target:     %s\n", st.TargetDir)
			fmt.Fprintf(w, "Phase:      %s\n", st.Phase)
			fmt.Fprintf(w, "Iteration:  %d/%d\n", st.CurrentIteration, st.MaxIterations)
			fmt.Fprintf(w, "Files:      %d processed of %d\n", len(st.FilesProcessed), len(st.FilesToProcess))
			fmt.Fprintf(w, "Bugs fixed: %d\n", st.BugsFixed)
			if len(st.Directives) > 0 {
				fmt.Fprintln(w, "Directives:")
				for _, d := range st.Directives {
					fmt.Fprintf(w, "  [%s] %s: %s\n", d.Category, d.TargetFunction, d.ActionText)
				}
			}
			if rep, err := store.GetReport(st.RunID); err == nil {
				fmt.Fprintln(w)
				fmt.Fprintln(w, RenderSummary(rep))
			}
			return nil
		}

		states, err := store.List()
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd, states)
		}
		if len(states) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tPHASE\tITER\tFILES\tUPDATED\tTARGET")
		for _, st := range states {
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%s\t%s\n",
				shortID(st.RunID), st.Phase, st.CurrentIteration, st.MaxIterations,
				len(st.FilesToProcess), st.UpdatedAt.Format("2006-01-02 15:04:05"), st.TargetDir)
		}
		return w.Flush()
	},
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	statusCmd.Flags().String("format", "text", "Output format: text or json")
}
