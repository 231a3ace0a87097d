package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect persisted runs",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListRecent(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print a run snapshot as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := st.Load(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		if snap == nil {
			return eris.Errorf("run %s not found", args[0])
		}

		if summary, _ := cmd.Flags().GetBool("summary"); summary {
			printSummary(cmd.OutOrStdout(), snap)
			return nil
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

// -- runs sends --

var runsSendsCmd = &cobra.Command{
	Use:   "sends <run-id>",
	Short: "Print the send log of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.ListSends(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs sends")
		}
		formatSends(cmd.OutOrStdout(), recs)
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", store.DefaultListLimit, "max number of runs to display")
	runsShowCmd.Flags().Bool("summary", false, "print counters instead of the full snapshot")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsSendsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []store.RunInfo) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTAGE\tENRICHED\tCOMPOSED\tSENT\tCREATED\tAGE")
	_, _ = fmt.Fprintln(w, "--\t-----\t--------\t--------\t----\t-------\t---")

	for _, r := range runs {
		p := r.Progress
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.RunID),
			r.Stage,
			ratio(p.Enriched, p.EnrichTotal),
			ratio(p.Composed, p.ComposeTotal),
			ratio(p.Sent, p.SendTotal),
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String(),
		)
	}
	_ = w.Flush()
}

// formatSends writes the send log as a table.
func formatSends(out io.Writer, recs []model.SendRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SIDE\tEMAIL\tPROVIDER\tOUTCOME\tRETRIES\tDETAIL")
	for _, r := range recs {
		detail := r.Detail
		if r.ErrorType != "" {
			detail = r.ErrorType + ": " + detail
		}
		if len(detail) > 60 {
			detail = detail[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.Side, r.Email, r.Provider, r.Outcome, r.Retries, detail)
	}
	_ = w.Flush()
}

func ratio(done, total int) string {
	if total == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", done, total)
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
