package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/takeoff-cli/internal/model"
	"github.com/sells-group/takeoff-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List takeoff runs",
	Long:  "Lists persisted takeoff runs. Use 'runs show <id>' for the full result of one run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
			return eris.Wrap(err, "invalid config")
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		document, _ := cmd.Flags().GetString("document")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status:   model.RunStatus(status),
			Document: document,
			Limit:    limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
			return eris.Wrap(err, "invalid config")
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		detail, err := loadRunDetail(ctx, st, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		return writeIndentedJSON(os.Stdout, detail)
	},
}

func init() {
	runsCmd.Flags().String("status", "", "filter by run status (queued, scanning, complete, failed, ...)")
	runsCmd.Flags().String("document", "", "filter by document name")
	runsCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to out.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDOCUMENT\tSTATUS\tITEMS\tCOST\tCREATED\tDURATION")
	for _, r := range runs {
		items, usd := "-", "-"
		if r.Result != nil {
			items = fmt.Sprintf("%d", len(r.Result.LineItems))
			usd = fmt.Sprintf("$%.4f", r.Result.Cost.TotalUSD)
		}
		dur := r.UpdatedAt.Sub(r.CreatedAt).Truncate(time.Second)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Document.Name,
			r.Status,
			items,
			usd,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
