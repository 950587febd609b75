package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/takeoff-cli/internal/model"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Print the active topic taxonomy",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tax, err := loadTaxonomy(cfg.Pipeline, nil)
		if err != nil {
			return eris.Wrap(err, "topics")
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return writeIndentedJSON(os.Stdout, tax)
		}
		formatTopics(os.Stdout, tax)
		return nil
	},
}

func init() {
	topicsCmd.Flags().Bool("json", false, "print the taxonomy as JSON")
	rootCmd.AddCommand(topicsCmd)
}

// formatTopics writes a tabular view of the taxonomy to out.
func formatTopics(out io.Writer, tax model.Taxonomy) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tLABEL\tKEYWORDS")
	for _, t := range tax.Topics {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", t.Key, t.Label, strings.Join(t.Keywords, ", "))
	}
	_ = w.Flush()
}
