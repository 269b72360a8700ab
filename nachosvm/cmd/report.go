package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/nachosvm/datarecording"
	"github.com/sarchlab/nachosvm/tracing"
)

var reportCmd = &cobra.Command{
	Use:   "report <dsn>",
	Short: "Summarize the paging events stored by a recorded run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		driver, _ := cmd.Flags().GetString("driver")
		where, _ := cmd.Flags().GetString("where")

		db, err := sql.Open(driver, args[0])
		if err != nil {
			return err
		}

		reader := datarecording.NewReaderWithDB(db, driver)
		defer reader.Close()

		return report(cmd.Context(), cmd.OutOrStdout(), reader, where)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("driver", datarecording.DriverSQLite3,
		"Database driver of the recording.")
	reportCmd.Flags().String("where", "",
		"Only count events matching this SQL condition, e.g. \"Domain = 'TLB'\".")
}

func report(
	ctx context.Context,
	w io.Writer,
	reader datarecording.DataReader,
	where string,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	tables, err := reader.ListTables(ctx)
	if err != nil {
		return err
	}

	if !slices.Contains(tables, tracing.EventTable) {
		return fmt.Errorf("no %s table in the recording", tracing.EventTable)
	}

	reader.MapTable(tracing.EventTable, tracing.Event{})

	results, total, err := reader.Query(ctx, tracing.EventTable,
		datarecording.QueryParams{Where: where, OrderBy: "Seq"})
	if err != nil {
		return err
	}

	counts := make(map[string]int)
	for _, r := range results {
		counts[r.(*tracing.Event).What]++
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "events\t%d\n", total)

	for _, what := range slices.Sorted(maps.Keys(counts)) {
		fmt.Fprintf(tw, "%s\t%d\n", what, counts[what])
	}

	return tw.Flush()
}
