package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/metalagman/gridca/internal/db"
	"github.com/spf13/cobra"
)

func runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:          "runs",
		Short:        "List recorded grid runs",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			storeDB, _, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			records, err := db.NewStore(storeDB).ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tCREATED\tSEED\tSTATUS\tTICKS\tEMITTED\tCALLS\tEFFICIENCY\tREWORK")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%.0f%%\t%d\n",
					shortID(r.RunID), r.CreatedAt, r.Seed, r.Status, r.Ticks,
					r.ItemsEmitted, r.InvokerCalls, r.RoutingEfficiency*100, r.ReworkCount)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
