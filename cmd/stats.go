package cmd

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate statistics from the relational store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			store, err := a.OpenCatalog(cmd.Context(), "")
			if err != nil {
				return err
			}
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("catalog stats: %w", err)
			}
			printStoreStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().String("db", "", "Postgres DSN (default from config)")
	return cmd
}

func printStoreStats(w io.Writer, stats catalog.StoreStats) {
	countTable(w, "Tables", "Rows", stats.Tables)
	countTable(w, "Country", "Items", stats.ByCountry)
	countTable(w, "Purpose", "Items", stats.ByPurpose)
	countTable(w, "Range", "Items", stats.RangeBuckets)
	countTable(w, "Decade", "Items", stats.Decades)
	countTable(w, "Characteristic", "Items", stats.TopCharacteristics)

	if len(stats.Sessions) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Recent import sessions")
	t.AppendHeader(table.Row{"ID", "Name", "Mode", "Status", "Started", "Inserted", "Updated", "Skipped", "Failed"})
	for _, s := range stats.Sessions {
		t.AppendRow(table.Row{
			s.ID, s.Name, s.Mode, s.Status, s.StartedAt.Format("2006-01-02 15:04:05"),
			s.Stats.Inserted, s.Stats.Updated, s.Stats.Skipped, s.Stats.Failed,
		})
	}
	t.Render()
}

func countTable(w io.Writer, label, value string, counts []catalog.Count) {
	if len(counts) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{label, value})
	for _, c := range counts {
		t.AppendRow(table.Row{c.Label, c.Value})
	}
	t.Render()
}
