package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/missilery-catalog/internal/api"
	"github.com/JakeFAU/missilery-catalog/internal/artifact"
	"github.com/JakeFAU/missilery-catalog/internal/catalog"
	"github.com/JakeFAU/missilery-catalog/internal/importer"
)

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import an artifact set into the relational store",
		Long: `Reads missiles_basic.json, missiles_detailed.json and the per-item payload
files, resolves reference values to deduplicated rows and writes each item
with its detail and owned collections in one transaction. In create mode
existing items are skipped; in update mode they are overwritten.`,
		Args: cobra.NoArgs,
		RunE: runImportCommand,
	}
	cmd.Flags().String("mode", "create", "create | update")
	cmd.Flags().String("db", "", `Postgres DSN, or "memory" for a throwaway store`)
	cmd.Flags().String("artifacts", "", "artifact set directory (default from config)")
	cmd.Flags().Int("workers", 1, "records imported concurrently")
	cmd.Flags().String("session", "", "import session name (default import-<timestamp>)")
	cmd.Flags().String("topic", "", "Pub/Sub topic for the run summary")
	return cmd
}

func runImportCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg := a.Config()
	logger := a.Logger()

	mode, err := catalog.ParseMode(cfg.Import.Mode)
	if err != nil {
		return err
	}
	store, err := a.OpenCatalog(ctx, "")
	if err != nil {
		return err
	}

	stopStatus := startStatusServer(ctx, a, api.Options{
		Checks: map[string]api.Check{"catalog": store.Ping},
		Stats:  store,
	})
	defer stopStatus()

	records, err := artifact.NewReader(a.Blobs(), logger.Named("artifact")).Load(ctx)
	if err != nil {
		return fmt.Errorf("load artifacts: %w", err)
	}

	session, _ := cmd.Flags().GetString("session")
	imp := importer.New(store, importer.Options{
		Workers:     cfg.Import.Workers,
		SessionName: session,
		Logger:      logger.Named("importer"),
	})
	started := time.Now()
	stats, importErr := imp.Import(ctx, records, mode)
	printImportSummary(cmd.OutOrStdout(), mode, stats)
	publishImportSummary(ctx, a, mode, stats, importErr)
	if importErr != nil {
		return fmt.Errorf("import: %w", importErr)
	}
	logger.Info("import command finished",
		zap.Int("records", len(records)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func publishImportSummary(ctx context.Context, a App, mode catalog.ImportMode, stats catalog.ImportStats, importErr error) {
	topic := a.Config().PubSub.TopicName
	if topic == "" {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	payload := map[string]any{
		"event":    "import_finished",
		"mode":     string(mode),
		"inserted": stats.Inserted,
		"updated":  stats.Updated,
		"skipped":  stats.Skipped,
		"failed":   stats.Failed,
		"aborted":  importErr != nil,
	}
	id, err := a.Publisher().Publish(pubCtx, topic, payload)
	if err != nil {
		a.Logger().Warn("publish import summary failed", zap.Error(err))
		return
	}
	a.Logger().Info("import summary published", zap.String("message_id", id))
}

func printImportSummary(w io.Writer, mode catalog.ImportMode, stats catalog.ImportStats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("Import (%s)", mode))
	t.AppendHeader(table.Row{"Outcome", "Records"})
	t.AppendRows([]table.Row{
		{"Inserted", stats.Inserted},
		{"Updated", stats.Updated},
		{"Skipped", stats.Skipped},
		{"Failed", stats.Failed},
	})
	t.AppendFooter(table.Row{"Total", stats.Total()})
	t.Render()

	if len(stats.References) > 0 {
		r := table.NewWriter()
		r.SetOutputMirror(w)
		r.SetStyle(table.StyleRounded)
		r.AppendHeader(table.Row{"Reference", "Created", "Reused"})
		families := make([]string, 0, len(stats.References))
		for f := range stats.References {
			families = append(families, string(f))
		}
		sort.Strings(families)
		for _, f := range families {
			c := stats.References[catalog.Family(f)]
			r.AppendRow(table.Row{f, c.Created, c.Reused})
		}
		r.Render()
	}

	if len(stats.Failures) > 0 {
		f := table.NewWriter()
		f.SetOutputMirror(w)
		f.SetStyle(table.StyleRounded)
		f.AppendHeader(table.Row{"Failed URL", "Reason"})
		for _, fail := range stats.Failures {
			f.AppendRow(table.Row{fail.DetailURL, fail.Reason})
		}
		f.Render()
	}
}
