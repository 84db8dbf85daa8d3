// Package cmd defines the CLI commands of the missilery executable.
package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/missilery-catalog/internal/api"
	"github.com/JakeFAU/missilery-catalog/internal/artifact"
	"github.com/JakeFAU/missilery-catalog/internal/clock/system"
	"github.com/JakeFAU/missilery-catalog/internal/config"
	"github.com/JakeFAU/missilery-catalog/internal/crawler"
	collyfetcher "github.com/JakeFAU/missilery-catalog/internal/fetcher/colly"
	"github.com/JakeFAU/missilery-catalog/internal/hash/sha256"
	"github.com/JakeFAU/missilery-catalog/internal/id/uuid"
	"github.com/JakeFAU/missilery-catalog/internal/storage/sqlite"
)

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the catalog and write the artifact set",
		Long: `Walks the paginated catalog index from the start URL, fetches every
detail page under the politeness budget, records raw captures in SQLite and
writes missiles_basic.json, missiles_detailed.json and detailed/*.json.`,
		Args: cobra.NoArgs,
		RunE: runCrawlCommand,
	}
	cmd.Flags().String("start-url", "", "first index page (default from config)")
	cmd.Flags().String("resume", "", "index page to continue from, as printed under \"Resume at\"; extends the existing artifact set")
	cmd.Flags().Int("max-items", 0, "stop after this many items (0 = unlimited)")
	cmd.Flags().Int("max-pages", 0, "stop after this many index pages (0 = unlimited)")
	cmd.Flags().Float64("delay", 1, "seconds between requests to the same host")
	cmd.Flags().Int("concurrency", 1, "maximum in-flight requests")
	cmd.Flags().String("out", "", "artifact output directory (default from config)")
	cmd.Flags().String("raw-db", "", "SQLite raw capture log path (default from config)")
	cmd.Flags().String("topic", "", "Pub/Sub topic for the run summary")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg := a.Config()
	logger := a.Logger()

	runID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	raw, err := a.OpenRawStore(ctx)
	if err != nil {
		return err
	}
	writer := artifact.NewWriter(a.Blobs(), logger.Named("artifact"))
	if cfg.Crawler.ResumeURL != "" {
		carried, err := writer.Preload(ctx)
		if err != nil {
			return fmt.Errorf("load artifacts to resume: %w", err)
		}
		logger.Info("resuming crawl",
			zap.String("run_id", runID),
			zap.String("url", cfg.Crawler.ResumeURL),
			zap.Int("carried_items", carried),
		)
	}

	engine, err := buildCrawlerEngine(runID, cfg, crawlerDeps{
		raw:       raw,
		sink:      writer,
		publisher: a.Publisher(),
		logger:    logger.With(zap.String("run_id", runID)),
	})
	if err != nil {
		return err
	}

	stopStatus := startStatusServer(ctx, a, api.Options{
		Checks: map[string]api.Check{"raw_store": func(ctx context.Context) error {
			_, err := raw.Count(ctx)
			return err
		}},
	})
	defer stopStatus()

	stats, runErr := engine.Run(ctx)
	// Partial output is still a valid artifact set.
	if err := writer.Flush(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("write artifact indexes: %w", err)
	}
	captures, err := raw.Summary(context.WithoutCancel(ctx), runID)
	if err != nil {
		logger.Warn("summarize raw captures", zap.Error(err))
	}
	printCrawlSummary(cmd.OutOrStdout(), stats, captures)
	if runErr != nil {
		return fmt.Errorf("run crawler: %w", runErr)
	}
	logger.Info("crawl command finished", zap.String("run_id", runID))
	return nil
}

type crawlerDeps struct {
	raw       crawler.RawStore
	sink      crawler.ArtifactSink
	publisher crawler.Publisher
	fetcher   crawler.Fetcher
	logger    *zap.Logger
}

func buildCrawlerEngine(runID string, cfg config.Config, deps crawlerDeps) (*crawler.Engine, error) {
	c := cfg.Crawler
	politeness := crawler.NewPoliteness(crawler.PolitenessConfig{
		MaxItems:    c.MaxItems,
		MaxPages:    c.MaxPages,
		Delay:       c.Delay(),
		Concurrency: c.Concurrency,
	}, nil)

	fetcher := deps.fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:      c.UserAgent,
			RespectRobots:  c.RespectRobots,
			Timeout:        c.Timeout(),
			MaxBodySize:    c.MaxPageBytes,
			AllowedDomains: c.AllowedDomains,
		})
	}
	headers := http.Header{}
	headers.Set("Accept-Language", "ru-RU,ru;q=0.9,en;q=0.8")

	collector := crawler.NewCollector(runID, crawler.CollectorDeps{
		Fetcher:    fetcher,
		Politeness: politeness,
		Retry: crawler.NewRetryPolicy(crawler.RetryConfig{
			MaxRetries: c.MaxRetries,
			BaseDelay:  c.BackoffInitial(),
			MaxDelay:   c.BackoffMax(),
			HTTPCodes:  c.RetryHTTPCodes,
		}),
		Raw:     deps.raw,
		Hasher:  sha256.New(),
		Clock:   system.New(),
		Headers: headers,
		Logger:  deps.logger.Named("collector"),
	})

	engine, err := crawler.NewEngine(runID, crawler.Config{
		StartURL:       c.StartURL,
		AllowedDomains: c.AllowedDomains,
		Resume:         crawler.Checkpoint{URL: c.ResumeURL},
		Topic:          cfg.PubSub.TopicName,
	}, crawler.EngineDeps{
		Politeness: politeness,
		Collector:  collector,
		Sink:       deps.sink,
		Publisher:  deps.publisher,
		Clock:      system.New(),
		Logger:     deps.logger.Named("engine"),
	})
	if err != nil {
		return nil, fmt.Errorf("init crawler: %w", err)
	}
	return engine, nil
}

func printCrawlSummary(w io.Writer, stats crawler.CrawlStats, captures sqlite.RunSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Crawl " + stats.RunID)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Index pages", stats.IndexPages},
		{"Detail pages", stats.DetailPages},
		{"Items", stats.Items},
		{"Failed URLs", len(stats.Failed)},
		{"Raw captures", captures.Total()},
		{"Last capture", lastCapture(captures)},
		{"Resume at", stats.Checkpoint.URL},
		{"Duration", stats.FinishedAt.Sub(stats.StartedAt).Round(time.Millisecond).String()},
	})
	t.Render()

	if len(stats.Failed) == 0 {
		return
	}
	f := table.NewWriter()
	f.SetOutputMirror(w)
	f.SetStyle(table.StyleRounded)
	f.AppendHeader(table.Row{"Failed URL", "Reason"})
	for _, u := range stats.FailedURLs() {
		f.AppendRow(table.Row{u, stats.Failed[u]})
	}
	f.Render()
}

func lastCapture(captures sqlite.RunSummary) string {
	if captures.Last.URL == "" {
		return ""
	}
	return fmt.Sprintf("%s (%s)", captures.Last.URL, captures.Last.FetchedAt.Format(time.RFC3339))
}
