package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/missilery-catalog/internal/app"
	"github.com/JakeFAU/missilery-catalog/internal/catalog"
	"github.com/JakeFAU/missilery-catalog/internal/config"
	"github.com/JakeFAU/missilery-catalog/internal/storage"
	"github.com/JakeFAU/missilery-catalog/internal/storage/sqlite"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the set of services the commands use. Tests inject a fake.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Blobs() storage.BlobStore
	Publisher() app.Publisher
	OpenRawStore(ctx context.Context) (*sqlite.RawStore, error)
	OpenCatalog(ctx context.Context, target string) (catalog.Store, error)
	Close()
}

// newApp is the application factory; a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "missilery",
		Short: "Crawl the missilery.info catalog and load it into a relational store.",
		Long: `missilery crawls the paginated missile catalog at missilery.info, writes
an artifact set of basic and detailed records, and imports that artifact set
into a normalized relational schema with deduplicated reference tables.`,
		SilenceUsage: true,

		// Runs after flags are parsed and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithFlags(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			if h, ok := cmd.Context().Value(appKey).(*appHolder); ok {
				h.app = appInstance
				return nil
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, &appHolder{app: appInstance}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.PersistentFlags().String("metrics-addr", "", "serve /healthz, /readyz and /metrics on this address during the run")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newCrawlCmd(), newImportCmd(), newStatsCmd())
	return cmd
}

// appHolder lets run close the App even when RunE fails.
type appHolder struct {
	app App
}

func (h *appHolder) close() {
	if h.app != nil {
		h.app.Close()
		h.app = nil
	}
}

func resolveApp(ctx context.Context) (App, error) {
	h, ok := ctx.Value(appKey).(*appHolder)
	if !ok || h.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return h.app, nil
}

// run executes root with args, closing the App afterwards.
func run(ctx context.Context, root *cobra.Command, args []string) error {
	holder := &appHolder{}
	defer holder.close()
	root.SetArgs(args)
	return root.ExecuteContext(context.WithValue(ctx, appKey, holder))
}

// Execute runs the CLI and exits non-zero when a command fails.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, newRootCmd(), os.Args[1:])
	stop()
	if err != nil {
		os.Exit(1)
	}
}
