package cmd

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/missilery-catalog/internal/api"
	"github.com/JakeFAU/missilery-catalog/internal/metrics"
)

// startStatusServer serves health and metrics on the configured address for
// the duration of a run. The returned func stops it and waits.
func startStatusServer(ctx context.Context, a App, opts api.Options) func() {
	metrics.Init()
	addr := a.Config().Metrics.Addr
	if addr == "" {
		return func() {}
	}
	if opts.Logger == nil {
		opts.Logger = a.Logger().Named("status")
	}
	srv := api.NewServer(opts)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx, addr); err != nil {
			a.Logger().Warn("status server failed", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}
