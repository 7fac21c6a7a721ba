package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/siostam/siostam/pkg/config"
	"github.com/siostam/siostam/pkg/core"
	"github.com/siostam/siostam/pkg/observability/prom"
	"github.com/siostam/siostam/pkg/server"
)

// newServeCmd creates the serve command running the HTTP server with
// periodic refresh.
func newServeCmd(configPath *string) *cobra.Command {
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the topology server",
		Long:  `Serve fetches service descriptions from the configured origins on a schedule, reconciles them into a dependency graph, and serves the rendered diagram and raw graph over HTTP.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, !noWatch)
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "disable config file watching")
	return cmd
}

func runServe(ctx context.Context, configPath string, watch bool) error {
	logger := loggerFromContext(ctx)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	prom.NewCollector().Register()

	store, err := buildCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cache backend: %w", err)
	}
	defer store.Close()

	archive, err := buildArchive(ctx, cfg)
	if err != nil {
		return fmt.Errorf("history backend: %w", err)
	}
	if archive != nil {
		defer archive.Close()
	}

	c, err := buildCore(ctx, cfg, store, archive, logger)
	if err != nil {
		return err
	}

	logger.Info("starting",
		"origins", len(cfg.Origins),
		"poll_interval", cfg.PollInterval.Duration,
		"addr", cfg.Server.Addr())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.New(c, archive, cfg.Server, logger).ListenAndServe(ctx)
	})

	g.Go(func() error {
		return core.NewScheduler(c, cfg.PollInterval.Duration).Run(ctx)
	})

	if watch {
		g.Go(func() error {
			err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
				c.SetOrigins(buildOrigins(next))
			})
			if errors.Is(err, context.Canceled) {
				return err
			}
			// A broken watcher should not take the server down.
			if err != nil {
				logger.Warn("config watcher stopped", "error", err)
			}
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return context.Canceled
	}
	return err
}
