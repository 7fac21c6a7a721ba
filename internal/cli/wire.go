package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/siostam/siostam/pkg/cache"
	"github.com/siostam/siostam/pkg/config"
	"github.com/siostam/siostam/pkg/core"
	"github.com/siostam/siostam/pkg/history"
	"github.com/siostam/siostam/pkg/reconcile"
	"github.com/siostam/siostam/pkg/render"
	"github.com/siostam/siostam/pkg/source"
)

// cacheDir returns the default directory for the file cache backend.
func cacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "siostam"), nil
}

// buildCache creates the cache backend selected by the config.
func buildCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case "none":
		return cache.NewNullCache(), nil
	case "file":
		dir := cfg.Cache.Dir
		if dir == "" {
			var err error
			if dir, err = cacheDir(); err != nil {
				return nil, err
			}
		}
		return cache.NewFileCache(dir)
	case "redis":
		return cache.NewRedisCache(ctx, cache.RedisOptions{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
	default:
		return cache.NewMemoryCache(), nil
	}
}

// buildOrigins creates the configured topology origins. Bearer tokens
// are resolved from the environment at build time, so a reload picks up
// rotated tokens.
func buildOrigins(cfg *config.Config) []source.Origin {
	origins := make([]source.Origin, 0, len(cfg.Origins))
	for _, oc := range cfg.Origins {
		if oc.File != "" {
			origins = append(origins, source.NewFileOrigin(oc.Name, oc.File))
			continue
		}
		var opts []source.HTTPOption
		if oc.Timeout.Duration > 0 {
			opts = append(opts, source.WithTimeout(oc.Timeout.Duration))
		}
		if oc.TokenEnv != "" {
			if token := os.Getenv(oc.TokenEnv); token != "" {
				opts = append(opts, source.WithToken(token))
			}
		}
		origins = append(origins, source.NewHTTPOrigin(oc.Name, oc.URL, opts...))
	}
	return origins
}

// buildRenderer creates the layout engine selected by the config.
func buildRenderer(cfg *config.Config) render.Renderer {
	if cfg.Render.Embedded {
		return render.NewGraphvizRenderer(cfg.Render.Timeout.Duration)
	}
	return render.NewExecRenderer(cfg.Render.Engine, cfg.Render.Args, cfg.Render.Timeout.Duration)
}

// buildArchive creates the history backend, or nil when history is
// disabled.
func buildArchive(ctx context.Context, cfg *config.Config) (history.Store, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	if cfg.History.Backend == "mongo" {
		return history.NewMongoStore(ctx, history.MongoConfig{
			URI:        cfg.History.Mongo.URI,
			Database:   cfg.History.Mongo.Database,
			Collection: cfg.History.Mongo.Collection,
		})
	}
	return history.NewMemoryStore(cfg.History.Retention), nil
}

// buildCore assembles fetcher, reconciler and render pipeline into a
// Core, probing the layout engine first.
func buildCore(ctx context.Context, cfg *config.Config, store cache.Cache, archive history.Store, logger *log.Logger) (*core.Core, error) {
	renderer := buildRenderer(cfg)
	if err := renderer.Probe(ctx); err != nil {
		return nil, err
	}

	fetcher := source.NewFetcher(buildOrigins(cfg), cfg.FetchConcurrency, store, logger)
	reconciler := reconcile.New(*cfg.DebounceCycles, logger)
	pipeline := render.NewPipeline(renderer, store, cfg.Render.Concurrency, logger)

	return core.New(fetcher, reconciler, pipeline, logger, core.Options{
		Archive: archive,
	}), nil
}
