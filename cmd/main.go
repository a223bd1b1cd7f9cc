package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"julianmorley.ca/con-plar/boxcart/internal/router"
	"julianmorley.ca/con-plar/boxcart/pkg/cache"
	"julianmorley.ca/con-plar/boxcart/pkg/cartengine"
	"julianmorley.ca/con-plar/boxcart/pkg/catalog"
	"julianmorley.ca/con-plar/boxcart/pkg/global"
	"julianmorley.ca/con-plar/boxcart/pkg/guestcart"
	"julianmorley.ca/con-plar/boxcart/pkg/merge"
	"julianmorley.ca/con-plar/boxcart/pkg/models"
	"julianmorley.ca/con-plar/boxcart/pkg/mongo"
	"julianmorley.ca/con-plar/boxcart/pkg/postgres"
	"julianmorley.ca/con-plar/boxcart/pkg/redis"
	"julianmorley.ca/con-plar/boxcart/pkg/remotecart"
)

func main() {
	logger := global.GetLogger()

	cfg, err := global.LoadConfig()
	if err != nil {
		logger.Fatalf("Error loading configuration: %v", err)
	}
	global.SetLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]router.Pinger{}

	var store cache.Store = cache.NewMemoryStore()
	var guestOpts []guestcart.Option
	redisClient, err := redis.Connect(ctx, cfg)
	if err != nil {
		global.LogWarn(logger, "main", "main", "redis unavailable, using in-memory storage", err.Error())
	} else {
		defer redisClient.Close()
		store = redis.NewStore(redisClient, "boxcart")
		guestOpts = append(guestOpts, guestcart.WithLocker(redis.NewLocker(redisClient, "boxcart", 5*time.Second, 2*time.Second)))
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	source, closeSource, err := openCatalog(ctx, cfg, checks)
	if err != nil {
		logger.Fatalf("Failed to open catalog: %v", err)
	}
	defer closeSource()

	products := catalog.NewService(source, store, cfg.CatalogCacheTTL)
	guest := guestcart.NewStore(cache.New[models.PersistedCart](store, "device", cache.NoExpiry), cfg.GuestCartKey, guestOpts...)
	defer guest.Close()

	var engine *cartengine.Engine
	remote := remotecart.New(cfg.RemoteCartURL, cfg.RemoteCartTimeout, func() string { return engine.Token() })
	merger := merge.NewCoordinator(guest, remote, cache.New[models.MergeMarker](store, "device", cache.NoExpiry), merge.DefaultMarkerKey)
	engine = cartengine.New(guest, remote, products, merger)

	srv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: router.NewRouter(cfg, router.NewHandler(engine, products, checks)),
	}
	go func() {
		logger.Infof("Server is running on %s", cfg.ListenAddr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to run server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := global.GetDefaultTimer()
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		global.LogError(logger, "main", "main", "server shutdown failed", nil, err)
	}
	logger.Info("Server stopped")
}

// openCatalog connects the configured catalog backend and prepares its schema.
func openCatalog(ctx context.Context, cfg *global.Config, checks map[string]router.Pinger) (catalog.Source, func(), error) {
	switch cfg.CatalogBackend {
	case global.CatalogPostgres:
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, nil, err
		}
		pool, err := postgres.Connect(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		checks["postgres"] = pool.Ping
		return postgres.NewProductRepository(pool), pool.Close, nil
	default:
		client, db, err := mongo.Connect(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := mongo.EnsureIndexes(ctx, db); err != nil {
			global.LogWarn(global.GetLogger(), "main", "openCatalog", "failed to ensure catalog indexes", err.Error())
		}
		checks["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
		closeFn := func() {
			ctx, cancel := global.GetDefaultTimer()
			defer cancel()
			_ = client.Disconnect(ctx)
		}
		return mongo.NewProductRepository(db), closeFn, nil
	}
}
