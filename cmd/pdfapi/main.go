package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/automaxprocs/maxprocs"

	"pdfapi/internal/app"
	"pdfapi/internal/chrome"
	"pdfapi/internal/credentials"
	"pdfapi/internal/fetch"
	"pdfapi/internal/handlers"
	"pdfapi/internal/naming"
	"pdfapi/internal/render"
	"pdfapi/internal/storage"
	"pdfapi/internal/templating"
	u "pdfapi/internal/utils"
)

const startupTimeout = 30 * time.Second

func main() {
	cfg := u.LoadConfig()
	u.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)
	u.SetLogLevel(cfg.Logger.Level)

	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		u.Debug(fmt.Sprintf(format, args...))
	}))

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	svc, cleanup, err := buildService(ctx, cfg)
	cancel()
	if err != nil {
		u.Error("Startup failed", "error", err)
		os.Exit(1)
	}

	app := app.SetupApp(cfg, svc)

	idleConnsClosed := make(chan struct{})
	if err := startServer(app, cfg, idleConnsClosed); err != nil {
		u.Error("Server error", "error", err)
		cleanup()
		os.Exit(1)
	}
	<-idleConnsClosed
	cleanup()
}

// buildService wires Postgres, Redis, S3 and the render engine into the
// request pipeline. cleanup releases everything that was opened.
func buildService(ctx context.Context, cfg u.Config) (*handlers.PDFService, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	db, err := u.OpenPostgres(ctx, cfg.Auth.Postgres)
	if err != nil {
		return nil, cleanup, fmt.Errorf("postgres: %w", err)
	}
	closers = append(closers, func() { _ = db.Close() })

	if err := credentials.Migrate(ctx, db); err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("migrate: %w", err)
	}
	pg := credentials.NewPostgresStore(db)

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Cache.RedisHost,
		DB:   cfg.Cache.PDFCacheDB,
	})
	closers = append(closers, func() { _ = rdb.Close() })

	var creds credentials.Store = pg
	if cfg.Cache.CredentialCacheEnabled {
		creds = credentials.NewCachedStore(pg, rdb, cfg.Cache.CredentialCacheTTL)
	}

	objects, err := storage.New(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("storage: %w", err)
	}

	var pool *chrome.Pool
	if cfg.PDF.ChromePoolSize > 0 {
		if pool, err = chrome.NewPool(cfg); err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("chrome pool: %w", err)
		}
		closers = append(closers, pool.Close)
	}

	engine, err := render.New(cfg, pool, rdb)
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("render: %w", err)
	}

	svc := &handlers.PDFService{
		Config:    &cfg,
		Creds:     creds,
		Fetcher:   fetch.New(cfg.Fetch.Timeout, cfg.Fetch.MaxRedirects, cfg.Limits.MaxBodyBytes),
		Templates: templating.Renderer{},
		Names:     naming.New(objects.Exists),
		Engine:    engine,
		Storage:   objects,
		Pool:      pool,
		Checks: []handlers.Check{
			{Name: "postgres", Fn: pg.Ping},
		},
	}
	u.Info("Service ready",
		"engine", cfg.PDF.Engine,
		"bucket", cfg.Storage.Bucket,
		"chrome_pool_size", cfg.PDF.ChromePoolSize,
		"pdf_cache", cfg.Cache.PDFCacheEnabled,
		"credential_cache", cfg.Cache.CredentialCacheEnabled,
	)
	return svc, cleanup, nil
}

// startServer starts the Fiber app and listens for shutdown signals. It
// returns the listen error when the server cannot start.
func startServer(app *fiber.App, cfg u.Config, idleConnsClosed chan struct{}) error {
	// Listen for OS termination signals
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigint)

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(cfg.Server.Host + cfg.Server.Port)
	}()

	select {
	case <-sigint:
	case err := <-listenErr:
		if err == nil {
			err = errors.New("server stopped unexpectedly")
		}
		close(idleConnsClosed)
		return fmt.Errorf("listen on %s%s: %w", cfg.Server.Host, cfg.Server.Port, err)
	}

	u.Warn("Shutdown signal received, closing server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		u.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	u.Info("Server stopped cleanly")
	return nil
}
