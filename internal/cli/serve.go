package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/unpacker/internal/archive"
	"github.com/iliyamo/unpacker/internal/config"
	"github.com/iliyamo/unpacker/internal/fetch"
	"github.com/iliyamo/unpacker/internal/handler"
	"github.com/iliyamo/unpacker/internal/middleware"
	"github.com/iliyamo/unpacker/internal/queue"
	"github.com/iliyamo/unpacker/internal/router"
	"github.com/iliyamo/unpacker/internal/service"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the cleanup sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	cfg := a.cfg
	if err := cfg.RequireJWTSecret(); err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := a.openStores(ctx)
	defer st.Close()
	if err := a.fs.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return err
	}

	publisher := queue.NewPublisher(cfg.RabbitURL, a.log)
	engine := archive.NewEngine(a.fs, a.log)
	quota := service.NewQuotaService(st.users, service.LimitsFromConfig(cfg), nil)
	runner := service.NewTaskRunner(service.TaskRunnerDeps{
		Engine:     engine,
		Users:      st.users,
		Quota:      quota,
		Registry:   st.registry,
		Downloader: fetch.NewDownloader(a.fs, cfg.DownloadTimeout(), a.log),
		Notify:     publisher,
		TempDir:    cfg.TempDir,
		MaxWorkers: cfg.MaxWorkers,
		Timeout:    cfg.ExtractTimeout(),
		Logger:     a.log,
	})
	sweeper := service.NewSweeper(st.registry, a.fs, cfg.CleanupInterval(), publisher, a.log)

	rdb := config.NewRedisClient(cfg.DatabaseURL)
	if rdb != nil {
		defer rdb.Close()
	} else {
		a.log.Info("redis not configured, rate limiting and response cache disabled")
	}

	e := router.New(a.log)
	router.RegisterRoutes(e, handler.NewHealthHandler(st.users, st.registry))
	router.RegisterUser(e, router.UserHandlers{
		Tasks:    handler.NewTaskHandler(runner, a.log),
		Archives: handler.NewArchiveHandler(engine, cfg.TempDir, a.log),
		Quota:    handler.NewQuotaHandler(quota, a.log),
		Users:    handler.NewUserHandler(st.users, a.log),
	}, cfg.JWTSecret, middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, a.log))
	router.RegisterAdmin(e, handler.NewAdminHandler(st.users, st.registry, sweeper),
		cfg.JWTSecret, middleware.NewRedisCache(config.LoadCacheConfig(), rdb))

	sweeper.Start(ctx)
	defer sweeper.Stop()

	if publisher.Enabled() {
		consumer := queue.NewAuditConsumer(cfg.RabbitURL, cfg.AuditLogPath, a.log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("audit consumer stopped", "err", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", "addr", ":"+cfg.Port, "env", cfg.Env, "temp_dir", cfg.TempDir)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
	case <-ctx.Done():
	}
	a.log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(sctx)
}
