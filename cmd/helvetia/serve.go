package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/broker"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/docker"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/git"
	httpx "github.com/ramiz4/helvetia-cloud-sub000/internal/http"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/lock"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/queue"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/repository/postgres"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/catalog"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/deploy"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/lifecycle"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/logs"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/runtime"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/stream"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/webhook"
	"github.com/ramiz4/helvetia-cloud-sub000/pkg/config"
	"github.com/ramiz4/helvetia-cloud-sub000/pkg/crypto"
	"github.com/ramiz4/helvetia-cloud-sub000/pkg/jwt"
)

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.skipMigrations, "skip-migrations", false, "do not apply pending migrations on start")
	cmd.Flags().BoolVar(&opts.singleNode, "single-node", false, "keep status locks and rate limits in process (only safe with one API replica)")
	return cmd
}

type serveOptions struct {
	skipMigrations bool
	singleNode     bool
}

// coordination picks the status locker and rate limiter. Redis backs both
// unless the API runs as a single replica.
func coordination(opts serveOptions, cfg config.APIConfig, rdb redis.Cmdable, log *slog.Logger) (lock.Locker, httpx.RateLimiter) {
	if opts.singleNode {
		log.Info("single-node mode: in-process locks and rate limits")
		return lock.NewLocal(cfg.LockTTL), httpx.NewMemoryRateLimiter()
	}
	return lock.NewRedis(rdb, cfg.LockTTL, cfg.LockRetries, cfg.LockBackoffBase, log), httpx.NewRedisRateLimiter(rdb, log)
}

func serve(parent context.Context, opts serveOptions) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := loadEnv("helvetia-api")
	cfg, log := e.cfg, e.log

	pool, runner, err := openDatabase(ctx, e)
	if err != nil {
		return err
	}
	defer pool.Close()
	if !opts.skipMigrations {
		if err := runner.Ensure(ctx); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	redisOpts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	repo := postgres.New(pool)
	gateway := docker.New(cfg.DockerHost, int(cfg.StopTimeout/time.Second))
	defer gateway.Close()

	locker, limiter := coordination(opts, cfg, rdb, log)
	logSvc := logs.New(repo, broker.NewRedisPublisher(rdb), log)
	lifecycleMgr := lifecycle.New(gateway, repo, repo, lifecycle.Options{
		PlatformDomain: cfg.PlatformDomain,
		ResourcePrefix: cfg.ResourcePrefix,
		Network:        cfg.DockerNetwork,
		MemoryBytes:    int64(cfg.ContainerMemoryMB) << 20,
		NanoCPUs:       cfg.ContainerNanoCPUs,
	}, log)
	deploySvc := deploy.New(deploy.Deps{
		Services:    repo,
		Deployments: repo,
		Credentials: repo,
		Cipher:      crypto.NewCipher(cfg.EnvEncryptionKey),
		Queue:       queue.NewRedis(rdb, cfg.QueuePrefix),
		Locker:      locker,
		Logs:        logSvc,
		Teardown:    lifecycleMgr,
		Heads:       git.NewResolver(15*time.Second, log),
	}, log)
	catalogSvc := catalog.New(repo, repo, gateway, log)
	verifier := jwt.NewVerifier(cfg.JWTSecret)
	streams := stream.NewManager(
		verifier,
		catalogSvc,
		stream.NewCollector(repo, gateway, log),
		broker.NewRedisSubscriber(redisOpts),
		stream.OptionsFromConfig(cfg),
		log,
	)

	if reaper := runtime.New(repo, repo, locker, logSvc, log, cfg); reaper != nil {
		go reaper.Run(ctx)
	}

	router := httpx.NewRouter(log, httpx.Deps{
		Tokens:             verifier,
		Catalog:            catalogSvc,
		Deploy:             deploySvc,
		Lifecycle:          lifecycleMgr,
		Webhooks:           webhook.New(cfg.WebhookSecret, log),
		Streams:            streams,
		Limiter:            limiter,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		DBHealth:           pool.Ping,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := streams.Shutdown(shutdownCtx); err != nil {
			log.Warn("stream sessions did not drain", "error", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
		return nil
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}
