package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/awslabs/lisa-deployer/internal/app/migrate"
	"github.com/awslabs/lisa-deployer/internal/cdk"
	httpx "github.com/awslabs/lisa-deployer/internal/http"
	"github.com/awslabs/lisa-deployer/internal/repository/postgres"
	"github.com/awslabs/lisa-deployer/internal/service/deploy"
	"github.com/awslabs/lisa-deployer/internal/service/logs"
	"github.com/awslabs/lisa-deployer/internal/service/verify"
	"github.com/awslabs/lisa-deployer/internal/workspace"
	"github.com/awslabs/lisa-deployer/internal/ws"
	"github.com/awslabs/lisa-deployer/pkg/config"
	"github.com/awslabs/lisa-deployer/pkg/logger"
)

func main() {
	cfg := config.LoadDeployerConfig()
	log := logger.New("deployer", slog.LevelInfo)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	logHub := ws.NewHub()

	workspaces, err := workspace.New(cfg.ProjectDir, cfg.ScratchDir, cfg.ContextFile)
	if err != nil {
		log.Error("failed to configure workspace", "error", err)
		os.Exit(1)
	}

	logSvc := logs.New(repo, logHub, log)
	tool := cdk.NewRunner(cfg.CDKBinary, log)
	deploySvc := deploy.New(repo, tool, workspaces, logSvc, log, cfg)

	if cfg.VerifyEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Error("failed to load AWS configuration", "error", err)
			os.Exit(1)
		}
		verifier := verify.New(repo, cloudformation.NewFromConfig(awsCfg), log, cfg.VerifyInterval, cfg.VerifyMinAge)
		if verifier != nil {
			go verifier.Run(ctx)
		}
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, deploySvc, logSvc, limiter, cfg.AuthSecret, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("deployer server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("deployer server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
