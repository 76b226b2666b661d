package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/slotsaarthi/opd-token-engine/internal/api"
	"github.com/slotsaarthi/opd-token-engine/internal/config"
	"github.com/slotsaarthi/opd-token-engine/internal/db"
	"github.com/slotsaarthi/opd-token-engine/internal/queue"
	redisclient "github.com/slotsaarthi/opd-token-engine/internal/redis"
)

const version = "1.0.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	priorityCfg := queue.DefaultPriorityConfig()
	priorityCfg.AgingFactor = cfg.AgingFactor
	priorityCfg.SequenceEpsilon = cfg.SequenceEpsilon
	priorityCfg.OverflowAllowance = cfg.OverflowAllowance
	if err := priorityCfg.Validate(); err != nil {
		log.Fatalf("priority config error: %v", err)
	}

	plannerCfg := queue.PlannerConfig{
		SlotDuration:    cfg.SlotDuration,
		DefaultCapacity: cfg.DefaultCapacity,
	}

	repo := queue.NewPgRepository(pgPool)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	planner := queue.NewPlanner(repo, plannerCfg)

	services := api.Services{
		Allocator: queue.NewAllocator(repo, locker, priorityCfg, planner),
		Lifecycle: queue.NewLifecycle(repo, locker, priorityCfg),
		Composer:  queue.NewComposer(repo, priorityCfg),
		Planner:   planner,
		Repo:      repo,
	}

	router := api.NewRouter(api.RouterConfig{
		Services: services,
		PgPool:   pgPool,
		Redis:    rdb,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	case <-rootCtx.Done():
	}

	log.Println("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
