package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/slotsaarthi/opd-token-engine/internal/config"
	"github.com/slotsaarthi/opd-token-engine/internal/db"
	"github.com/slotsaarthi/opd-token-engine/internal/queue"
	redisclient "github.com/slotsaarthi/opd-token-engine/internal/redis"
)

// The no-show worker sweeps pending tokens whose scheduled time passed more
// than the grace period ago, so abandoned bookings stop holding seats.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("noshow-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running noshow worker in env=%s interval=%s grace=%s", cfg.Env, cfg.WorkerInterval, cfg.NoShowGrace)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

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

	repo := queue.NewPgRepository(pgPool)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	lifecycle := queue.NewLifecycle(repo, locker, priorityCfg)

	// Run once at startup
	runOnce(rootCtx, lifecycle, cfg.NoShowGrace)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping noshow worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, lifecycle, cfg.NoShowGrace)
		}
	}
}

func runOnce(ctx context.Context, lifecycle *queue.Lifecycle, grace time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	swept, err := lifecycle.SweepNoShows(runCtx, grace)
	if err != nil {
		log.Printf("noshow sweep error: %v", err)
		return
	}
	log.Printf("noshow sweep complete: marked=%d in %s", swept, time.Since(start))
}
