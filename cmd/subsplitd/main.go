package main

import (
	"context"
	"database/sql"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/subsplit/subsplit/internal/account"
	"github.com/subsplit/subsplit/internal/card"
	"github.com/subsplit/subsplit/internal/config"
	"github.com/subsplit/subsplit/internal/health"
	"github.com/subsplit/subsplit/internal/httpserver"
	"github.com/subsplit/subsplit/internal/logging"
	"github.com/subsplit/subsplit/internal/marketplace"
	"github.com/subsplit/subsplit/internal/metrics"
	"github.com/subsplit/subsplit/internal/platform"
	"github.com/subsplit/subsplit/internal/pool"
	"github.com/subsplit/subsplit/internal/pricing"
	"github.com/subsplit/subsplit/internal/ratelimit"
	"github.com/subsplit/subsplit/internal/store/postgres"
	"github.com/subsplit/subsplit/internal/store/sqlite"
	"github.com/subsplit/subsplit/internal/sweep"
	"github.com/subsplit/subsplit/internal/usage"
	"github.com/subsplit/subsplit/internal/version"
)

// storeBackend is the full persistence surface the daemon wires up; both
// SQL backends implement all of it on one Store struct.
type storeBackend interface {
	card.Store
	pool.Store
	usage.Store
	account.Store
	marketplace.Store
	platform.Store
	pricing.History
	io.Closer

	DB() *sql.DB
}

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Rotating file logging, mirrored to stderr for foreground runs.
	logTarget := strings.TrimSpace(cfg.LogFileDaemon)
	if logTarget != "" {
		out, closeLogs, err := logging.Setup(logTarget)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		log.SetOutput(out)
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		log.SetPrefix("[subsplitd] ")
		defer closeLogs()
	}

	var store storeBackend
	if cfg.UsePostgres() {
		pgStore, err := postgres.New(cfg.DatabaseDSN, postgres.DefaultConfig())
		if err != nil {
			log.Fatalf("open postgres store: %v", err)
		}
		store = pgStore
		log.Printf("storage backend: postgres")
	} else {
		liteStore, err := sqlite.New(cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("open sqlite store: %v", err)
		}
		store = liteStore
		log.Printf("storage backend: sqlite path=%s", cfg.DatabaseDSN)
	}
	defer store.Close()

	cards := card.NewService(store)
	pools := pool.NewService(store)
	meter := usage.NewService(store)
	market := marketplace.NewService(store, cards)

	pricingCfg := pricing.DefaultConfig()
	if cfg.PricingConfigPath != "" {
		pricingCfg, err = pricing.LoadConfig(cfg.PricingConfigPath)
		if err != nil {
			log.Fatalf("load pricing config %s: %v", cfg.PricingConfigPath, err)
		}
		log.Printf("pricing rules loaded from %s", cfg.PricingConfigPath)
	}
	engine := pricing.NewEngine(store, store, pricingCfg)

	runner := platform.NewRunner(store, &platform.Loopback{}, cards, meter, store)
	runner.SetDuration(cfg.SessionDuration)

	// Rate limiting: Redis when configured, per-process memory otherwise.
	var (
		limitStore  ratelimit.Store
		cachePinger health.Pinger
	)
	if cfg.RedisAddr != "" {
		redisStore, err := ratelimit.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("connect redis %s: %v", cfg.RedisAddr, err)
		}
		limitStore = redisStore
		cachePinger = redisStore
		log.Printf("rate limiting backed by redis addr=%s", cfg.RedisAddr)
	} else {
		limitStore = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Store:                    limitStore,
		UserRequestsPerSecond:    cfg.UserRatePerSec,
		UserBurstSize:            cfg.UserBurst,
		SessionRequestsPerSecond: cfg.SessionRatePerSec,
		SessionBurstSize:         cfg.SessionBurst,
	})
	defer limiter.Close()

	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.NewCollector()
	}

	checker := health.New(health.Config{DB: store.DB(), Cache: cachePinger})

	httpSrv := httpserver.New(httpserver.Deps{
		Cards:     cards,
		Pools:     pools,
		Market:    market,
		Pricing:   engine,
		Runner:    runner,
		UsageLog:  store,
		Accounts:  store,
		Limiter:   ratelimit.NewMiddleware(limiter, true, log.New(log.Writer(), "[ratelimit] ", log.LstdFlags|log.Lmicroseconds)),
		Collector: collector,
		Checker:   checker,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := sweep.New(store, pools, store, engine, cfg.SweepInterval)
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      httpSrv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("subsplitd %s listening on %s env=%s", version.Info(), cfg.ListenAddr, cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
