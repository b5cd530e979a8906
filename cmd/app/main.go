package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Xybronix/ecomobile/internal/config"
	pg "github.com/Xybronix/ecomobile/internal/infra/db/postgres"
	"github.com/Xybronix/ecomobile/internal/infra/logging"
	"github.com/Xybronix/ecomobile/internal/infra/metrics"
	red "github.com/Xybronix/ecomobile/internal/infra/redis"
	"github.com/Xybronix/ecomobile/internal/infra/sched"
	"github.com/Xybronix/ecomobile/internal/infra/web"
	"github.com/Xybronix/ecomobile/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, relaxed cookies)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	ruleRepo := pg.NewRuleRepoCacheDecorator(pg.NewRuleRepo(pool), redisClient, cfg.Redis.TTL)
	benRepo := pg.NewBeneficiaryRepo(pool)
	riderRepo := pg.NewRiderRepo(pool)
	activityRepo := pg.NewActivityLogRepo(pool)
	txm := pg.NewTxManager(pool)

	// ---- Use cases ----
	ruleUC := usecase.NewRuleUseCase(ruleRepo, benRepo, txm, activityRepo, logger)
	grantUC := usecase.NewGrantUseCase(ruleRepo, benRepo, riderRepo, txm, activityRepo, logger)
	ledgerUC := usecase.NewLedgerUseCase(benRepo, txm, activityRepo, logger)

	// ---- Sweeps ----
	sweeper := sched.NewSweepRunner(grantUC, locker, logger)
	if err := sweeper.Schedule(cfg.Sweep.RegistrationAgeCron, cfg.Sweep.SpendCron); err != nil {
		logger.Fatal().Err(err).Msg("sweep schedule")
	}
	sweeper.Start()
	defer sweeper.Stop()

	// ---- HTTP ----
	auth := web.NewAuthManager(cfg.Admin.SessionSecret, cfg.Admin.SecureCookie, "", cfg.Admin.SessionTTL)
	srv := web.NewServer(ruleUC, grantUC, ledgerUC, auth, cfg.Admin.Password, cfg.Admin.ServiceKey, logger)

	mux := http.NewServeMux()
	mux.Handle("/", srv.Router())
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Admin.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	cancel()
}
