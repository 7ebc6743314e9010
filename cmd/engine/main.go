package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"compengine/internal/adjustment"
	"compengine/internal/bonus"
	"compengine/internal/config"
	cronrunner "compengine/internal/cron"
	"compengine/internal/db"
	"compengine/internal/handler"
	"compengine/internal/ledger"
	"compengine/internal/lock"
	"compengine/internal/logger"
	"compengine/internal/period"
	"compengine/internal/plan"
	gormrepository "compengine/internal/repository/gorm"
	"compengine/internal/settlement"
	"compengine/internal/tree"
)

func main() {
	cfgPath := os.Getenv("CE_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("CE_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	store := gormrepository.New(dbConn.Gorm)
	treeSvc := &tree.Service{
		Source:   &tree.RepoSource{Repo: store},
		MaxDepth: cfg.Settlement.MaxChainDepth,
	}
	ledgerSvc := &ledger.Service{Repo: store, Tree: treeSvc, Logger: logger}
	hitTracker := &ledger.Tracker{Repo: store}

	basePlan, err := plan.Resolve(cfg.Plan, cfg.PlanOverrides, cfg.Plan.Version)
	if err != nil {
		logger.Fatal("plan resolve failed", zap.Error(err))
	}
	issuer := &bonus.Issuer{
		Repo:   store,
		Ledger: ledgerSvc,
		Hits:   hitTracker,
		Tree:   treeSvc,
		Plan:   basePlan,
		Logger: logger,
	}
	queue := &bonus.Queue{Repo: store, Logger: logger}
	settleEngine := &settlement.Engine{
		Repo:          store,
		Ledger:        ledgerSvc,
		Tree:          treeSvc,
		Locker:        &lock.Locker{Client: redisClient},
		PlanCfg:       cfg.Plan,
		PlanOverrides: cfg.PlanOverrides,
		LockTTL:       cfg.Settlement.LockTTL,
		Logger:        logger,
	}
	adjustEngine := &adjustment.Engine{Repo: store, Tree: treeSvc, Logger: logger}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	memberHandler := &handler.MemberHandler{Repo: store, Queue: queue, Tree: treeSvc, Logger: logger}
	memberHandler.Register(engine)
	ledgerHandler := &handler.LedgerHandler{Repo: store, Ledger: ledgerSvc}
	ledgerHandler.Register(engine)
	orderHandler := &handler.OrderHandler{Repo: store, Issuer: issuer}
	orderHandler.Register(engine)
	pendingHandler := &handler.PendingBonusHandler{Repo: store, Queue: queue}
	pendingHandler.Register(engine)
	settlementHandler := &handler.SettlementHandler{Repo: store, Engine: settleEngine}
	settlementHandler.Register(engine)
	adjustmentHandler := &handler.AdjustmentHandler{Repo: store, Engine: adjustEngine}
	adjustmentHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		_, err = cronRunner.Add(cfg.Cron.WeeklySettle, func(ctx context.Context) {
			key := period.PreviousWeekKey(time.Now().UTC())
			_, err := settleEngine.RunWeekly(ctx, key, false)
			switch {
			case errors.Is(err, settlement.ErrSettlementRunning), errors.Is(err, settlement.ErrAlreadySettled):
				logger.Info("weekly settle skipped", zap.String("period_key", key), zap.Error(err))
			case err != nil:
				logger.Warn("cron weekly settle failed", zap.String("period_key", key), zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register weekly settle failed", zap.Error(err))
		}

		_, err = cronRunner.Add(cfg.Cron.QuarterlySettle, func(ctx context.Context) {
			now := time.Now().UTC()
			if !period.IsQuarterBoundaryMonth(now) {
				return
			}
			key := period.PreviousQuarterKey(now)
			_, err := settleEngine.RunQuarterly(ctx, key, false)
			switch {
			case errors.Is(err, settlement.ErrSettlementRunning), errors.Is(err, settlement.ErrAlreadySettled):
				logger.Info("quarterly settle skipped", zap.String("period_key", key), zap.Error(err))
			case err != nil:
				logger.Warn("cron quarterly settle failed", zap.String("period_key", key), zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register quarterly settle failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
