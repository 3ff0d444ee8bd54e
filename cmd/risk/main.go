package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/riskengine/internal/risk/application"
	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/internal/risk/infrastructure/messaging"
	"github.com/wyfcoding/riskengine/internal/risk/infrastructure/persistence/mysql"
	riskredis "github.com/wyfcoding/riskengine/internal/risk/infrastructure/persistence/redis"
	riskhttp "github.com/wyfcoding/riskengine/internal/risk/interfaces/http"
	"github.com/wyfcoding/riskengine/pkg/cache"
	"github.com/wyfcoding/riskengine/pkg/db"
	"github.com/wyfcoding/riskengine/pkg/metrics"
	"github.com/wyfcoding/riskengine/pkg/middleware"
	"github.com/wyfcoding/riskengine/pkg/mq"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"gorm.io/gorm"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/risk/config.toml", "path to config file")
	flag.Parse()

	// 1. Config
	cfg, err := loadConfig(configPath)
	if err != nil {
		panic(fmt.Sprintf("load config failed: %v", err))
	}

	// 2. Logger
	logger := logging.NewLogger(cfg.ServiceName, "main", cfg.Logger.Level)
	slog.SetDefault(logger.Logger)

	if err := run(cfg); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Database
	gdb, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect db failed: %w", err)
	}
	defer func() { _ = db.Close(gdb) }()
	if cfg.Database.AutoMigrate {
		if err := migrate(gdb); err != nil {
			return fmt.Errorf("migrate db failed: %w", err)
		}
	}

	// 4. Metrics
	reg := prometheus.NewRegistry()
	m := metrics.New(cfg.ServiceName)
	if err := m.Register(reg); err != nil {
		return fmt.Errorf("register metrics failed: %w", err)
	}
	collector := metrics.NewDefaultMetricsCollector(m)

	// 5. Infrastructure
	limitRepo := mysql.NewRiskLimitRepository(gdb)
	alertRepo := mysql.NewRiskAlertRepository(gdb)
	publisher := messaging.NewOutboxEventPublisher(gdb)

	var metricsCache domain.MetricsCache
	redisClient := cache.NewClient(cfg.Redis)
	redisCache, err := cache.New(ctx, redisClient, cfg.Redis.KeyPrefix)
	if err != nil {
		// 指标缓存可选，Redis 不可用时只影响最新指标查询
		slog.Warn("redis unavailable, portfolio metrics cache disabled", "error", err)
		_ = redisClient.Close()
	} else {
		defer func() { _ = redisCache.Close() }()
		metricsCache = riskredis.NewMetricsCache(redisCache)
	}

	// 6. Application
	alerts := application.NewAlertCoordinator(alertRepo, publisher, cfg.Risk.Alert, application.WithMetrics(collector))
	svc, err := application.NewRiskService(cfg.Risk, limitRepo, alerts, metricsCache, publisher,
		application.WithServiceMetrics(collector),
		application.WithMetricsTTL(cfg.Worker.MetricsTTL),
	)
	if err != nil {
		return err
	}
	query := application.NewRiskQueryService(alertRepo, limitRepo, metricsCache)
	sweep := application.NewPortfolioSweep(svc, cfg.Worker.SweepConcurrency, cfg.Worker.SweepTimeout, collector)

	// 7. Interfaces
	// gRPC: 仅健康检查与反射
	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		middleware.GRPCRecoveryInterceptor(),
		middleware.GRPCLoggingInterceptor(),
	))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.GinRecoveryMiddleware(), middleware.GinLoggingMiddleware(), middleware.GinMetricsMiddleware(collector))
	if cfg.RateLimit.Enabled {
		r.Use(middleware.RateLimitMiddleware(middleware.NewIPRateLimiter(cfg.RateLimit.QPS, cfg.RateLimit.Burst), cfg.RateLimit))
	}

	sys := r.Group("/sys")
	{
		sys.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "UP"}) })
		sys.GET("/ready", func(c *gin.Context) {
			sqlDB, err := gdb.DB()
			if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "NOT_READY"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "READY"})
		})
	}
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler(reg)))
	}
	pp := r.Group("/debug/pprof")
	{
		pp.GET("/", gin.WrapF(pprof.Index))
		pp.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		pp.GET("/profile", gin.WrapF(pprof.Profile))
		pp.GET("/symbol", gin.WrapF(pprof.Symbol))
		pp.GET("/trace", gin.WrapF(pprof.Trace))
	}
	riskhttp.NewRiskHandler(svc, query, sweep).RegisterRoutes(&r.RouterGroup)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	// 8. Start
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr())
		if err != nil {
			return err
		}
		slog.Info("Starting gRPC server", "addr", cfg.GRPCAddr())
		return grpcSrv.Serve(lis)
	})

	g.Go(func() error {
		slog.Info("HTTP server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		runAlertSweeper(gctx, svc, cfg.Worker.AlertSweepInterval)
		return nil
	})

	if cfg.Kafka.Enabled {
		producer := mq.NewProducer(mq.NewWriter(cfg.Kafka), cfg.Kafka.Topic)
		defer func() { _ = producer.Close() }()
		relay := messaging.NewOutboxRelay(gdb, producer, cfg.Worker.OutboxBatchSize, cfg.Worker.OutboxMaxAttempts)
		g.Go(func() error { return relay.Run(gctx, cfg.Worker.OutboxInterval) })
		g.Go(func() error {
			runOutboxCleanup(gctx, relay, cfg.Worker.OutboxRetention)
			return nil
		})
	} else {
		slog.Warn("kafka disabled, risk events stay in the outbox table")
	}

	// 9. Graceful Shutdown
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down servers...")
		healthSrv.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown failed", "error", err)
		}
		grpcSrv.GracefulStop()
		return nil
	})

	return g.Wait()
}

func migrate(gdb *gorm.DB) error {
	if err := mysql.AutoMigrate(gdb); err != nil {
		return err
	}
	return messaging.AutoMigrate(gdb)
}

// runAlertSweeper 定时推进告警升级与过期
func runAlertSweeper(ctx context.Context, svc *application.RiskService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.SweepAlerts(ctx); err != nil {
				logging.Error(ctx, "Alert sweep failed", "error", err)
			}
		}
	}
}

func runOutboxCleanup(ctx context.Context, relay *messaging.OutboxRelay, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := relay.CleanupProcessedMessages(ctx, time.Now().Add(-retention))
			if err != nil {
				logging.Error(ctx, "Outbox cleanup failed", "error", err)
			} else if n > 0 {
				logging.Info(ctx, "Outbox messages cleaned up", "count", n)
			}
		}
	}
}
