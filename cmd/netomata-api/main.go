// Netomata API — HTTP API для задач изменения конфигурации.
//
// API:
//   - Создаёт задачи деплоя и отката, ведёт согласование
//   - Отправляет согласованные задачи в RabbitMQ
//   - Принимает OTP-коды групп и продолжает задачи на паузе
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shaiso/Netomata/internal/api"
	"github.com/shaiso/Netomata/internal/config"
	"github.com/shaiso/Netomata/internal/mq"
	"github.com/shaiso/Netomata/internal/otp"
	"github.com/shaiso/Netomata/internal/repo"
	"github.com/shaiso/Netomata/internal/service"
	"github.com/shaiso/Netomata/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netomata_api_healthz_requests_total",
		Help: "Total health checks handled by netomata-api",
	})
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting netomata-api")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	// RabbitMQ обязателен: API только публикует задачи
	mqURL := cfg.RabbitURL
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}
	mqConn, err := mq.NewConnection(mq.ConnectionConfig{URL: mqURL, Name: "netomata-api", Logger: logger})
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Warn("failed to setup topology", "error", err)
	}

	// Кэш OTP-кодов
	if cfg.CacheBackend == config.CacheMemory {
		logger.Error("memory cache is process-local, OTP codes and pauses are not shared with other processes")
	}
	codeCache, err := cfg.OpenCache()
	if err != nil {
		logger.Error("failed to open cache", "backend", cfg.CacheBackend, "error", err)
		os.Exit(1)
	}

	svc := service.New(service.Config{
		Tasks:     repo.NewTaskRepo(pool),
		Approvals: repo.NewApprovalRepo(pool),
		Templates: repo.NewTemplateRepo(pool),
		Devices:   repo.NewDeviceRepo(pool),
		Publisher: mq.NewPublisher(mqConn, logger),
		Codes:     otp.NewCoordinator(codeCache, cfg.OTP(logger)),
		Logger:    logger,
	})
	handler := api.NewHandler(api.Config{
		Tasks:  svc,
		Logger: logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":" + cfg.APIPort
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
