// Netomata Orchestrator — выполняет задачи деплоя и отката.
//
// Orchestrator:
//   - Получает задачи из RabbitMQ (tasks.deploy, tasks.rollback)
//   - Подбирает PENDING задачи из БД, если сообщение потеряно
//   - Ведёт задачу по конвейеру: рендеринг, политика, бэкапы, push
//   - Ставит задачу на паузу при нехватке OTP и уведомляет операторов
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shaiso/Netomata/internal/backup"
	"github.com/shaiso/Netomata/internal/config"
	"github.com/shaiso/Netomata/internal/credential"
	"github.com/shaiso/Netomata/internal/mq"
	"github.com/shaiso/Netomata/internal/orchestrator"
	"github.com/shaiso/Netomata/internal/otp"
	"github.com/shaiso/Netomata/internal/repo"
	"github.com/shaiso/Netomata/internal/runner"
	"github.com/shaiso/Netomata/internal/sshdriver"
	"github.com/shaiso/Netomata/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting netomata-orchestrator")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// RabbitMQ
	var notifier orchestrator.Notifier
	var mqConn *mq.Connection
	mqURL := cfg.RabbitURL
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err = mq.NewConnection(mq.ConnectionConfig{URL: mqURL, Name: "netomata-orchestrator", Logger: logger})
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		notifier = mq.NewPublisher(mqConn, logger)
	}

	// OTP
	if cfg.CacheBackend == config.CacheMemory {
		logger.Error("memory cache is process-local, OTP codes and pauses are not shared with other processes")
	}
	codeCache, err := cfg.OpenCache()
	if err != nil {
		logger.Error("failed to open cache", "backend", cfg.CacheBackend, "error", err)
		os.Exit(1)
	}
	coord := otp.NewCoordinator(codeCache, cfg.OTP(logger))

	// Бэкапы
	blobs, err := cfg.OpenBlobStore(ctx)
	if err != nil {
		logger.Error("failed to open blob store", "backend", cfg.BlobBackend, "error", err)
		os.Exit(1)
	}
	backupRepo := repo.NewBackupRepo(pool)
	engine := backup.New(backupRepo, cfg.Backup(blobs, logger))

	// SSH
	driver, err := sshdriver.New(cfg.SSH(logger))
	if err != nil {
		logger.Error("failed to create ssh driver", "error", err)
		os.Exit(1)
	}

	orch := orchestrator.New(orchestrator.Config{
		Tasks:        repo.NewTaskRepo(pool),
		Devices:      repo.NewDeviceRepo(pool),
		Templates:    repo.NewTemplateRepo(pool),
		BackupsDB:    backupRepo,
		Credentials:  credential.NewResolver(repo.NewCredentialRepo(pool), coord, nil, logger),
		Backups:      engine,
		Pauses:       coord,
		Notifier:     notifier,
		Runner:       runner.New(cfg.Runner(coord, logger)),
		Driver:       driver,
		Conn:         mqConn,
		StrictPolicy: cfg.PolicyStrictAllowlist,
		PostChange:   cfg.BackupPostChange,
		PollInterval: cfg.OrchPollInterval,
		Workers:      cfg.OrchWorkers,
		Logger:       logger,
	})

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":" + cfg.OrchPort
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	orch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	logger.Info("netomata-orchestrator stopped")
}
