// Netomata Scheduler — плановые бэкапы конфигураций устройств.
//
// Scheduler снимает running-config всех активных устройств по
// cron-расписанию BACKUP_CRON. Среди нескольких экземпляров работает
// только лидер (pg_try_advisory_lock).
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shaiso/Netomata/internal/backup"
	"github.com/shaiso/Netomata/internal/config"
	"github.com/shaiso/Netomata/internal/credential"
	"github.com/shaiso/Netomata/internal/otp"
	"github.com/shaiso/Netomata/internal/repo"
	"github.com/shaiso/Netomata/internal/runner"
	"github.com/shaiso/Netomata/internal/scheduler"
	"github.com/shaiso/Netomata/internal/sshdriver"
	"github.com/shaiso/Netomata/internal/telemetry"
)

const schedLockKey int64 = 424242

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting netomata-scheduler")

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

	if cfg.CacheBackend == config.CacheMemory {
		logger.Error("memory cache is process-local, OTP codes and pauses are not shared with other processes")
	}
	codeCache, err := cfg.OpenCache()
	if err != nil {
		logger.Error("failed to open cache", "backend", cfg.CacheBackend, "error", err)
		os.Exit(1)
	}
	coord := otp.NewCoordinator(codeCache, cfg.OTP(logger))

	blobs, err := cfg.OpenBlobStore(ctx)
	if err != nil {
		logger.Error("failed to open blob store", "backend", cfg.BlobBackend, "error", err)
		os.Exit(1)
	}

	driver, err := sshdriver.New(cfg.SSH(logger))
	if err != nil {
		logger.Error("failed to create ssh driver", "error", err)
		os.Exit(1)
	}

	leader := repo.NewAdvisoryLock(pool, schedLockKey)
	defer leader.Release(context.Background())

	sched, err := scheduler.New(scheduler.Config{
		Devices:     repo.NewDeviceRepo(pool),
		Credentials: credential.NewResolver(repo.NewCredentialRepo(pool), coord, nil, logger),
		Backups:     backup.New(repo.NewBackupRepo(pool), cfg.Backup(blobs, logger)),
		Runner:      runner.New(cfg.Runner(nil, logger)),
		Driver:      driver,
		Leader:      leader,
		Cron:        cfg.BackupCron,
		Timezone:    cfg.BackupTimezone,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":" + cfg.SchedPort
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	logger.Info("scheduled backups enabled", "cron", cfg.BackupCron, "next", sched.Next(time.Now()))
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler stopped", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	logger.Info("netomata-scheduler stopped")
}
