package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики ядра оркестрации. Регистрируются в default registry
// и отдаются на /metrics каждого процесса.
var (
	// RunnerHostResults — итоги операций Runner'а по хостам.
	RunnerHostResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netomata_runner_host_results_total",
		Help: "Per-host operation results produced by the concurrency runner",
	}, []string{"outcome"})

	// RunnerInFlight — количество хостовых операций в работе.
	RunnerInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netomata_runner_in_flight",
		Help: "Host operations currently executing",
	})

	// OTPWaits — результаты ожидания OTP-кода.
	OTPWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netomata_otp_waits_total",
		Help: "OTP waits by result (code, timeout, cancelled)",
	}, []string{"result"})

	// OTPNotifications — отправленные запросы OTP операторам.
	OTPNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netomata_otp_notifications_total",
		Help: "OTP-required notifications published",
	})

	// TaskFinished — задачи, дошедшие до финального или паузного статуса.
	TaskFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netomata_tasks_finished_total",
		Help: "Tasks reaching a terminal or paused status",
	}, []string{"type", "status"})

	// TaskDuration — длительность одного прогона конвейера.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "netomata_task_pipeline_seconds",
		Help:    "Duration of one deploy/rollback pipeline invocation",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"type"})

	// BackupsCaptured — сохранённые бэкапы по типу и месту хранения.
	BackupsCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netomata_backups_captured_total",
		Help: "Backups stored by type and storage (inline, external, failed)",
	}, []string{"type", "storage"})

	// BackupsDeduplicated — снимки, совпавшие с последним бэкапом.
	BackupsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netomata_backups_deduplicated_total",
		Help: "Change snapshots resolved to the existing latest backup",
	})

	// BackupsPruned — мягко удалённые при очистке бэкапы.
	BackupsPruned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netomata_backups_pruned_total",
		Help: "Backups soft-deleted by retention",
	}, []string{"reason"})

	// ScheduledDevices — итоги плановых снятий конфигурации по устройствам.
	ScheduledDevices = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netomata_scheduled_backup_devices_total",
		Help: "Devices processed by scheduled backups by result (captured, skipped, failed)",
	}, []string{"result"})
)
