package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/backup"
	"github.com/shaiso/Netomata/internal/credential"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/mq"
	"github.com/shaiso/Netomata/internal/otp"
	"github.com/shaiso/Netomata/internal/repo"
	"github.com/shaiso/Netomata/internal/runner"
	"github.com/shaiso/Netomata/internal/sshdriver"
	"github.com/shaiso/Netomata/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval = 30 * time.Second
	defaultBatchSize    = 100
	defaultWorkers      = 4
)

// TaskStore — хранилище задач.
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	Update(ctx context.Context, t *domain.Task) error
	ListPending(ctx context.Context, limit int) ([]domain.Task, error)
}

// DeviceStore — инвентарь устройств.
type DeviceStore interface {
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Device, error)
}

// TemplateStore — шаблоны конфигурации.
type TemplateStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Template, error)
}

// BackupStore — чтение бэкапов по ID (источник отката).
type BackupStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Backup, error)
}

// Credentials разрешает учётные данные устройств.
type Credentials interface {
	Resolve(ctx context.Context, taskID uuid.UUID, d *domain.Device) (credential.Credential, error)
	ResolveAll(ctx context.Context, taskID uuid.UUID, devices []domain.Device) (credential.Resolved, error)
}

// Backups — движок сохранения бэкапов.
type Backups interface {
	Capture(ctx context.Context, s backup.Snapshot) (*domain.Backup, bool, error)
	RecordFailure(ctx context.Context, deviceID uuid.UUID, taskID *uuid.UUID, typ domain.BackupType, operator string, cause error) (*domain.Backup, error)
	Content(ctx context.Context, b *domain.Backup) (string, error)
}

// Pauses — pause-записи и уведомления OTP-координатора.
type Pauses interface {
	RecordPause(ctx context.Context, key domain.GroupKey, taskID uuid.UUID, deviceIDs []uuid.UUID, stage string) bool
	ClearPause(ctx context.Context, key domain.GroupKey, taskID uuid.UUID)
	ShouldNotify(ctx context.Context, key domain.GroupKey, taskID uuid.UUID) bool
	WaitTimeout() time.Duration
}

// Notifier публикует запросы OTP операторам.
type Notifier interface {
	PublishOTPRequired(ctx context.Context, payload mq.OTPRequiredPayload) error
}

// Orchestrator выполняет задачи деплоя и отката.
//
// Orchestrator:
//   - Получает задачи из очередей tasks.deploy и tasks.rollback
//   - Периодически подбирает PENDING задачи из БД (polling fallback)
//   - Ведёт задачу по конвейеру до финального статуса или паузы
//   - Ставит задачу на паузу при нехватке OTP и уведомляет операторов
type Orchestrator struct {
	// Repositories
	tasks     TaskStore
	devices   DeviceStore
	templates TemplateStore
	backupsDB BackupStore

	// Collaborators
	creds    Credentials
	backups  Backups
	pauses   Pauses
	notifier Notifier
	runner   *runner.Runner
	driver   sshdriver.Driver

	// MQ
	conn *mq.Connection

	// Active tasks — задачи в обработке этим процессом.
	activeTasks map[uuid.UUID]struct{}
	mu          sync.RWMutex

	// Consumers
	deployConsumer   *mq.Consumer
	rollbackConsumer *mq.Consumer

	// Configuration
	strictPolicy bool
	postChange   bool
	pollInterval time.Duration
	batchSize    int
	workers      int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Repositories
	Tasks     TaskStore
	Devices   DeviceStore
	Templates TemplateStore
	BackupsDB BackupStore

	// Collaborators
	Credentials Credentials
	Backups     Backups
	Pauses      Pauses
	Notifier    Notifier // nil — без уведомлений
	Runner      *runner.Runner
	Driver      sshdriver.Driver

	// MQ (только для Start)
	Conn *mq.Connection

	// StrictPolicy включает allowlist команд.
	StrictPolicy bool

	// PostChange — снимать конфигурацию после успешного деплоя.
	PostChange bool

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 30s)
	BatchSize    int           // задач за один poll (default: 100)

	// Workers — задач одной очереди параллельно (default: 4).
	Workers int

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		tasks:        cfg.Tasks,
		devices:      cfg.Devices,
		templates:    cfg.Templates,
		backupsDB:    cfg.BackupsDB,
		creds:        cfg.Credentials,
		backups:      cfg.Backups,
		pauses:       cfg.Pauses,
		notifier:     cfg.Notifier,
		runner:       cfg.Runner,
		driver:       cfg.Driver,
		conn:         cfg.Conn,
		activeTasks:  make(map[uuid.UUID]struct{}),
		strictPolicy: cfg.StrictPolicy,
		postChange:   cfg.PostChange,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		workers:      workers,
		logger:       logger,
	}
}

// Start запускает Orchestrator.
//
// Запускает:
//   - Consumer для tasks.deploy
//   - Consumer для tasks.rollback
//   - Polling горутину для fallback
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
		"workers", o.workers,
	)

	if o.conn == nil {
		o.logger.Warn("no RabbitMQ connection, polling only")
	} else {
		o.startConsumers(ctx)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

func (o *Orchestrator) startConsumers(ctx context.Context) {
	o.deployConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue:   string(mq.QueueTasksDeploy),
		Handler: o.handleTask,
		Workers: o.workers,
	})

	o.rollbackConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue:   string(mq.QueueTasksRollback),
		Handler: o.handleTask,
		Workers: o.workers,
	})

	for _, c := range []*mq.Consumer{o.deployConsumer, o.rollbackConsumer} {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("task consumer error", "error", err)
			}
		}()
	}
}

// Stop останавливает Orchestrator.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	if o.deployConsumer != nil {
		o.deployConsumer.Stop()
	}
	if o.rollbackConsumer != nil {
		o.rollbackConsumer.Stop()
	}

	o.wg.Wait()

	o.logger.Info("orchestrator stopped", "active_tasks", o.ActiveTasksCount())
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// pollLoop — цикл polling для fallback.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем задачи, созданные пока были выключены)
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll подбирает согласованные PENDING задачи, сообщение о которых потерялось.
func (o *Orchestrator) poll(ctx context.Context) {
	tasks, err := o.tasks.ListPending(ctx, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list pending tasks", "error", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	o.logger.Debug("poll found pending tasks", "count", len(tasks))

	for i := range tasks {
		if ctx.Err() != nil {
			return
		}
		if o.isTaskActive(tasks[i].ID) {
			continue
		}
		if _, err := o.Process(ctx, tasks[i].ID, false); err != nil && !errors.Is(err, ErrTaskAlreadyActive) {
			o.logger.Error("failed to process task from poll",
				"task_id", tasks[i].ID,
				"error", err,
			)
		}
	}
}

// Process ведёт задачу по конвейеру её типа и возвращает итоговый статус.
//
// Повторный вызов для задачи в финальном статусе, в RUNNING или на паузе
// без resume ничего не меняет и возвращает текущий статус.
// Неожиданная ошибка переводит задачу в FAILED и возвращается вызывающему.
func (o *Orchestrator) Process(ctx context.Context, taskID uuid.UUID, resume bool) (domain.TaskStatus, error) {
	if o.IsStopped() {
		return "", ErrOrchestratorStopped
	}
	if err := o.addActiveTask(taskID); err != nil {
		return "", err
	}
	defer o.removeActiveTask(taskID)

	task, admitted, err := o.admit(ctx, taskID, resume)
	if err != nil {
		return "", err
	}
	if !admitted {
		o.logger.Debug("task not admitted",
			"task_id", taskID,
			"status", task.Status,
			"approval", task.ApprovalStatus,
			"resume", resume,
		)
		return task.Status, nil
	}

	start := time.Now()
	run := newTaskRun(o, task)
	run.logger.Info("task started", "devices", len(task.DeviceIDs), "resume", resume)

	switch task.Type {
	case domain.TaskTypeDeploy:
		err = o.deploy(ctx, run)
	case domain.TaskTypeRollback:
		err = o.rollback(ctx, run)
	default:
		err = permanent(fmt.Sprintf("unknown task type %q", task.Type))
	}

	status, err := o.settle(ctx, run, err)
	telemetry.TaskDuration.WithLabelValues(string(task.Type)).Observe(time.Since(start).Seconds())
	return status, err
}

// admit переводит задачу в RUNNING. Конфликт версии повторяется один раз
// с перечитыванием и повторной проверкой статуса.
func (o *Orchestrator) admit(ctx context.Context, taskID uuid.UUID, resume bool) (*domain.Task, bool, error) {
	for attempt := 0; ; attempt++ {
		task, err := o.tasks.GetByID(ctx, taskID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, false, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if err != nil {
			return nil, false, fmt.Errorf("load task: %w", err)
		}
		if !admissible(task, resume) {
			return task, false, nil
		}

		task.MarkRunning()
		err = o.tasks.Update(ctx, task)
		if err == nil {
			return task, true, nil
		}
		if !errors.Is(err, repo.ErrConflict) {
			return nil, false, fmt.Errorf("admit task: %w", err)
		}
		if attempt > 0 {
			return nil, false, fmt.Errorf("%w: %v", ErrAdmitConflict, err)
		}
		o.logger.Warn("task admit conflict, retrying", "task_id", taskID)
	}
}

func admissible(t *domain.Task, resume bool) bool {
	if !t.IsApproved() {
		return false
	}
	switch t.Status {
	case domain.TaskStatusPending:
		return true
	case domain.TaskStatusPaused:
		return resume
	default:
		return false
	}
}

// settle доводит задачу до статуса по ошибке стадии:
// nil — стадии уже записали статус, *otp.RequiredError — пауза,
// permanentError — FAILED, остальное — FAILED и ошибка вызывающему.
func (o *Orchestrator) settle(ctx context.Context, run *taskRun, err error) (domain.TaskStatus, error) {
	if err == nil {
		return run.task.Status, nil
	}

	if req, ok := otp.AsRequired(err); ok {
		if perr := o.pause(ctx, run, req); perr != nil {
			return o.fail(ctx, run, perr)
		}
		return domain.TaskStatusPaused, nil
	}

	if isPermanent(err) {
		run.logger.Warn("task failed", "stage", run.stage, "reason", err.Error())
		if ferr := o.finish(ctx, run, domain.TaskStatusFailed, err.Error()); ferr != nil {
			return "", ferr
		}
		return domain.TaskStatusFailed, nil
	}

	return o.fail(ctx, run, err)
}

// fail — граница очереди: записывает FAILED с текстом ошибки и
// возвращает ошибку, чтобы доставка тоже считалась неуспешной.
func (o *Orchestrator) fail(ctx context.Context, run *taskRun, err error) (domain.TaskStatus, error) {
	run.logger.Error("task pipeline error", "stage", run.stage, "error", err)
	if ferr := o.finish(ctx, run, domain.TaskStatusFailed, err.Error()); ferr != nil {
		run.logger.Error("failed to record task failure", "error", ferr)
	}
	return domain.TaskStatusFailed, err
}

// finish записывает финальный статус задачи.
func (o *Orchestrator) finish(ctx context.Context, run *taskRun, status domain.TaskStatus, msg string) error {
	run.task.MarkFinished(status, msg)
	if err := o.save(ctx, run.task); err != nil {
		return err
	}
	telemetry.TaskFinished.WithLabelValues(string(run.task.Type), string(status)).Inc()
	run.logger.Info("task finished",
		"status", status,
		"success", run.task.SuccessCount,
		"failed", run.task.FailureCount,
		"message", msg,
	)
	return nil
}

// pause ставит задачу на паузу: pause-запись на каждую группу,
// запись задачи и не более одного уведомления на wait-state группы.
// Если Runner уже позвал операторов во время ожидания, повторного
// уведомления нет.
func (o *Orchestrator) pause(ctx context.Context, run *taskRun, req *otp.RequiredError) error {
	task := run.task
	task.MarkPaused(run.stage, req.Groups, req.Error())

	for _, g := range req.Groups {
		if !o.pauses.RecordPause(ctx, g.Key, task.ID, g.DeviceIDs, run.stage) {
			run.logger.Warn("pause record not stored", "group", g.Key.String())
		}
	}
	if err := o.save(ctx, task); err != nil {
		return err
	}
	telemetry.TaskFinished.WithLabelValues(string(task.Type), string(domain.TaskStatusPaused)).Inc()
	run.logger.Info("task paused", "stage", run.stage, "reason", req.Error())

	for _, g := range req.Groups {
		if !o.pauses.ShouldNotify(ctx, g.Key, task.ID) {
			continue
		}
		o.notify(ctx, run, g, time.Now().UTC().Add(o.pauses.WaitTimeout()))
	}
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, run *taskRun, g domain.BlockedGroup, expiresAt time.Time) {
	if o.notifier == nil {
		return
	}
	err := o.notifier.PublishOTPRequired(ctx, mq.OTPRequiredPayload{
		TaskID:     run.task.ID,
		Department: g.Key.Department,
		Group:      g.Key.Group,
		DeviceIDs:  g.DeviceIDs,
		Stage:      run.stage,
		ExpiresAt:  expiresAt.UTC(),
	})
	if err != nil {
		run.logger.Warn("failed to publish otp request", "group", g.Key.String(), "error", err)
		return
	}
	telemetry.OTPNotifications.Inc()
}

// clearPauses удаляет pause-записи задачи по всем группам её устройств.
func (o *Orchestrator) clearPauses(ctx context.Context, run *taskRun) {
	seen := make(map[domain.GroupKey]bool)
	for _, d := range run.devices {
		if d.AuthType != domain.AuthOTPManual {
			continue
		}
		key := d.GroupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		o.pauses.ClearPause(ctx, key, run.task.ID)
	}
}

// save записывает задачу. При конфликте версии перечитывает её и повторяет
// запись один раз: поля согласования берутся из БД, остальное — из прогона.
func (o *Orchestrator) save(ctx context.Context, task *domain.Task) error {
	err := o.tasks.Update(ctx, task)
	if err == nil || !errors.Is(err, repo.ErrConflict) {
		return err
	}

	fresh, gerr := o.tasks.GetByID(ctx, task.ID)
	if gerr != nil {
		return fmt.Errorf("reload task after conflict: %w", gerr)
	}
	o.logger.Warn("task write conflict, retrying", "task_id", task.ID, "version", task.Version)

	merged := task.Clone()
	merged.Version = fresh.Version
	merged.ApprovalLevels = fresh.ApprovalLevels
	merged.CurrentLevel = fresh.CurrentLevel
	merged.ApprovalStatus = fresh.ApprovalStatus
	if err := o.tasks.Update(ctx, merged); err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	*task = *merged
	return nil
}

// isTaskActive проверяет, обрабатывается ли задача.
func (o *Orchestrator) isTaskActive(taskID uuid.UUID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.activeTasks[taskID]
	return exists
}

// addActiveTask добавляет задачу в активные.
func (o *Orchestrator) addActiveTask(taskID uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeTasks[taskID]; exists {
		return ErrTaskAlreadyActive
	}
	o.activeTasks[taskID] = struct{}{}
	return nil
}

// removeActiveTask удаляет задачу из активных.
func (o *Orchestrator) removeActiveTask(taskID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeTasks, taskID)
}

// ActiveTasksCount возвращает количество задач в обработке.
func (o *Orchestrator) ActiveTasksCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeTasks)
}
