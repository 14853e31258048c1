package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shaiso/Netomata/internal/backup"
	"github.com/shaiso/Netomata/internal/credential"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/runner"
	"github.com/shaiso/Netomata/internal/sshdriver"
	"github.com/shaiso/Netomata/internal/telemetry"
)

// DefaultOperator — автор плановых бэкапов.
const DefaultOperator = "scheduler"

// DeviceStore — инвентарь устройств.
type DeviceStore interface {
	ListActive(ctx context.Context) ([]domain.Device, error)
}

// Credentials разрешает учётные данные без ожидания оператора.
type Credentials interface {
	Cached(ctx context.Context, d *domain.Device) (credential.Credential, error)
}

// Backups — движок сохранения бэкапов.
type Backups interface {
	Capture(ctx context.Context, s backup.Snapshot) (*domain.Backup, bool, error)
	RecordFailure(ctx context.Context, deviceID uuid.UUID, taskID *uuid.UUID, typ domain.BackupType, operator string, cause error) (*domain.Backup, error)
}

// Leader подтверждает лидерство процесса перед тиком.
type Leader interface {
	TryAcquire(ctx context.Context) (bool, error)
}

// Summary — итог одного тика.
type Summary struct {
	Devices  int
	Captured int
	Skipped  int
	Failed   int
}

// Scheduler — планировщик плановых бэкапов конфигураций.
type Scheduler struct {
	devices  DeviceStore
	creds    Credentials
	backups  Backups
	runner   *runner.Runner
	driver   sshdriver.Driver
	leader   Leader
	schedule cron.Schedule
	location *time.Location
	operator string
	now      func() time.Time
	logger   *slog.Logger
}

// Config — конфигурация Scheduler.
type Config struct {
	Devices     DeviceStore
	Credentials Credentials
	Backups     Backups
	Runner      *runner.Runner
	Driver      sshdriver.Driver
	Leader      Leader // nil — процесс всегда лидер

	Cron     string // cron-выражение (default: DefaultCron)
	Timezone string // часовой пояс расписания (default: UTC)
	Operator string // автор бэкапов (default: DefaultOperator)

	Now    func() time.Time
	Logger *slog.Logger
}

// New создаёт новый Scheduler.
func New(cfg Config) (*Scheduler, error) {
	expr := cfg.Cron
	if expr == "" {
		expr = DefaultCron
	}
	schedule, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		devices:  cfg.Devices,
		creds:    cfg.Credentials,
		backups:  cfg.Backups,
		runner:   cfg.Runner,
		driver:   cfg.Driver,
		leader:   cfg.Leader,
		schedule: schedule,
		location: loadLocation(cfg.Timezone),
		operator: cfg.Operator,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}
	if s.operator == "" {
		s.operator = DefaultOperator
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Next возвращает время следующего запуска после from.
func (s *Scheduler) Next(from time.Time) time.Time {
	return NextRun(s.schedule, from, s.location)
}

// Run выполняет тики по расписанию до отмены ctx.
// Тик пропускается, если процесс не лидер.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := s.Next(s.now())
		s.logger.Debug("next scheduled backup", "at", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if s.leader != nil {
			ok, err := s.leader.TryAcquire(ctx)
			if err != nil {
				s.logger.Error("leader lock failed", "error", err)
				continue
			}
			if !ok {
				s.logger.Debug("not a leader, skipping scheduled backup")
				continue
			}
		}

		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error("scheduled backup failed", "error", err)
		}
	}
}

// Tick снимает конфигурацию всех активных устройств.
//
// 1. Разрешает учётные данные без ожидания оператора: устройства с
//    ручным OTP без кода в кэше пропускаются
// 2. Снимает конфигурации через Runner
// 3. Сохраняет scheduled-бэкапы (или записи о неудаче) через движок
//
// Ошибки одного устройства не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) (Summary, error) {
	devices, err := s.devices.ListActive(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list active devices: %w", err)
	}
	sum := Summary{Devices: len(devices)}
	if len(devices) == 0 {
		return sum, nil
	}

	byID := make(map[uuid.UUID]*domain.Device, len(devices))
	creds := make(map[uuid.UUID]credential.Credential, len(devices))
	hosts := make([]runner.Host, 0, len(devices))
	for i := range devices {
		d := &devices[i]
		byID[d.ID] = d

		cred, err := s.creds.Cached(ctx, d)
		switch {
		case errors.Is(err, credential.ErrCodeNotCached):
			sum.Skipped++
			telemetry.ScheduledDevices.WithLabelValues("skipped").Inc()
			s.logger.Info("device skipped, otp code not cached", "device_id", d.ID, "group", d.GroupKey().String())
			continue
		case err != nil:
			s.fail(ctx, d, fmt.Errorf("credentials: %w", err), &sum)
			continue
		}
		creds[d.ID] = cred
		hosts = append(hosts, runner.Host{Name: d.ID.String(), DeviceID: d.ID})
	}

	secret := func(ctx context.Context, h runner.Host) (string, error) {
		d := byID[h.DeviceID]
		if d.AuthType == domain.AuthOTPSeed {
			cred, err := s.creds.Cached(ctx, d)
			if err != nil {
				return "", err
			}
			return cred.Secret, nil
		}
		return creds[h.DeviceID].Secret, nil
	}
	fetch := func(ctx context.Context, h runner.Host, pw string) (string, error) {
		d := byID[h.DeviceID]
		conn, err := s.driver.Open(ctx, sshdriver.Target{
			Host:     d.Address,
			Port:     d.Port,
			Platform: d.Platform,
			Username: creds[d.ID].Username,
			Secret:   pw,
		})
		if err != nil {
			return "", err
		}
		defer conn.Close()
		return sshdriver.FetchConfig(ctx, conn, d.Platform)
	}

	res := s.runner.Run(ctx, hosts, fetch, runner.Options{Secrets: secret})
	for _, h := range res.All() {
		d := byID[h.DeviceID]
		if !h.OK() {
			s.fail(ctx, d, h.Err, &sum)
			continue
		}
		if _, _, err := s.backups.Capture(ctx, backup.Snapshot{
			DeviceID: d.ID,
			Type:     domain.BackupScheduled,
			Content:  h.Output,
			Operator: s.operator,
		}); err != nil {
			s.fail(ctx, d, err, &sum)
			continue
		}
		sum.Captured++
		telemetry.ScheduledDevices.WithLabelValues("captured").Inc()
	}

	s.logger.Info("scheduled backup completed",
		"devices", sum.Devices,
		"captured", sum.Captured,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
	)
	return sum, nil
}

func (s *Scheduler) fail(ctx context.Context, d *domain.Device, cause error, sum *Summary) {
	if cause == nil {
		cause = errors.New("configuration not captured")
	}
	sum.Failed++
	telemetry.ScheduledDevices.WithLabelValues("failed").Inc()
	s.logger.Warn("scheduled backup failed for device", "device_id", d.ID, "host", d.HostName(), "error", cause)
	if _, err := s.backups.RecordFailure(ctx, d.ID, nil, domain.BackupScheduled, s.operator, cause); err != nil {
		s.logger.Error("failed to record backup failure", "device_id", d.ID, "error", err)
	}
}
