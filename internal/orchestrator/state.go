package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/credential"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/otp"
	"github.com/shaiso/Netomata/internal/repo"
	"github.com/shaiso/Netomata/internal/runner"
	"github.com/shaiso/Netomata/internal/sshdriver"
	"github.com/shaiso/Netomata/internal/telemetry"
)

// Стадии конвейера, на которых возможна пауза.
const (
	stageCredentials = "credentials"
	stagePreChange   = "pre_change"
	stageExecute     = "execute"
	stageDriftCheck  = "drift_check"
	stageRollback    = "rollback_push"
	stageVerify      = "verify"
)

// taskRun — состояние одного прогона конвейера в памяти.
//
// taskRun создаётся после admit и живёт до финального статуса или паузы.
// Единственный владелец task: все изменения задачи идут через него
// и сохраняются в БД через Orchestrator.save.
type taskRun struct {
	o    *Orchestrator
	task *domain.Task

	// devices — целевые устройства по ID.
	devices map[uuid.UUID]*domain.Device

	// creds — учётные данные, разрешённые для этого прогона.
	creds map[uuid.UUID]credential.Credential

	// commands — отрендеренные команды (deploy).
	commands map[uuid.UUID][]string

	// stage — текущая стадия; пауза записывается с ней.
	stage string

	logger *slog.Logger
}

func newTaskRun(o *Orchestrator, task *domain.Task) *taskRun {
	return &taskRun{
		o:       o,
		task:    task,
		devices: make(map[uuid.UUID]*domain.Device, len(task.DeviceIDs)),
		creds:   make(map[uuid.UUID]credential.Credential),
		logger:  telemetry.WithTaskID(o.logger, task.ID.String()).With("task_type", task.Type),
	}
}

// loadDevices загружает целевые устройства задачи.
func (run *taskRun) loadDevices(ctx context.Context) error {
	if len(run.task.DeviceIDs) == 0 {
		return permanent("task has no target devices")
	}
	devices, err := run.o.devices.ListByIDs(ctx, run.task.DeviceIDs)
	if errors.Is(err, repo.ErrNotFound) {
		return permanent(fmt.Sprintf("load devices: %v", err))
	}
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}
	for i := range devices {
		run.devices[devices[i].ID] = &devices[i]
	}
	return nil
}

// list возвращает устройства в порядке ids.
func (run *taskRun) list(ids []uuid.UUID) []domain.Device {
	out := make([]domain.Device, 0, len(ids))
	for _, id := range ids {
		out = append(out, *run.devices[id])
	}
	return out
}

// resolve разрешает учётные данные для ids. Устройства без учётных
// данных сразу получают failed; возвращаются устройства, готовые к работе.
// *otp.RequiredError пробрасывается: по нему задача встаёт на паузу.
func (run *taskRun) resolve(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	resolved, err := run.o.creds.ResolveAll(ctx, run.task.ID, run.list(ids))
	for id, cred := range resolved.Creds {
		run.creds[id] = cred
	}
	if err != nil {
		return nil, err
	}

	ready := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if cause, failed := resolved.Failed[id]; failed {
			run.task.SetOutcome(id, domain.DeviceOutcome{
				Status:  domain.DeviceResultFailed,
				Message: "credentials: " + cause.Error(),
			})
			run.logger.Warn("device credentials unavailable", "device_id", id, "error", cause)
			continue
		}
		ready = append(ready, id)
	}
	return ready, nil
}

// hosts строит хосты Runner'а. Имя хоста — ID устройства.
func (run *taskRun) hosts(ids []uuid.UUID) []runner.Host {
	out := make([]runner.Host, 0, len(ids))
	for _, id := range ids {
		h := runner.Host{Name: id.String(), DeviceID: id}
		if d := run.devices[id]; d.AuthType == domain.AuthOTPManual {
			key := d.GroupKey()
			h.OTP = &key
		}
		out = append(out, h)
	}
	return out
}

// runHosts выполняет op над устройствами через Runner.
func (run *taskRun) runHosts(ctx context.Context, ids []uuid.UUID, op runner.HostFunc) runner.Results {
	return run.o.runner.Run(ctx, run.hosts(ids), op, runner.Options{
		TaskID:  run.task.ID,
		Secrets: run.secret,
		Prompt:  run.prompt,
		OnProgress: func(done, total int, res runner.HostResult) {
			run.logger.Debug("device processed",
				"stage", run.stage,
				"device_id", res.DeviceID,
				"status", res.Status,
				"done", done,
				"total", total,
			)
		},
	})
}

// prompt публикует otp.required, пока хосты стадии ждут код группы.
func (run *taskRun) prompt(ctx context.Context, key domain.GroupKey, deviceIDs []uuid.UUID, expiresAt time.Time) {
	run.o.notify(ctx, run, domain.BlockedGroup{Key: key, DeviceIDs: deviceIDs}, expiresAt)
}

// secret — пароль устройства на очередную попытку. Код из seed
// вычисляется заново на каждую попытку.
func (run *taskRun) secret(ctx context.Context, h runner.Host) (string, error) {
	d := run.devices[h.DeviceID]
	if d.AuthType == domain.AuthOTPSeed {
		cred, err := run.o.creds.Resolve(ctx, run.task.ID, d)
		if err != nil {
			return "", err
		}
		return cred.Secret, nil
	}
	cred, ok := run.creds[h.DeviceID]
	if !ok {
		return "", credential.ErrNoCredential
	}
	return cred.Secret, nil
}

func (run *taskRun) target(d *domain.Device, secret string) sshdriver.Target {
	return sshdriver.Target{
		Host:     d.Address,
		Port:     d.Port,
		Platform: d.Platform,
		Username: run.creds[d.ID].Username,
		Secret:   secret,
	}
}

// fetchOp снимает текущую конфигурацию устройства.
func (run *taskRun) fetchOp(ctx context.Context, h runner.Host, secret string) (string, error) {
	d := run.devices[h.DeviceID]
	conn, err := run.o.driver.Open(ctx, run.target(d, secret))
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return sshdriver.FetchConfig(ctx, conn, d.Platform)
}

// pushOp отправляет команды в режиме конфигурации.
func (run *taskRun) pushOp(cmds map[uuid.UUID][]string) runner.HostFunc {
	return func(ctx context.Context, h runner.Host, secret string) (string, error) {
		d := run.devices[h.DeviceID]
		conn, err := run.o.driver.Open(ctx, run.target(d, secret))
		if err != nil {
			return "", err
		}
		defer conn.Close()
		return conn.Run(ctx, cmds[h.DeviceID], true)
	}
}

// blocked собирает устройства, не дождавшиеся OTP. Пропущенные из-за
// истечения ожидания устройства относятся к группе, ожидание которой истекло.
func (run *taskRun) blocked(res runner.Results) *otp.RequiredError {
	hosts := res.OTPBlocked()
	if len(hosts) == 0 {
		return nil
	}

	var cause *domain.GroupKey
	for _, h := range hosts {
		if h.OTPGroup != nil {
			cause = h.OTPGroup
			break
		}
	}

	req := &otp.RequiredError{TimedOut: true}
	for _, h := range hosts {
		key := run.devices[h.DeviceID].GroupKey()
		if h.Status == runner.StatusSkipped && cause != nil {
			key = *cause
		}
		req.Add(key, h.DeviceID)
	}
	return req
}

// outcome переводит результат Runner'а в итог устройства.
func outcome(res runner.HostResult, prefix string) domain.DeviceOutcome {
	o := domain.DeviceOutcome{Attempts: res.Attempts}
	if res.OK() {
		o.Status = domain.DeviceResultSuccess
		return o
	}
	o.Status = domain.DeviceResultFailed
	o.Message = prefix
	if res.Err != nil {
		o.Message = prefix + ": " + res.Err.Error()
	}
	return o
}
