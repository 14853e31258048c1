package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/backup"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/repo"
	"github.com/shaiso/Netomata/internal/sshdriver"
)

var errNoPreChange = errors.New("no pre-change backup")

// baseline — pre-change снимок устройства, к которому откатываемся.
type baseline struct {
	backupID uuid.UUID
	content  string
	hash     string
}

// rollback — конвейер отката:
// классификация → проверка дрейфа → push снимка → сверка → итог.
//
// Устройства без дрейфа не изменяются. Итоговый статус ROLLBACK
// выставляется и задаче отката, и исходной задаче, даже если часть
// устройств после отката не совпала со снимком: расхождения
// перечисляются в отчёте.
func (o *Orchestrator) rollback(ctx context.Context, run *taskRun) error {
	task := run.task

	run.stage = "classify"
	source, err := o.loadSource(ctx, task)
	if err != nil {
		return err
	}
	if len(task.DeviceIDs) == 0 {
		task.DeviceIDs = slices.Clone(source.DeviceIDs)
	}
	if err := run.loadDevices(ctx); err != nil {
		return err
	}

	targets := task.UnfinishedDeviceIDs()
	report := carryReport(task.Rollback, targets)
	task.Rollback = report

	baselines := make(map[uuid.UUID]baseline, len(targets))
	var candidates []uuid.UUID
	for _, id := range targets {
		d := run.devices[id]
		if !sshdriver.SupportsRollback(d.Platform) {
			report.Unsupported = append(report.Unsupported, id)
			task.SetOutcome(id, domain.DeviceOutcome{
				Status:  domain.DeviceResultFailed,
				Message: fmt.Sprintf("platform %s cannot replay a configuration", d.Platform),
			})
			continue
		}
		b, err := o.baseline(ctx, source, id)
		if err != nil {
			if !errors.Is(err, errNoPreChange) && !errors.Is(err, repo.ErrNotFound) {
				run.logger.Warn("failed to load pre-change backup", "device_id", id, "error", err)
			}
			report.MissingBackup = append(report.MissingBackup, id)
			task.SetOutcome(id, domain.DeviceOutcome{
				Status:  domain.DeviceResultFailed,
				Message: "pre-change backup unavailable: " + err.Error(),
			})
			continue
		}
		baselines[id] = b
		candidates = append(candidates, id)
	}

	run.stage = stageCredentials
	ready, err := run.resolve(ctx, candidates)
	if err != nil {
		return err
	}
	for _, id := range candidates {
		if !slices.Contains(ready, id) {
			report.CredentialFailed = append(report.CredentialFailed, id)
		}
	}

	run.stage = stageDriftCheck
	drifted, err := run.checkDrift(ctx, ready, baselines)
	if err != nil {
		return err
	}

	run.stage = stageRollback
	pushed, err := run.replay(ctx, drifted, baselines)
	if err != nil {
		return err
	}

	run.stage = stageVerify
	if err := run.verify(ctx, pushed, baselines); err != nil {
		return err
	}

	run.stage = "persist"
	if err := o.markRolledBack(ctx, source.ID, task.ID); err != nil {
		return err
	}
	o.clearPauses(ctx, run)

	task.Result = map[string]any{
		"source_task_id": source.ID,
		"rolled_back":    len(report.RolledBack),
		"skipped":        len(report.Skipped),
		"mismatched":     len(report.Mismatched),
	}
	return o.finish(ctx, run, domain.TaskStatusRollback, fmt.Sprintf(
		"%d rolled back (%d matched, %d mismatched), %d without drift, %d cannot roll back",
		len(report.RolledBack), len(report.Matched), len(report.Mismatched), len(report.Skipped),
		len(report.Unsupported)+len(report.MissingBackup)+len(report.CredentialFailed)+len(report.PushFailed)+len(report.Missing),
	))
}

// checkDrift сравнивает текущую конфигурацию с pre-change снимком и
// возвращает устройства с дрейфом. Совпавшие помечаются skipped.
func (run *taskRun) checkDrift(ctx context.Context, ids []uuid.UUID, baselines map[uuid.UUID]baseline) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	task, report := run.task, run.task.Rollback
	res := run.runHosts(ctx, ids, run.fetchOp)
	if req := run.blocked(res); req != nil {
		return nil, req
	}

	var drifted []uuid.UUID
	for _, id := range ids {
		hr, _ := res.Get(id.String())
		switch {
		case !hr.OK():
			report.Missing = append(report.Missing, id)
			task.SetOutcome(id, outcome(hr, "read current configuration"))
		case backup.ContentHash(hr.Output) == baselines[id].hash:
			report.Skipped = append(report.Skipped, id)
			task.SetOutcome(id, domain.DeviceOutcome{
				Status:   domain.DeviceResultSuccess,
				Message:  "no drift from pre-change backup",
				Attempts: hr.Attempts,
			})
		default:
			drifted = append(drifted, id)
		}
	}
	return drifted, nil
}

// replay отправляет pre-change конфигурацию на устройства с дрейфом.
func (run *taskRun) replay(ctx context.Context, ids []uuid.UUID, baselines map[uuid.UUID]baseline) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	task, report := run.task, run.task.Rollback
	cmds := make(map[uuid.UUID][]string, len(ids))
	for _, id := range ids {
		cmds[id] = backup.ReplayCommands(baselines[id].content)
	}

	res := run.runHosts(ctx, ids, run.pushOp(cmds))
	if req := run.blocked(res); req != nil {
		return nil, req
	}

	var pushed []uuid.UUID
	for _, id := range ids {
		hr, _ := res.Get(id.String())
		if !hr.OK() {
			report.PushFailed = append(report.PushFailed, id)
			task.SetOutcome(id, outcome(hr, "rollback push"))
			continue
		}
		report.RolledBack = append(report.RolledBack, id)
		pushed = append(pushed, id)
	}
	return pushed, nil
}

// verify перечитывает конфигурацию и сверяет её со снимком.
func (run *taskRun) verify(ctx context.Context, ids []uuid.UUID, baselines map[uuid.UUID]baseline) error {
	if len(ids) == 0 {
		return nil
	}
	task, report := run.task, run.task.Rollback
	res := run.runHosts(ctx, ids, run.fetchOp)
	if req := run.blocked(res); req != nil {
		return req
	}

	for _, id := range ids {
		hr, _ := res.Get(id.String())
		switch {
		case !hr.OK():
			report.Missing = append(report.Missing, id)
			task.SetOutcome(id, outcome(hr, "verify"))
		case backup.ContentHash(hr.Output) == baselines[id].hash:
			report.Matched = append(report.Matched, id)
			task.SetOutcome(id, domain.DeviceOutcome{Status: domain.DeviceResultSuccess, Attempts: hr.Attempts})
		default:
			report.Mismatched = append(report.Mismatched, id)
			task.SetOutcome(id, domain.DeviceOutcome{
				Status:  domain.DeviceResultFailed,
				Message: "configuration differs from pre-change backup after rollback",
			})
			run.logger.Warn("rollback verification mismatch", "device_id", id)
		}
	}
	return nil
}

// loadSource загружает исходную задачу и проверяет, что её можно откатить.
func (o *Orchestrator) loadSource(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	if task.SourceTaskID == nil {
		return nil, permanent("rollback task has no source task")
	}
	source, err := o.tasks.GetByID(ctx, *task.SourceTaskID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, permanent(fmt.Sprintf("source task %s not found", *task.SourceTaskID))
	}
	if err != nil {
		return nil, fmt.Errorf("load source task: %w", err)
	}
	if source.Type != domain.TaskTypeDeploy {
		return nil, permanent(fmt.Sprintf("source task %s is a %s task", source.ID, source.Type))
	}
	if !source.Status.CanRollback() {
		return nil, permanent(fmt.Sprintf("source task %s in status %s cannot be rolled back", source.ID, source.Status))
	}
	return source, nil
}

// baseline находит pre-change бэкап устройства: сначала по итогу устройства
// в исходной задаче, затем якорный бэкап задачи, если он снят с этого устройства.
func (o *Orchestrator) baseline(ctx context.Context, source *domain.Task, deviceID uuid.UUID) (baseline, error) {
	id, ok := source.PreBackupID(deviceID)
	if !ok {
		if source.AnchorBackupID == nil {
			return baseline{}, errNoPreChange
		}
		id = *source.AnchorBackupID
	}

	b, err := o.backupsDB.GetByID(ctx, id)
	if err != nil {
		return baseline{}, err
	}
	if b.DeviceID != deviceID || b.Status != domain.BackupSuccess {
		return baseline{}, errNoPreChange
	}
	content, err := o.backups.Content(ctx, b)
	if err != nil {
		return baseline{}, err
	}

	hash := b.Hash
	if hash == "" {
		hash = backup.ContentHash(content)
	}
	return baseline{backupID: b.ID, content: content, hash: hash}, nil
}

// markRolledBack переводит исходную задачу в ROLLBACK.
func (o *Orchestrator) markRolledBack(ctx context.Context, sourceID, rollbackID uuid.UUID) error {
	source, err := o.tasks.GetByID(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("reload source task: %w", err)
	}
	source.Status = domain.TaskStatusRollback
	if source.Result == nil {
		source.Result = make(map[string]any)
	}
	source.Result["rolled_back_by"] = rollbackID
	if err := o.save(ctx, source); err != nil {
		return fmt.Errorf("mark source task rolled back: %w", err)
	}
	return nil
}

// carryReport оставляет из прошлого отчёта только устройства,
// которые в этом прогоне не обрабатываются.
func carryReport(prev *domain.RollbackReport, targets []uuid.UUID) *domain.RollbackReport {
	if prev == nil {
		return &domain.RollbackReport{}
	}
	keep := func(ids []uuid.UUID) []uuid.UUID {
		var out []uuid.UUID
		for _, id := range ids {
			if !slices.Contains(targets, id) {
				out = append(out, id)
			}
		}
		return out
	}
	return &domain.RollbackReport{
		Unsupported:      keep(prev.Unsupported),
		MissingBackup:    keep(prev.MissingBackup),
		CredentialFailed: keep(prev.CredentialFailed),
		Skipped:          keep(prev.Skipped),
		RolledBack:       keep(prev.RolledBack),
		PushFailed:       keep(prev.PushFailed),
		Matched:          keep(prev.Matched),
		Mismatched:       keep(prev.Mismatched),
		Missing:          keep(prev.Missing),
	}
}
