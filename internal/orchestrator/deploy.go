package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/backup"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/otp"
	"github.com/shaiso/Netomata/internal/policy"
	"github.com/shaiso/Netomata/internal/render"
	"github.com/shaiso/Netomata/internal/repo"
)

// deploy — конвейер деплоя:
// шаблон → рендер и политика → dry-run → учётные данные →
// pre-change бэкап → push → (post-change бэкап) → итог.
//
// При resume обрабатываются только устройства без успешного итога,
// уже снятые pre-change бэкапы переиспользуются.
func (o *Orchestrator) deploy(ctx context.Context, run *taskRun) error {
	task := run.task

	run.stage = "template"
	tmpl, err := o.loadTemplate(ctx, task)
	if err != nil {
		return err
	}
	if err := run.loadDevices(ctx); err != nil {
		return err
	}

	run.stage = "render"
	if err := run.render(tmpl); err != nil {
		return err
	}

	if task.DryRun {
		task.Result = map[string]any{"dry_run": true, "rendered": len(task.RenderHashes)}
		return o.finish(ctx, run, domain.TaskStatusSuccess,
			fmt.Sprintf("dry run: %d devices rendered", len(task.RenderHashes)))
	}

	run.stage = stageCredentials
	targets, err := run.resolve(ctx, task.UnfinishedDeviceIDs())
	if err != nil {
		return err
	}

	run.stage = stagePreChange
	ready, err := run.capturePreChange(ctx, targets)
	if err != nil {
		return err
	}
	if err := o.save(ctx, task); err != nil {
		return err
	}

	run.stage = stageExecute
	done, err := run.execute(ctx, ready)
	if err != nil {
		return err
	}

	if o.postChange && len(done) > 0 {
		run.stage = "post_change"
		run.capturePostChange(ctx, done)
	}

	o.clearPauses(ctx, run)
	return run.finalize(ctx)
}

func (o *Orchestrator) loadTemplate(ctx context.Context, task *domain.Task) (*render.Template, error) {
	t, err := o.templates.GetByID(ctx, task.TemplateID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, permanent(fmt.Sprintf("template %s not found", task.TemplateID))
	}
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	if !t.Usable() {
		return nil, permanent(fmt.Sprintf("template %q is deleted or not approved", t.Name))
	}
	tmpl, err := render.Parse(t.Name, t.Content)
	if err != nil {
		return nil, permanent(err.Error())
	}
	return tmpl, nil
}

// render рендерит шаблон для всех устройств и проверяет политику.
// Ошибка хотя бы одного устройства проваливает задачу целиком
// до подключения к любому устройству.
func (run *taskRun) render(tmpl *render.Template) error {
	task := run.task
	hashes := make(map[uuid.UUID]string, len(task.DeviceIDs))
	commands := make(map[uuid.UUID][]string, len(task.DeviceIDs))
	var failed []uuid.UUID
	reasons := make(map[string]string)

	for _, id := range task.DeviceIDs {
		d := run.devices[id]
		cmds, hash, err := tmpl.Commands(render.NewContext(d, task.Params))
		if err == nil {
			err = policy.Validate(cmds, run.o.strictPolicy)
		}
		if err != nil {
			failed = append(failed, id)
			reasons[id.String()] = err.Error()
			run.logger.Warn("device render failed", "device_id", id, "device", d.HostName(), "error", err)
			continue
		}
		hashes[id] = hash
		commands[id] = cmds
	}

	if len(failed) > 0 {
		task.Result = map[string]any{
			"failed_devices": failed,
			"errors":         reasons,
		}
		return permanent(fmt.Sprintf("render failed for %d of %d devices", len(failed), len(task.DeviceIDs)))
	}

	task.RenderHashes = hashes
	run.commands = commands
	return nil
}

// capturePreChange снимает конфигурацию устройств без pre-change бэкапа
// и возвращает устройства, готовые к push. Устройство без бэкапа не
// изменяется.
func (run *taskRun) capturePreChange(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	task := run.task
	var fetch []uuid.UUID
	for _, id := range ids {
		if _, ok := task.PreBackupID(id); !ok {
			fetch = append(fetch, id)
		}
	}

	failed := make(map[uuid.UUID]bool)
	var required *otp.RequiredError
	if len(fetch) > 0 {
		res := run.runHosts(ctx, fetch, run.fetchOp)
		required = run.blocked(res)

		for _, id := range fetch {
			hr, _ := res.Get(id.String())
			switch {
			case hr.OK():
				b, _, err := run.o.backups.Capture(ctx, backup.Snapshot{
					DeviceID: id,
					TaskID:   &task.ID,
					Type:     domain.BackupPreChange,
					Content:  hr.Output,
					Operator: task.Operator,
				})
				if err != nil {
					failed[id] = true
					task.SetOutcome(id, domain.DeviceOutcome{
						Status:  domain.DeviceResultFailed,
						Message: "pre-change backup: " + err.Error(),
					})
					continue
				}
				task.SetPreBackup(id, b.ID)

			case required.Contains(id):
				// ждёт OTP

			default:
				failed[id] = true
				if _, err := run.o.backups.RecordFailure(ctx, id, &task.ID, domain.BackupPreChange, task.Operator, hr.Err); err != nil {
					run.logger.Warn("failed to record backup failure", "device_id", id, "error", err)
				}
				task.SetOutcome(id, outcome(hr, "pre-change backup"))
			}
		}
	}

	if !required.Empty() {
		return nil, required
	}

	ready := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !failed[id] {
			ready = append(ready, id)
		}
	}
	return ready, nil
}

// execute отправляет отрендеренные команды и возвращает успешные устройства.
func (run *taskRun) execute(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	task := run.task
	res := run.runHosts(ctx, ids, run.pushOp(run.commands))
	required := run.blocked(res)

	var done []uuid.UUID
	for _, id := range ids {
		hr, _ := res.Get(id.String())
		if required.Contains(id) {
			continue
		}
		task.SetOutcome(id, outcome(hr, "push"))
		if hr.OK() {
			done = append(done, id)
		}
	}

	if !required.Empty() {
		return done, required
	}
	return done, nil
}

// capturePostChange снимает конфигурацию после изменения. Ошибки только
// логируются: на итог задачи они не влияют.
func (run *taskRun) capturePostChange(ctx context.Context, ids []uuid.UUID) {
	task := run.task
	res := run.runHosts(ctx, ids, run.fetchOp)
	for _, id := range ids {
		hr, _ := res.Get(id.String())
		if !hr.OK() {
			run.logger.Warn("post-change capture failed", "device_id", id, "error", hr.Err)
			continue
		}
		_, _, err := run.o.backups.Capture(ctx, backup.Snapshot{
			DeviceID: id,
			TaskID:   &task.ID,
			Type:     domain.BackupPostChange,
			Content:  hr.Output,
			Operator: task.Operator,
		})
		if err != nil {
			run.logger.Warn("post-change backup failed", "device_id", id, "error", err)
		}
	}
}

// finalize: SUCCESS, если ни одно устройство не упало, иначе PARTIAL.
func (run *taskRun) finalize(ctx context.Context) error {
	task := run.task
	failed := task.FailedDeviceIDs()
	if len(failed) == 0 {
		task.Result = map[string]any{"succeeded": task.SuccessCount}
		return run.o.finish(ctx, run, domain.TaskStatusSuccess, "")
	}
	task.Result = map[string]any{
		"succeeded":      task.SuccessCount,
		"failed_devices": failed,
	}
	return run.o.finish(ctx, run, domain.TaskStatusPartial,
		fmt.Sprintf("%d of %d devices failed", len(failed), len(task.DeviceIDs)))
}
