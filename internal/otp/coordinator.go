package otp

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/cache"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/telemetry"
)

// Default configuration values.
const (
	defaultCodeTTL      = 60 * time.Second
	defaultWaitTimeout  = 5 * time.Minute
	defaultLockTTL      = 5 * time.Second
	defaultPauseTTL     = 24 * time.Hour
	defaultRetention    = 10 * time.Minute
	defaultPollInterval = time.Second
	lockAttempts        = 10
	lockRetryDelay      = 20 * time.Millisecond
)

// Префиксы ключей в кэше.
const (
	prefixCode     = "otp:code:"
	prefixWait     = "otp:wait:"
	prefixWaitLock = "otp:waitlock:"
	prefixPause    = "otp:pause:"
)

// State — состояние группы с точки зрения вызывающего.
type State string

const (
	// StateReady — код есть в кэше.
	StateReady State = "ready"

	// StateWaiting — ждём код от оператора.
	StateWaiting State = "waiting"

	// StateTimeout — ожидание истекло.
	StateTimeout State = "timeout"
)

// Result — ответ GetOrRequire.
type Result struct {
	State State
	Code  string
	Wait  *WaitState
}

// WaitState — состояние ожидания кода для группы.
// Хранится одной записью с TTL; запись о коде хранится отдельно,
// «ready» означает лишь наличие кода в кэше.
type WaitState struct {
	Status     State       `json:"status"`
	Notified   bool        `json:"notified"`
	TaskID     uuid.UUID   `json:"task_id"`
	PendingIDs []uuid.UUID `json:"pending_ids"`
	StartedAt  time.Time   `json:"started_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// PauseState — какие устройства задачи заблокированы в группе.
type PauseState struct {
	TaskID    uuid.UUID       `json:"task_id"`
	Key       domain.GroupKey `json:"key"`
	DeviceIDs []uuid.UUID     `json:"device_ids"`
	Stage     string          `json:"stage"`
	PausedAt  time.Time       `json:"paused_at"`
}

// Coordinator — распределённый координатор OTP по ключу (отдел, группа).
//
// Все операции безопасны для конкурентных вызывающих из разных процессов:
// учёт wait-state выполняется под коротким lock'ом в кэше (SetNX),
// сам код читается без блокировки.
type Coordinator struct {
	cache        cache.Cache
	codeTTL      time.Duration
	waitTimeout  time.Duration
	lockTTL      time.Duration
	pauseTTL     time.Duration
	retention    time.Duration
	pollInterval time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// Config — конфигурация Coordinator.
type Config struct {
	CodeTTL      time.Duration // время жизни кода (default: 60s)
	WaitTimeout  time.Duration // сколько ждать код (default: 5m)
	LockTTL      time.Duration // время жизни wait-lock (default: 5s)
	PauseTTL     time.Duration // время жизни pause-записи (default: 24h)
	Retention    time.Duration // сколько хранить истёкший wait-state (default: 10m)
	PollInterval time.Duration // опрос кэша в WaitForCode (default: 1s)

	// Now — источник времени (для тестов).
	Now func() time.Time

	Logger *slog.Logger
}

// NewCoordinator создаёт новый Coordinator.
func NewCoordinator(c cache.Cache, cfg Config) *Coordinator {
	co := &Coordinator{
		cache:        c,
		codeTTL:      cfg.CodeTTL,
		waitTimeout:  cfg.WaitTimeout,
		lockTTL:      cfg.LockTTL,
		pauseTTL:     cfg.PauseTTL,
		retention:    cfg.Retention,
		pollInterval: cfg.PollInterval,
		now:          cfg.Now,
		logger:       cfg.Logger,
	}
	if co.codeTTL <= 0 {
		co.codeTTL = defaultCodeTTL
	}
	if co.waitTimeout <= 0 {
		co.waitTimeout = defaultWaitTimeout
	}
	if co.lockTTL <= 0 {
		co.lockTTL = defaultLockTTL
	}
	if co.pauseTTL <= 0 {
		co.pauseTTL = defaultPauseTTL
	}
	if co.retention <= 0 {
		co.retention = defaultRetention
	}
	if co.pollInterval <= 0 {
		co.pollInterval = defaultPollInterval
	}
	if co.now == nil {
		co.now = time.Now
	}
	if co.logger == nil {
		co.logger = slog.Default()
	}
	return co
}

// WaitTimeout возвращает настроенное время ожидания кода.
func (c *Coordinator) WaitTimeout() time.Duration {
	return c.waitTimeout
}

// GetOrRequire возвращает код группы, если он в кэше. Иначе создаёт
// (один раз, под lock'ом) или читает wait-state. Истёкшее ожидание
// переводится в timeout при чтении и остаётся таким до истечения TTL
// записи, поэтому новые устройства не открывают новое окно ожидания.
//
// Ошибки кэша не возвращаются: без кэша группа считается ожидающей.
func (c *Coordinator) GetOrRequire(ctx context.Context, key domain.GroupKey, taskID uuid.UUID, pendingIDs []uuid.UUID) Result {
	logger := telemetry.WithGroup(c.logger, key.String())

	if code, ok := c.code(ctx, key); ok {
		return Result{State: StateReady, Code: code}
	}

	if ws, ok := c.readWait(ctx, key); ok {
		return c.observe(ctx, key, ws, pendingIDs)
	}

	var out Result
	locked := c.withLock(ctx, key, taskID, func() {
		// Повторная проверка под lock'ом: wait-state мог создать другой вызывающий.
		if ws, ok := c.readWait(ctx, key); ok {
			out = c.observeLocked(ctx, key, ws, pendingIDs)
			return
		}
		now := c.now()
		ws := &WaitState{
			Status:     StateWaiting,
			TaskID:     taskID,
			PendingIDs: slices.Clone(pendingIDs),
			StartedAt:  now,
			ExpiresAt:  now.Add(c.waitTimeout),
		}
		c.writeWait(ctx, key, ws)
		logger.Info("otp wait started", "task_id", taskID, "pending", len(pendingIDs), "expires_at", ws.ExpiresAt)
		out = Result{State: StateWaiting, Wait: ws}
	})
	if !locked {
		if ws, ok := c.readWait(ctx, key); ok {
			return c.stateOf(ws)
		}
		return Result{State: StateWaiting}
	}
	return out
}

// observe обрабатывает существующий wait-state: ленивый переход в timeout
// и добавление новых pending-устройств.
func (c *Coordinator) observe(ctx context.Context, key domain.GroupKey, ws *WaitState, pendingIDs []uuid.UUID) Result {
	if !c.needsUpdate(ws, pendingIDs) {
		return c.stateOf(ws)
	}
	out := c.stateOf(ws)
	c.withLock(ctx, key, ws.TaskID, func() {
		fresh, ok := c.readWait(ctx, key)
		if !ok {
			return
		}
		out = c.observeLocked(ctx, key, fresh, pendingIDs)
	})
	return out
}

// observeLocked вызывается под wait-lock.
func (c *Coordinator) observeLocked(ctx context.Context, key domain.GroupKey, ws *WaitState, pendingIDs []uuid.UUID) Result {
	if !c.needsUpdate(ws, pendingIDs) {
		return c.stateOf(ws)
	}
	if ws.Status == StateWaiting && !c.now().Before(ws.ExpiresAt) {
		ws.Status = StateTimeout
		c.logger.Warn("otp wait timed out", "group", key.String(), "task_id", ws.TaskID)
	}
	for _, id := range pendingIDs {
		if !slices.Contains(ws.PendingIDs, id) {
			ws.PendingIDs = append(ws.PendingIDs, id)
		}
	}
	c.writeWait(ctx, key, ws)
	return c.stateOf(ws)
}

func (c *Coordinator) needsUpdate(ws *WaitState, pendingIDs []uuid.UUID) bool {
	if ws.Status == StateWaiting && !c.now().Before(ws.ExpiresAt) {
		return true
	}
	for _, id := range pendingIDs {
		if !slices.Contains(ws.PendingIDs, id) {
			return true
		}
	}
	return false
}

func (c *Coordinator) stateOf(ws *WaitState) Result {
	if ws.Status == StateTimeout || !c.now().Before(ws.ExpiresAt) {
		return Result{State: StateTimeout, Wait: ws}
	}
	return Result{State: StateWaiting, Wait: ws}
}

// Cache сохраняет свежий код группы и очищает её wait-state и lock.
// Возвращает TTL кода или 0, если кэш недоступен: вызывающий обязан
// считать 0 ошибкой.
func (c *Coordinator) Cache(ctx context.Context, key domain.GroupKey, code string) time.Duration {
	if err := c.cache.Set(ctx, prefixCode+key.String(), []byte(code), c.codeTTL); err != nil {
		c.logger.Error("failed to cache otp code", "group", key.String(), "error", err)
		return 0
	}
	if err := c.cache.Delete(ctx, prefixWait+key.String(), prefixWaitLock+key.String()); err != nil {
		c.logger.Warn("failed to clear otp wait state", "group", key.String(), "error", err)
	}
	c.logger.Info("otp code cached", "group", key.String(), "ttl", c.codeTTL)
	return c.codeTTL
}

// Invalidate удаляет код группы, если он равен code (устройство его отвергло).
func (c *Coordinator) Invalidate(ctx context.Context, key domain.GroupKey, code string) {
	current, ok := c.code(ctx, key)
	if !ok || current != code {
		return
	}
	if err := c.cache.Delete(ctx, prefixCode+key.String()); err != nil {
		c.logger.Warn("failed to invalidate otp code", "group", key.String(), "error", err)
	}
}

// ShouldNotify возвращает true не более одного раза за время жизни
// wait-state группы.
func (c *Coordinator) ShouldNotify(ctx context.Context, key domain.GroupKey, taskID uuid.UUID) bool {
	notify := false
	c.withLock(ctx, key, taskID, func() {
		ws, ok := c.readWait(ctx, key)
		if !ok || ws.Notified {
			return
		}
		ws.Notified = true
		c.writeWait(ctx, key, ws)
		notify = true
	})
	return notify
}

// RecordPause сохраняет pause-запись задачи для группы.
func (c *Coordinator) RecordPause(ctx context.Context, key domain.GroupKey, taskID uuid.UUID, deviceIDs []uuid.UUID, stage string) bool {
	ps := PauseState{
		TaskID:    taskID,
		Key:       key,
		DeviceIDs: slices.Clone(deviceIDs),
		Stage:     stage,
		PausedAt:  c.now(),
	}
	data, err := json.Marshal(ps)
	if err != nil {
		c.logger.Error("failed to marshal pause state", "error", err)
		return false
	}
	if err := c.cache.Set(ctx, pauseKey(key, taskID), data, c.pauseTTL); err != nil {
		c.logger.Warn("failed to record pause", "group", key.String(), "task_id", taskID, "error", err)
		return false
	}
	return true
}

// GetPause возвращает pause-запись задачи для группы.
func (c *Coordinator) GetPause(ctx context.Context, key domain.GroupKey, taskID uuid.UUID) (*PauseState, bool) {
	return c.readPause(ctx, pauseKey(key, taskID))
}

// ClearPause удаляет pause-запись задачи для группы.
func (c *Coordinator) ClearPause(ctx context.Context, key domain.GroupKey, taskID uuid.UUID) {
	if err := c.cache.Delete(ctx, pauseKey(key, taskID)); err != nil {
		c.logger.Warn("failed to clear pause", "group", key.String(), "task_id", taskID, "error", err)
	}
}

// Resume одной операцией удаляет pause-запись, wait-state и wait-lock группы.
func (c *Coordinator) Resume(ctx context.Context, key domain.GroupKey, taskID uuid.UUID) bool {
	err := c.cache.Delete(ctx,
		pauseKey(key, taskID),
		prefixWait+key.String(),
		prefixWaitLock+key.String(),
	)
	if err != nil {
		c.logger.Warn("failed to resume otp group", "group", key.String(), "task_id", taskID, "error", err)
		return false
	}
	return true
}

// PausesForGroup возвращает pause-записи всех задач, ждущих код группы.
func (c *Coordinator) PausesForGroup(ctx context.Context, key domain.GroupKey) []PauseState {
	keys, err := c.cache.Scan(ctx, prefixPause)
	if err != nil {
		c.logger.Warn("failed to scan pauses", "group", key.String(), "error", err)
		return nil
	}
	var out []PauseState
	for _, k := range keys {
		if !strings.HasSuffix(k, ":"+key.String()) {
			continue
		}
		ps, ok := c.readPause(ctx, k)
		if ok && ps.Key == key {
			out = append(out, *ps)
		}
	}
	return out
}

// PromptFunc просит операторов ввести код группы.
type PromptFunc func(ctx context.Context, key domain.GroupKey, deviceIDs []uuid.UUID, expiresAt time.Time)

// WaitForCode ждёт код группы, отличный от stale, опрашивая кэш.
// Возвращает ErrWaitTimeout, когда wait-state группы истёк или прошло
// WaitTimeout с момента вызова.
//
// Пока группа ждёт, prompt вызывается не более одного раза на wait-state
// (ShouldNotify): из всех одновременно ждущих хостов группы операторов
// зовёт только один.
func (c *Coordinator) WaitForCode(ctx context.Context, key domain.GroupKey, stale string, taskID uuid.UUID, pendingIDs []uuid.UUID, prompt PromptFunc) (string, error) {
	deadline := c.now().Add(c.waitTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	prompted := prompt == nil
	for {
		r := c.GetOrRequire(ctx, key, taskID, pendingIDs)
		switch {
		case r.State == StateReady && r.Code != stale:
			telemetry.OTPWaits.WithLabelValues("code").Inc()
			return r.Code, nil
		case r.State == StateTimeout, !c.now().Before(deadline):
			telemetry.OTPWaits.WithLabelValues("timeout").Inc()
			return "", ErrWaitTimeout
		}

		if !prompted && r.State == StateWaiting {
			switch {
			case c.ShouldNotify(ctx, key, taskID):
				ids, expires := pendingIDs, deadline
				if r.Wait != nil {
					ids, expires = r.Wait.PendingIDs, r.Wait.ExpiresAt
				}
				prompt(ctx, key, slices.Clone(ids), expires)
				prompted = true
			case r.Wait != nil && r.Wait.Notified:
				prompted = true
			}
		}

		select {
		case <-ctx.Done():
			telemetry.OTPWaits.WithLabelValues("cancelled").Inc()
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// Peek возвращает закэшированный код группы, не создавая wait-state.
func (c *Coordinator) Peek(ctx context.Context, key domain.GroupKey) (string, bool) {
	return c.code(ctx, key)
}

// --- Helpers ---

func (c *Coordinator) code(ctx context.Context, key domain.GroupKey) (string, bool) {
	v, ok, err := c.cache.Get(ctx, prefixCode+key.String())
	if err != nil {
		c.logger.Warn("failed to read otp code", "group", key.String(), "error", err)
		return "", false
	}
	if !ok || len(v) == 0 {
		return "", false
	}
	return string(v), true
}

func (c *Coordinator) readWait(ctx context.Context, key domain.GroupKey) (*WaitState, bool) {
	v, ok, err := c.cache.Get(ctx, prefixWait+key.String())
	if err != nil {
		c.logger.Warn("failed to read otp wait state", "group", key.String(), "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var ws WaitState
	if err := json.Unmarshal(v, &ws); err != nil {
		c.logger.Warn("corrupt otp wait state", "group", key.String(), "error", err)
		return nil, false
	}
	return &ws, true
}

// writeWait сохраняет wait-state; запись живёт retention после дедлайна.
func (c *Coordinator) writeWait(ctx context.Context, key domain.GroupKey, ws *WaitState) {
	data, err := json.Marshal(ws)
	if err != nil {
		c.logger.Error("failed to marshal wait state", "error", err)
		return
	}
	ttl := ws.ExpiresAt.Add(c.retention).Sub(c.now())
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := c.cache.Set(ctx, prefixWait+key.String(), data, ttl); err != nil {
		c.logger.Warn("failed to write otp wait state", "group", key.String(), "error", err)
	}
}

func (c *Coordinator) readPause(ctx context.Context, k string) (*PauseState, bool) {
	v, ok, err := c.cache.Get(ctx, k)
	if err != nil {
		c.logger.Warn("failed to read pause", "key", k, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var ps PauseState
	if err := json.Unmarshal(v, &ps); err != nil {
		c.logger.Warn("corrupt pause state", "key", k, "error", err)
		return nil, false
	}
	return &ps, true
}

// withLock выполняет fn под wait-lock группы. Возвращает false,
// если lock не удалось взять за несколько попыток.
//
// Значение lock'а — токен этого захвата: если fn пережил LockTTL и lock
// взял кто-то другой, чужой lock не удаляется.
func (c *Coordinator) withLock(ctx context.Context, key domain.GroupKey, owner uuid.UUID, fn func()) bool {
	lockKey := prefixWaitLock + key.String()
	token := []byte(owner.String() + ":" + uuid.NewString())
	for attempt := 0; attempt < lockAttempts; attempt++ {
		ok, err := c.cache.SetNX(ctx, lockKey, token, c.lockTTL)
		if err != nil {
			c.logger.Warn("failed to acquire otp wait lock", "group", key.String(), "error", err)
			return false
		}
		if ok {
			defer c.unlock(ctx, key, token)
			fn()
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(lockRetryDelay):
		}
	}
	return false
}

func (c *Coordinator) unlock(ctx context.Context, key domain.GroupKey, token []byte) {
	released, err := c.cache.DeleteIf(ctx, prefixWaitLock+key.String(), token)
	if err != nil {
		c.logger.Warn("failed to release otp wait lock", "group", key.String(), "error", err)
		return
	}
	if !released {
		c.logger.Debug("otp wait lock no longer ours", "group", key.String())
	}
}

func pauseKey(key domain.GroupKey, taskID uuid.UUID) string {
	return prefixPause + taskID.String() + ":" + key.String()
}
