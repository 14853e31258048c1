package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/otp"
	"github.com/shaiso/Netomata/internal/sshdriver"
	"github.com/shaiso/Netomata/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Default configuration values.
const (
	defaultConcurrency = 10
	defaultRetryDelay  = 2 * time.Second
	maxCodeRenewals    = 3
)

// Host — хост для Runner'а.
type Host struct {
	// Name — ключ результата; должен быть уникален в пределах вызова.
	Name string

	DeviceID uuid.UUID

	// OTP — группа для хостов с OTP, вводимым оператором. nil — без OTP-ожидания.
	OTP *domain.GroupKey
}

// HostFunc — операция над одним хостом. secret — пароль на эту попытку.
type HostFunc func(ctx context.Context, h Host, secret string) (string, error)

// SecretFunc возвращает пароль хоста на очередную попытку.
// *otp.RequiredError означает, что кода для группы хоста ещё нет.
type SecretFunc func(ctx context.Context, h Host) (string, error)

// Waiter ждёт свежий OTP-код группы.
type Waiter interface {
	WaitForCode(ctx context.Context, key domain.GroupKey, stale string, taskID uuid.UUID, pendingIDs []uuid.UUID, prompt otp.PromptFunc) (string, error)
	Invalidate(ctx context.Context, key domain.GroupKey, code string)
}

// Runner выполняет операцию над набором хостов с ограничением конкурентности.
//
// Ошибки отдельных хостов не прерывают вызов: они становятся данными
// в Results. Повторы — фиксированная задержка, ограниченное число раз.
// Ожидание OTP-кода попытку не расходует.
type Runner struct {
	concurrency    int
	retries        int
	retryDelay     time.Duration
	otpWaitTimeout time.Duration
	waiter         Waiter
	logger         *slog.Logger
}

// Config — конфигурация Runner.
type Config struct {
	Concurrency    int           // максимум одновременных операций (default: 10)
	Retries        int           // повторы после первой попытки (default: 0)
	RetryDelay     time.Duration // задержка между попытками (default: 2s)
	OTPWaitTimeout time.Duration // сколько ждать OTP-код (0 — как у Waiter)

	// Waiter — координатор OTP. nil — ошибки аутентификации не ждут код.
	Waiter Waiter

	Logger *slog.Logger
}

// New создаёт новый Runner.
func New(cfg Config) *Runner {
	r := &Runner{
		concurrency:    cfg.Concurrency,
		retries:        cfg.Retries,
		retryDelay:     cfg.RetryDelay,
		otpWaitTimeout: cfg.OTPWaitTimeout,
		waiter:         cfg.Waiter,
		logger:         cfg.Logger,
	}
	if r.concurrency <= 0 {
		r.concurrency = defaultConcurrency
	}
	if r.retries < 0 {
		r.retries = 0
	}
	if r.retryDelay <= 0 {
		r.retryDelay = defaultRetryDelay
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Options — параметры одного вызова Run.
type Options struct {
	// TaskID — задача, от имени которой ждём OTP.
	TaskID uuid.UUID

	// Secrets — источник паролей. nil — пустой пароль.
	Secrets SecretFunc

	// Prompt зовёт операторов, пока хост ждёт OTP-код. Waiter вызывает
	// его не более одного раза на ожидание группы.
	Prompt otp.PromptFunc

	// OnProgress вызывается после завершения каждого хоста.
	// Паника в callback'е логируется и не влияет на вызов.
	OnProgress func(done, total int, res HostResult)
}

type runKey struct{}

// Run выполняет op для всех хостов, не более Concurrency одновременно,
// и возвращает ровно по одному результату на хост.
//
// Вызов Run из операции другого Run — ошибка использования: Run паникует
// с ErrNestedRun. Повтор имени хоста — паника с ErrDuplicateHost.
func (r *Runner) Run(ctx context.Context, hosts []Host, op HostFunc, opts Options) Results {
	if ctx.Value(runKey{}) != nil {
		panic(ErrNestedRun)
	}
	seen := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		if _, dup := seen[h.Name]; dup {
			panic(fmt.Errorf("%w: %q", ErrDuplicateHost, h.Name))
		}
		seen[h.Name] = struct{}{}
	}
	ctx = context.WithValue(ctx, runKey{}, true)

	inv := &invocation{
		runner: r,
		op:     op,
		opts:   opts,
		total:  len(hosts),
	}

	results := make(map[string]HostResult, len(hosts))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, h := range hosts {
		g.Go(func() error {
			res := inv.runHost(ctx, h)

			mu.Lock()
			results[h.Name] = res
			mu.Unlock()

			telemetry.RunnerHostResults.WithLabelValues(string(res.Status)).Inc()
			inv.progress(res)
			return nil
		})
	}
	_ = g.Wait()

	return Results{byName: results}
}

// invocation — состояние одного вызова Run.
type invocation struct {
	runner *Runner
	op     HostFunc
	opts   Options
	total  int

	// cancelled выставляется, когда ожидание OTP истекло; остальные хосты
	// проверяют его перед каждой попыткой подключения.
	cancelled atomic.Bool
	done      atomic.Int32
}

func (inv *invocation) runHost(ctx context.Context, h Host) HostResult {
	r := inv.runner
	res := HostResult{Name: h.Name, DeviceID: h.DeviceID}
	logger := r.logger.With("host", h.Name, "task_id", inv.opts.TaskID)

	telemetry.RunnerInFlight.Inc()
	defer telemetry.RunnerInFlight.Dec()

	var secret string
	haveSecret := false
	retries, renewals := 0, 0

	for {
		if inv.cancelled.Load() {
			res.Status = StatusSkipped
			res.Err = ErrCancelled
			return res
		}

		if !haveSecret {
			s, err := inv.secret(ctx, h)
			if err != nil {
				if _, need := otp.AsRequired(err); !need || h.OTP == nil || r.waiter == nil {
					res.Status = StatusFailed
					res.Err = err
					res.Outcome = sshdriver.OutcomeError
					logger.Warn("host credential failed", "error", err)
					return res
				}
				code, werr := inv.waitCode(ctx, h, "")
				if werr != nil {
					return inv.otpFailed(ctx, res, h, werr)
				}
				s = code
			}
			secret, haveSecret = s, true
		}

		res.Attempts++
		out, err := inv.call(ctx, h, secret)
		res.Output = out
		res.Err = err
		res.Outcome = sshdriver.OutcomeOf(err)
		if err == nil {
			res.Status = StatusOK
			return res
		}

		if res.Outcome == sshdriver.OutcomeAuthFailed {
			if h.OTP == nil || r.waiter == nil {
				res.Status = StatusFailed
				logger.Warn("host authentication failed", "attempt", res.Attempts, "error", err)
				return res
			}
			if renewals >= maxCodeRenewals {
				res.Status = StatusFailed
				res.Err = fmt.Errorf("%w: %v", ErrTooManyCodes, err)
				logger.Warn("otp code rejected repeatedly", "attempt", res.Attempts, "error", err)
				return res
			}
			renewals++
			r.waiter.Invalidate(ctx, *h.OTP, secret)
			logger.Info("otp code rejected, waiting for a fresh one", "group", h.OTP.String())

			code, werr := inv.waitCode(ctx, h, secret)
			if werr != nil {
				return inv.otpFailed(ctx, res, h, werr)
			}
			secret = code
			continue
		}

		if retries >= r.retries || ctx.Err() != nil {
			res.Status = StatusFailed
			logger.Warn("host operation failed",
				"attempt", res.Attempts,
				"outcome", res.Outcome.String(),
				"error", err,
			)
			return res
		}
		retries++

		logger.Debug("retrying host", "attempt", res.Attempts, "delay", r.retryDelay, "error", err)
		select {
		case <-time.After(r.retryDelay):
		case <-ctx.Done():
			res.Status = StatusFailed
			res.Err = ctx.Err()
			return res
		}
		haveSecret = false
	}
}

// call вызывает операцию, превращая её панику в ошибку хоста.
// ErrNestedRun пробрасывается дальше.
func (inv *invocation) call(ctx context.Context, h Host, secret string) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			if perr, ok := p.(error); ok && errors.Is(perr, ErrNestedRun) {
				panic(p)
			}
			err = fmt.Errorf("host operation panicked: %v", p)
		}
	}()
	return inv.op(ctx, h, secret)
}

func (inv *invocation) secret(ctx context.Context, h Host) (string, error) {
	if inv.opts.Secrets == nil {
		return "", nil
	}
	return inv.opts.Secrets(ctx, h)
}

func (inv *invocation) waitCode(ctx context.Context, h Host, stale string) (string, error) {
	if t := inv.runner.otpWaitTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	return inv.runner.waiter.WaitForCode(ctx, *h.OTP, stale, inv.opts.TaskID, []uuid.UUID{h.DeviceID}, inv.opts.Prompt)
}

// otpFailed оформляет результат хоста, не дождавшегося кода. Истечение
// ожидания отменяет ещё не начатые хосты этого вызова.
func (inv *invocation) otpFailed(ctx context.Context, res HostResult, h Host, err error) HostResult {
	res.Err = err
	res.Outcome = sshdriver.OutcomeAuthFailed
	if ctx.Err() != nil {
		res.Status = StatusFailed
		return res
	}
	res.Status = StatusOTPTimeout
	res.OTPGroup = h.OTP
	if inv.cancelled.CompareAndSwap(false, true) {
		inv.runner.logger.Warn("otp wait timed out, cancelling queued hosts",
			"host", h.Name,
			"group", h.OTP.String(),
			"task_id", inv.opts.TaskID,
		)
	}
	return res
}

func (inv *invocation) progress(res HostResult) {
	done := int(inv.done.Add(1))
	if inv.opts.OnProgress == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			inv.runner.logger.Warn("progress callback panicked", "host", res.Name, "panic", p)
		}
	}()
	inv.opts.OnProgress(done, inv.total, res)
}
