// Package scheduler реализует плановые бэкапы конфигураций устройств.
//
// По cron-расписанию Scheduler снимает running-config всех активных
// устройств через Runner и сохраняет их движком бэкапов с типом scheduled.
// Устройства с ручным OTP обслуживаются только при наличии кода в кэше:
// плановый бэкап не запрашивает код у оператора.
//
// Структура:
//   - scheduler.go — основная логика Scheduler (Run, Tick)
//   - cron.go      — парсинг cron-выражений и вычисление следующего запуска
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Devices:     deviceRepo,
//	    Credentials: resolver,
//	    Backups:     engine,
//	    Runner:      run,
//	    Driver:      driver,
//	    Leader:      repo.NewAdvisoryLock(pool, lockKey),
//	    Cron:        "0 2 * * *",
//	})
//
//	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    logger.Error("scheduler stopped", "error", err)
//	}
//
// Leader Election:
//
// Лидерство подтверждается перед каждым тиком через Leader
// (pg_try_advisory_lock). Тик выполняется только лидером.
package scheduler
