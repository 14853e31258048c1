package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultCron — расписание плановых бэкапов по умолчанию: ежедневно в 02:00.
const DefaultCron = "0 2 * * *"

// cronParser — парсер cron-выражений.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron разбирает cron-выражение расписания бэкапов.
func ParseCron(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(expr string) error {
	_, err := ParseCron(expr)
	return err
}

// NextRun вычисляет следующее время запуска в часовом поясе loc.
// Результат возвращается в UTC.
func NextRun(schedule cron.Schedule, from time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return schedule.Next(from.In(loc)).UTC()
}

// loadLocation загружает часовой пояс, при ошибке — UTC.
func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
