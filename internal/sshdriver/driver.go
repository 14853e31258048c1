package sshdriver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// Outcome — тег результата операции с устройством.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeAuthFailed
	OutcomeTimeout
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeAuthFailed:
		return "auth_failed"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "error"
	}
}

// Failure — неуспешный результат операции с тегом Outcome.
type Failure struct {
	Outcome Outcome
	Host    string
	Output  string
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.Host, f.Outcome, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// OutcomeOf возвращает тег результата для ошибки драйвера.
// nil — OutcomeOK; ошибки без тега — OutcomeError.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Outcome
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return OutcomeTimeout
	}
	return OutcomeError
}

// Target — параметры подключения к устройству.
type Target struct {
	Host     string
	Port     int
	Platform string
	Username string
	Secret   string
}

// Addr возвращает host:port.
func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, fmt.Sprint(port))
}

// Driver открывает сессии автоматизации с устройствами.
type Driver interface {
	Open(ctx context.Context, t Target) (Conn, error)
}

// Conn — открытая сессия с устройством.
type Conn interface {
	// Run выполняет команды. configMode — войти в режим конфигурации
	// (и выйти/зафиксировать после) по профилю платформы.
	Run(ctx context.Context, cmds []string, configMode bool) (string, error)
	Close() error
}

// FetchConfig снимает текущую конфигурацию устройства.
func FetchConfig(ctx context.Context, c Conn, platform string) (string, error) {
	p := ProfileFor(platform)
	return c.Run(ctx, []string{p.ShowConfig}, false)
}

// isAuthError распознаёт ошибку аутентификации x/crypto/ssh.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}

// classify оборачивает ошибку подключения в Failure с тегом.
func classify(host string, err error) error {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return err
	}
	outcome := OutcomeError
	var netErr net.Error
	switch {
	case isAuthError(err):
		outcome = OutcomeAuthFailed
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		outcome = OutcomeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		outcome = OutcomeTimeout
	}
	return &Failure{Outcome: outcome, Host: host, Err: err}
}
