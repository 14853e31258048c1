// Package sshtest предоставляет Driver в памяти для тестов.
package sshtest

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shaiso/Netomata/internal/sshdriver"
)

// Fake — Driver, имитирующий устройства в памяти.
//
// Конфигурация устройства хранится в Configs по адресу хоста; команды
// в режиме конфигурации заменяют её, если ApplyPush = true.
type Fake struct {
	mu sync.Mutex

	// Configs — текущая конфигурация по адресу.
	Configs map[string]string

	// Secrets — ожидаемый пароль по адресу; несовпадение — OutcomeAuthFailed.
	Secrets map[string]string

	// Fail — ошибки Run по адресу.
	Fail map[string]error

	// FailOpen — ошибки Open по адресу.
	FailOpen map[string]error

	// ApplyPush — применять ли команды конфигурации к Configs.
	ApplyPush bool

	// Delay — задержка каждого Open.
	Delay time.Duration

	opened   map[string]int
	pushes   map[string][][]string
	inFlight int
	maxIn    int
}

// NewFake создаёт Fake с пустыми картами.
func NewFake() *Fake {
	return &Fake{
		Configs:   make(map[string]string),
		Secrets:   make(map[string]string),
		Fail:      make(map[string]error),
		FailOpen:  make(map[string]error),
		ApplyPush: true,
		opened:    make(map[string]int),
		pushes:    make(map[string][][]string),
	}
}

// Open имитирует подключение.
func (f *Fake) Open(ctx context.Context, t sshdriver.Target) (sshdriver.Conn, error) {
	f.mu.Lock()
	f.opened[t.Host]++
	f.inFlight++
	f.maxIn = max(f.maxIn, f.inFlight)
	delay := f.Delay
	openErr := f.FailOpen[t.Host]
	want, hasSecret := f.Secrets[t.Host]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			f.release()
			return nil, &sshdriver.Failure{Outcome: sshdriver.OutcomeTimeout, Host: t.Host, Err: ctx.Err()}
		}
	}
	if openErr != nil {
		f.release()
		return nil, openErr
	}
	if hasSecret && want != t.Secret {
		f.release()
		return nil, &sshdriver.Failure{
			Outcome: sshdriver.OutcomeAuthFailed,
			Host:    t.Host,
			Err:     errors.New("ssh: unable to authenticate"),
		}
	}
	return &fakeConn{f: f, host: t.Host, platform: t.Platform}, nil
}

func (f *Fake) release() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

// Opened возвращает число подключений к адресу.
func (f *Fake) Opened(host string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[host]
}

// Pushes возвращает все наборы команд конфигурации, отправленные на адрес.
func (f *Fake) Pushes(host string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.pushes[host])
}

// MaxInFlight возвращает максимум одновременно открытых сессий.
func (f *Fake) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxIn
}

// SetConfig задаёт конфигурацию устройства.
func (f *Fake) SetConfig(host, config string) {
	f.mu.Lock()
	f.Configs[host] = config
	f.mu.Unlock()
}

// Config возвращает текущую конфигурацию устройства.
func (f *Fake) Config(host string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Configs[host]
}

type fakeConn struct {
	f        *Fake
	host     string
	platform string
	once     sync.Once
}

func (c *fakeConn) Run(_ context.Context, cmds []string, configMode bool) (string, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()

	if err := c.f.Fail[c.host]; err != nil {
		return "", err
	}
	if configMode {
		c.f.pushes[c.host] = append(c.f.pushes[c.host], slices.Clone(cmds))
		if c.f.ApplyPush {
			c.f.Configs[c.host] = strings.Join(cmds, "\n")
		}
		return "", nil
	}
	if len(cmds) == 1 && cmds[0] == sshdriver.ProfileFor(c.platform).ShowConfig {
		return c.f.Configs[c.host], nil
	}
	return "", nil
}

func (c *fakeConn) Close() error {
	c.once.Do(c.f.release)
	return nil
}
