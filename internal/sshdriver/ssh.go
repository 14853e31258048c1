package sshdriver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Default configuration values.
const (
	defaultConnectTimeout = 15 * time.Second
	defaultCommandTimeout = 2 * time.Minute
)

// SSH — Driver поверх golang.org/x/crypto/ssh.
//
// Каждый Run открывает интерактивную shell-сессию с PTY: сетевые ОС
// не поддерживают exec-канал единообразно, а режим конфигурации
// живёт только внутри одной сессии.
type SSH struct {
	connectTimeout time.Duration
	commandTimeout time.Duration
	hostKeys       ssh.HostKeyCallback
	logger         *slog.Logger
}

// Config — конфигурация SSH драйвера.
type Config struct {
	ConnectTimeout time.Duration // таймаут подключения (default: 15s)
	CommandTimeout time.Duration // таймаут одного Run (default: 2m)

	// KnownHostsFile — файл known_hosts. Пусто — ключи хостов не проверяются.
	KnownHostsFile string

	Logger *slog.Logger
}

// New создаёт SSH драйвер.
func New(cfg Config) (*SSH, error) {
	d := &SSH{
		connectTimeout: cfg.ConnectTimeout,
		commandTimeout: cfg.CommandTimeout,
		logger:         cfg.Logger,
	}
	if d.connectTimeout <= 0 {
		d.connectTimeout = defaultConnectTimeout
	}
	if d.commandTimeout <= 0 {
		d.commandTimeout = defaultCommandTimeout
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}

	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		d.hostKeys = cb
	} else {
		d.logger.Warn("ssh host key verification disabled")
		d.hostKeys = ssh.InsecureIgnoreHostKey()
	}
	return d, nil
}

// Open подключается к устройству.
func (d *SSH) Open(ctx context.Context, t Target) (Conn, error) {
	addr := t.Addr()
	cfg := &ssh.ClientConfig{
		User: t.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(t.Secret),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = t.Secret
				}
				return answers, nil
			}),
		},
		HostKeyCallback: d.hostKeys,
		Timeout:         d.connectTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.connectTimeout)
	defer cancel()

	var dialer net.Dialer
	raw, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, classify(addr, fmt.Errorf("dial: %w", err))
	}

	// Handshake ограничен тем же дедлайном, что и dial.
	if deadline, ok := dialCtx.Deadline(); ok {
		raw.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(raw, addr, cfg)
	if err != nil {
		raw.Close()
		return nil, classify(addr, fmt.Errorf("handshake: %w", err))
	}
	raw.SetDeadline(time.Time{})

	return &sshConn{
		client:  ssh.NewClient(c, chans, reqs),
		addr:    addr,
		profile: ProfileFor(t.Platform),
		timeout: d.commandTimeout,
	}, nil
}

type sshConn struct {
	client  *ssh.Client
	addr    string
	profile Profile
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Run выполняет команды в shell-сессии и возвращает весь вывод.
func (c *sshConn) Run(ctx context.Context, cmds []string, configMode bool) (string, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", classify(c.addr, fmt.Errorf("new session: %w", err))
	}
	defer session.Close()

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}
	if err := session.RequestPty("vt100", 0, 511, modes); err != nil {
		return "", classify(c.addr, fmt.Errorf("request pty: %w", err))
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return "", classify(c.addr, fmt.Errorf("stdin: %w", err))
	}
	out := &lockedBuffer{}
	session.Stdout = out
	session.Stderr = out

	if err := session.Shell(); err != nil {
		return "", classify(c.addr, fmt.Errorf("shell: %w", err))
	}

	script := c.script(cmds, configMode)
	done := make(chan error, 1)
	go func() {
		if _, err := io.WriteString(stdin, script); err != nil {
			done <- err
			return
		}
		stdin.Close()
		done <- session.Wait()
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		output := out.String()
		if err != nil {
			if _, isExit := err.(*ssh.ExitError); !isExit {
				return output, classify(c.addr, fmt.Errorf("run: %w", err))
			}
		}
		if marker, bad := c.profile.outputError(output); bad {
			return output, &Failure{Outcome: OutcomeError, Host: c.addr, Output: output, Err: fmt.Errorf("device rejected command: %s", marker)}
		}
		return output, nil
	case <-timer.C:
		session.Close()
		return out.String(), &Failure{Outcome: OutcomeTimeout, Host: c.addr, Err: fmt.Errorf("command timeout after %s", c.timeout)}
	case <-ctx.Done():
		session.Close()
		return out.String(), classify(c.addr, ctx.Err())
	}
}

func (c *sshConn) script(cmds []string, configMode bool) string {
	var b bytes.Buffer
	write := func(lines []string) {
		for _, l := range lines {
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	write(c.profile.Setup)
	if configMode {
		write(c.profile.ConfigEnter)
	}
	write(cmds)
	if configMode {
		write(c.profile.ConfigExit)
	}
	b.WriteString("exit\n")
	return b.String()
}

// Close закрывает соединение.
func (c *sshConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.client.Close()
	})
	return c.closeErr
}

// lockedBuffer — буфер вывода, в который пишут stdout и stderr сессии.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
