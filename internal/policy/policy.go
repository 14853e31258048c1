package policy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrViolation — команда нарушает политику.
var ErrViolation = errors.New("command policy violation")

// Violation — описание нарушения.
type Violation struct {
	Line    int    // номер команды, с 1
	Command string // команда как есть
	Rule    string // сработавшее правило
}

// Error реализует интерфейс error.
func (v *Violation) Error() string {
	return fmt.Sprintf("command %d %q: %s", v.Line, v.Command, v.Rule)
}

// Unwrap позволяет проверять errors.Is(err, ErrViolation).
func (v *Violation) Unwrap() error {
	return ErrViolation
}

// blocked — команды, запрещённые всегда.
var blocked = []*regexp.Regexp{
	regexp.MustCompile(`^reload\b`),
	regexp.MustCompile(`^reboot\b`),
	regexp.MustCompile(`^system shutdown\b`),
	regexp.MustCompile(`^erase\b`),
	regexp.MustCompile(`^format\b`),
	regexp.MustCompile(`^write erase\b`),
	regexp.MustCompile(`^delete\b.*\s/force\b`),
	regexp.MustCompile(`^reset saved-configuration\b`),
	regexp.MustCompile(`^request system (reboot|halt|power-off|zeroize)\b`),
	regexp.MustCompile(`^(un)?debug all\b`),
	regexp.MustCompile(`^no aaa\b`),
	regexp.MustCompile(`^crypto key zeroize\b`),
}

// allowed — префиксы команд, разрешённых в строгом режиме.
var allowed = []string{
	"interface", "description", "shutdown", "no shutdown",
	"vlan", "name", "switchport", "no switchport",
	"ip address", "no ip address", "ip route", "no ip route",
	"ipv6 address", "ipv6 route",
	"ntp server", "no ntp server", "logging host", "no logging host",
	"snmp-server", "no snmp-server",
	"ip access-list", "access-list", "no access-list",
	"permit", "deny", "remark",
	"router", "network", "neighbor", "no neighbor",
	"spanning-tree", "port-channel", "channel-group",
	"exit", "end", "quit", "return",
	"set", "delete", "commit", // junos
	"undo", "sysname", "port", // vrp/comware
}

// Validate проверяет команды. strict включает allowlist.
// Возвращает *Violation на первой запрещённой команде.
func Validate(cmds []string, strict bool) error {
	for i, raw := range cmds {
		cmd := strings.ToLower(strings.Join(strings.Fields(raw), " "))
		if cmd == "" {
			continue
		}
		for _, re := range blocked {
			if re.MatchString(cmd) {
				return &Violation{Line: i + 1, Command: raw, Rule: "blocked: " + re.String()}
			}
		}
		if strict && !isAllowed(cmd) {
			return &Violation{Line: i + 1, Command: raw, Rule: "not in allowlist"}
		}
	}
	return nil
}

func isAllowed(cmd string) bool {
	for _, p := range allowed {
		if cmd == p || strings.HasPrefix(cmd, p+" ") {
			return true
		}
	}
	return false
}
