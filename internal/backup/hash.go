package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// volatilePrefixes — строки, меняющиеся между снимками без изменения
// конфигурации.
var volatilePrefixes = []string{
	"building configuration",
	"current configuration :",
	"! last configuration change at",
	"! nvram config last updated at",
	"! no configuration change since last restart",
	"!time:",
	"! time:",
	"## last commit:",
	"## last changed:",
	"# last modified",
	"# generated by",
	"# software version",
}

// ContentHash возвращает sha256 конфигурации без изменчивых строк и
// пустых строк. Одинаковые по сути конфигурации дают одинаковый хеш.
func ContentHash(content string) string {
	h := sha256.New()
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" || isVolatile(line) {
			continue
		}
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func isVolatile(line string) bool {
	lower := strings.ToLower(strings.TrimSpace(line))
	// разделители секций
	if lower == "!" || lower == "#" {
		return true
	}
	for _, p := range volatilePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// ReplayCommands возвращает строки конфигурации для повторного применения
// на устройстве: без пустых, разделительных и изменчивых строк, с
// сохранением отступов. ContentHash результата, склеенного через "\n",
// равен ContentHash исходной конфигурации.
func ReplayCommands(content string) []string {
	var cmds []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" || isVolatile(line) {
			continue
		}
		cmds = append(cmds, line)
	}
	return cmds
}
