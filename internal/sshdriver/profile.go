package sshdriver

import "strings"

// Profile — особенности CLI платформы.
type Profile struct {
	Name string

	// Setup — команды в начале каждой сессии (отключение пейджинга).
	Setup []string

	// ConfigEnter / ConfigExit — вход в режим конфигурации и выход с фиксацией.
	ConfigEnter []string
	ConfigExit  []string

	// ShowConfig — команда вывода текущей конфигурации.
	ShowConfig string

	// ErrorMarkers — признаки ошибки команды в выводе.
	ErrorMarkers []string

	// Rollback — конфигурацию можно восстановить повторным применением снимка.
	Rollback bool
}

var profiles = map[string]Profile{
	"cisco_ios": {
		Name:         "cisco_ios",
		Setup:        []string{"terminal length 0", "terminal width 511"},
		ConfigEnter:  []string{"configure terminal"},
		ConfigExit:   []string{"end", "write memory"},
		ShowConfig:   "show running-config",
		ErrorMarkers: []string{"% Invalid input", "% Incomplete command", "% Ambiguous command"},
		Rollback:     true,
	},
	"arista_eos": {
		Name:         "arista_eos",
		Setup:        []string{"terminal length 0"},
		ConfigEnter:  []string{"configure terminal"},
		ConfigExit:   []string{"end", "write memory"},
		ShowConfig:   "show running-config",
		ErrorMarkers: []string{"% Invalid input", "% Incomplete command"},
		Rollback:     true,
	},
	"huawei_vrp": {
		Name:         "huawei_vrp",
		Setup:        []string{"screen-length 0 temporary"},
		ConfigEnter:  []string{"system-view immediately"},
		ConfigExit:   []string{"return", "save force"},
		ShowConfig:   "display current-configuration",
		ErrorMarkers: []string{"Error:", "Unrecognized command"},
		Rollback:     true,
	},
	"h3c_comware": {
		Name:         "h3c_comware",
		Setup:        []string{"screen-length disable"},
		ConfigEnter:  []string{"system-view"},
		ConfigExit:   []string{"return", "save force"},
		ShowConfig:   "display current-configuration",
		ErrorMarkers: []string{"% Unrecognized command", "% Incomplete command"},
		Rollback:     true,
	},
	"juniper_junos": {
		Name:         "juniper_junos",
		Setup:        []string{"set cli screen-length 0"},
		ConfigEnter:  []string{"configure exclusive"},
		ConfigExit:   []string{"commit and-quit"},
		ShowConfig:   "show configuration | display set",
		ErrorMarkers: []string{"syntax error", "error: commit failed", "unknown command"},
		Rollback:     true,
	},
	"mikrotik_routeros": {
		Name:         "mikrotik_routeros",
		ShowConfig:   "/export",
		ErrorMarkers: []string{"bad command name", "syntax error"},
	},
}

// generic — профиль для неизвестных платформ: только чтение конфигурации.
var generic = Profile{
	Name:         "generic",
	ShowConfig:   "show running-config",
	ErrorMarkers: []string{"% Invalid input"},
}

// ProfileFor возвращает профиль платформы (generic для неизвестных).
func ProfileFor(platform string) Profile {
	if p, ok := profiles[strings.ToLower(platform)]; ok {
		return p
	}
	return generic
}

// SupportsRollback сообщает, поддерживает ли платформа откат снимком.
func SupportsRollback(platform string) bool {
	return ProfileFor(platform).Rollback
}

// outputError возвращает первый маркер ошибки, найденный в выводе.
func (p Profile) outputError(output string) (string, bool) {
	for _, m := range p.ErrorMarkers {
		if strings.Contains(output, m) {
			return m, true
		}
	}
	return "", false
}
