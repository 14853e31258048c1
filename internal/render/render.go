package render

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/shaiso/Netomata/internal/domain"
)

// DeviceContext — поля устройства, доступные в шаблоне.
type DeviceContext struct {
	Name       string
	Address    string
	Port       int
	Platform   string
	Department string
	Group      string
}

// Context — контекст рендеринга для одного устройства.
type Context struct {
	Device DeviceContext
	Params map[string]any
}

// NewContext собирает контекст из устройства и параметров задачи.
func NewContext(d *domain.Device, params map[string]any) *Context {
	if params == nil {
		params = make(map[string]any)
	}
	return &Context{
		Device: DeviceContext{
			Name:       d.Name,
			Address:    d.Address,
			Port:       d.Port,
			Platform:   d.Platform,
			Department: d.Department,
			Group:      d.Group,
		},
		Params: params,
	}
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — возвращает значение по умолчанию, если первый аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	"coalesce": func(values ...any) any {
		for _, v := range values {
			if v != nil {
				if s, ok := v.(string); ok && s == "" {
					continue
				}
				return v
			}
		}
		return nil
	},

	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},
	"split": func(sep, s string) []string {
		return strings.Split(s, sep)
	},
	"contains":  strings.Contains,
	"hasPrefix": strings.HasPrefix,
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
	"replace":   strings.ReplaceAll,
}

// Template — разобранный шаблон изменения.
// Разбирается один раз на задачу и исполняется для каждого устройства.
type Template struct {
	tmpl *template.Template
}

// Parse разбирает текст шаблона.
func Parse(name, text string) (*Template, error) {
	t, err := template.New(name).
		Funcs(templateFuncs).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}
	return &Template{tmpl: t}, nil
}

// Execute рендерит шаблон с контекстом устройства.
func (t *Template) Execute(ctx *Context) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}
	return buf.String(), nil
}

// Commands рендерит шаблон и нормализует результат в команды.
// Возвращает команды и их render hash.
func (t *Template) Commands(ctx *Context) ([]string, string, error) {
	text, err := t.Execute(ctx)
	if err != nil {
		return nil, "", err
	}
	cmds := Normalize(text)
	if len(cmds) == 0 {
		return nil, "", ErrEmptyRender
	}
	return cmds, Hash(cmds), nil
}

// Normalize разбивает текст на команды: обрезает пробелы по краям,
// отбрасывает пустые строки и строки-комментарии ("!" и "#").
func Normalize(text string) []string {
	var cmds []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "!") || strings.HasPrefix(line, "#") {
			continue
		}
		cmds = append(cmds, line)
	}
	return cmds
}

// Hash возвращает sha256 нормализованной последовательности команд.
func Hash(cmds []string) string {
	sum := sha256.Sum256([]byte(strings.Join(cmds, "\n")))
	return hex.EncodeToString(sum[:])
}
