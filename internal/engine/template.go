package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// Context — контекст для рендеринга шаблонов в конфигурации node.
//
// Используется в Go templates для доступа к данным:
//   - {{ .Inputs.port_name }} — значения входных портов node
//   - {{ .Prior.counter }}    — outputs этого node с прошлой итерации
//   - {{ .Job.param }}        — входные параметры job
//   - {{ .Env.VAR_NAME }}     — переменные окружения робота
type Context struct {
	// Job — входные параметры job.
	Job map[string]any `json:"job"`

	// Inputs — значения входных портов node.
	Inputs map[string]any `json:"inputs"`

	// Prior — outputs этого node с предыдущего выполнения.
	Prior map[string]any `json:"prior"`

	// Env — переменные окружения.
	Env map[string]string `json:"env"`
}

// NewContext создаёт контекст рендеринга для одного выполнения node.
func NewContext(job, inputs, prior map[string]any, env map[string]string) *Context {
	if job == nil {
		job = make(map[string]any)
	}
	if inputs == nil {
		inputs = make(map[string]any)
	}
	if prior == nil {
		prior = make(map[string]any)
	}
	if env == nil {
		env = make(map[string]string)
	}
	return &Context{Job: job, Inputs: inputs, Prior: prior, Env: env}
}

// isEmpty — nil или пустая строка: то, что default/coalesce
// считают отсутствием значения.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// templateFuncs — функции, доступные в шаблонах конфигурации.
var templateFuncs = template.FuncMap{
	// Строковые хелперы — прямые алиасы strings.
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
	"replace":   strings.ReplaceAll,
	"contains":  strings.Contains,
	"hasPrefix": strings.HasPrefix,
	"hasSuffix": strings.HasSuffix,

	// split "," s и join "," items: разделитель первым, чтобы
	// значение можно было передавать пайплайном
	"split": func(sep, s string) []string {
		return strings.Split(s, sep)
	},
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},

	// json сериализует значение; ошибка маршалинга попадает в вывод
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// toJSON — как json, но при ошибке молча отдаёт пустую строку
	"toJSON": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	},

	// fromJSON разбирает JSON-строку в значение
	"fromJSON": func(s string) any {
		var result any
		if err := json.Unmarshal([]byte(s), &result); err != nil {
			return nil
		}
		return result
	},

	// default "fallback" v — v, если оно непустое, иначе fallback
	"default": func(def, val any) any {
		if isEmpty(val) {
			return def
		}
		return val
	},

	// coalesce — первое непустое значение из списка
	"coalesce": func(values ...any) any {
		for _, v := range values {
			if !isEmpty(v) {
				return v
			}
		}
		return nil
	},
}

// Render рендерит строковый шаблон с контекстом.
//
// Шаблон может содержать Go template выражения:
//
//	{{ .Inputs.value }}
//	{{ .Job.user_id }}
//	{{ if .Prior.index }}...{{ end }}
func Render(tmpl string, ctx *Context) (string, error) {
	// Строки без шаблонных выражений возвращаются как есть
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("config").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// renderEach рендерит каждый элемент слайса, сохраняя его тип.
func renderEach[T any](items []T, render func(T) (T, error)) ([]T, error) {
	out := make([]T, len(items))
	for i, item := range items {
		rendered, err := render(item)
		if err != nil {
			return nil, err
		}
		out[i] = rendered
	}
	return out, nil
}

// renderMap рендерит каждое значение map, сохраняя её тип.
func renderMap[V any](m map[string]V, render func(V) (V, error)) (map[string]V, error) {
	out := make(map[string]V, len(m))
	for key, val := range m {
		rendered, err := render(val)
		if err != nil {
			return nil, err
		}
		out[key] = rendered
	}
	return out, nil
}

// RenderValue рендерит значение любого типа: строки — через Render,
// map и слайсы — поэлементно, остальное (числа, bool) — без изменений.
func RenderValue(value any, ctx *Context) (any, error) {
	if value == nil {
		return nil, nil
	}

	renderAny := func(v any) (any, error) { return RenderValue(v, ctx) }
	renderStr := func(s string) (string, error) { return Render(s, ctx) }

	switch v := value.(type) {
	case string:
		return Render(v, ctx)
	case []any:
		return renderEach(v, renderAny)
	case map[string]any:
		return renderMap(v, renderAny)
	case []string:
		return renderEach(v, renderStr)
	case map[string]string:
		return renderMap(v, renderStr)
	default:
		return value, nil
	}
}

// RenderConfig рендерит конфигурацию node.
// Обёртка над RenderValue для map[string]any.
func RenderConfig(config map[string]any, ctx *Context) (map[string]any, error) {
	if config == nil {
		return make(map[string]any), nil
	}

	rendered, err := RenderValue(config, ctx)
	if err != nil {
		return nil, err
	}

	result, ok := rendered.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected map, got %T", ErrTemplateRender, rendered)
	}

	return result, nil
}

// RenderCondition рендерит условие и трактует результат как булево значение.
// Пустая строка, "false", "0", "no" и отсутствующее значение ("<nil>",
// "<no value>") — false; всё остальное — true.
func RenderCondition(condition string, ctx *Context) (bool, error) {
	if condition == "" {
		return false, nil
	}

	rendered, err := Render(condition, ctx)
	if err != nil {
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(rendered)) {
	case "", "false", "0", "no", "<nil>", "<no value>":
		return false, nil
	default:
		return true, nil
	}
}
