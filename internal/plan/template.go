package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/shaiso/Hivemind/internal/domain"
)

// Context — контекст для рендеринга input'ов назначений.
//
// Используется в Go templates для доступа к данным:
//   - {{ .Params.param_name }}
//   - {{ .Tasks.data_retrieval.Output.field }}
//   - {{ .Env.VAR_NAME }}
type Context struct {
	// Params — входные параметры request'а.
	Params map[string]any `json:"params"`

	// Tasks — результаты завершённых задач (department → TaskContext).
	Tasks map[string]*TaskContext `json:"tasks"`

	// Env — переменные окружения.
	Env map[string]string `json:"env"`
}

// TaskContext — результат выполнения задачи для использования в шаблонах.
type TaskContext struct {
	// Output — выходные данные задачи.
	Output map[string]any `json:"output"`

	// Status — терминальный статус: "COMPLETED", "FAILED".
	Status string `json:"status"`
}

// NewContext создаёт новый контекст с параметрами request'а.
func NewContext(params map[string]any) *Context {
	if params == nil {
		params = make(map[string]any)
	}
	return &Context{
		Params: params,
		Tasks:  make(map[string]*TaskContext),
		Env:    make(map[string]string),
	}
}

// AddTaskResult добавляет результат задачи department'а в контекст.
func (c *Context) AddTaskResult(dept domain.Department, output map[string]any, status domain.TaskStatus) {
	if output == nil {
		output = make(map[string]any)
	}
	c.Tasks[dept.String()] = &TaskContext{
		Output: output,
		Status: string(status),
	}
}

// SetEnv устанавливает переменную окружения.
func (c *Context) SetEnv(key, value string) {
	c.Env[key] = value
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

	// coalesce — возвращает первое непустое значение
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

	// fromJSON — парсит JSON строку
	"fromJSON": func(s string) any {
		var result any
		if err := json.Unmarshal([]byte(s), &result); err != nil {
			return nil
		}
		return result
	},

	// join — объединяет слайс строк
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},

	// split — разбивает строку на слайс
	"split": func(sep, s string) []string {
		return strings.Split(s, sep)
	},

	// contains — проверяет, содержит ли строка подстроку
	"contains": strings.Contains,

	// lower — приводит к нижнему регистру
	"lower": strings.ToLower,

	// upper — приводит к верхнему регистру
	"upper": strings.ToUpper,

	// trim — удаляет пробелы по краям
	"trim": strings.TrimSpace,
}

// Render рендерит строковый шаблон с контекстом.
//
// Шаблон может содержать Go template выражения:
//
//	{{ .Params.period }}
//	{{ .Tasks.data_retrieval.Output.records | json }}
func Render(tmpl string, ctx *Context) (string, error) {
	// Строки без шаблонных выражений возвращаем как есть
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// RenderValue рендерит произвольное значение.
// Рекурсивно обрабатывает map и slice.
func RenderValue(value any, ctx *Context) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch v := value.(type) {
	case string:
		return Render(v, ctx)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	case []string:
		result := make([]string, len(v))
		for i, val := range v {
			rendered, err := Render(val, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	default:
		// Для остальных типов (int, float, bool) возвращаем как есть
		return value, nil
	}
}

// RenderInput рендерит input назначения.
// Это обёртка над RenderValue для map[string]any.
func RenderInput(input map[string]any, ctx *Context) (map[string]any, error) {
	if input == nil {
		return make(map[string]any), nil
	}

	rendered, err := RenderValue(input, ctx)
	if err != nil {
		return nil, err
	}

	result, ok := rendered.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected map, got %T", ErrTemplateRender, rendered)
	}

	return result, nil
}
