package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"text/template"

	"github.com/shaiso/Harvest/internal/domain"
)

// AllScrapers — ключ Decision.Parameters с параметрами для всех scrapers решения.
const AllScrapers = "*"

// ParamResolver вычисляет параметры вызова scraper'а.
type ParamResolver interface {
	Resolve(d *domain.Decision, scraperName string) (map[string]any, error)
}

// TemplateContext — данные, доступные в шаблонах параметров.
//
//	{{ .Inputs.business_date }}
//	{{ .Workflow }} / {{ .DecisionID }} / {{ .Scraper }} / {{ .BusinessDate }}
type TemplateContext struct {
	Inputs       map[string]any
	Workflow     string
	DecisionID   string
	Scraper      string
	BusinessDate string
}

// TemplateResolver собирает параметры из трёх слоёв (каждый следующий
// перекрывает предыдущий): Defaults, Parameters["*"], Parameters[scraper].
// Строковые значения рендерятся как Go templates.
type TemplateResolver struct {
	// Defaults — параметры по умолчанию для всех workflow.
	Defaults map[string]any
}

var _ ParamResolver = TemplateResolver{}

// Resolve реализует ParamResolver.
func (r TemplateResolver) Resolve(d *domain.Decision, scraperName string) (map[string]any, error) {
	merged := make(map[string]any, len(r.Defaults))
	maps.Copy(merged, r.Defaults)
	maps.Copy(merged, d.Parameters[AllScrapers])
	maps.Copy(merged, d.Parameters[scraperName])

	inputs := d.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	tctx := &TemplateContext{
		Inputs:       inputs,
		Workflow:     d.WorkflowName,
		DecisionID:   d.DecisionID,
		Scraper:      scraperName,
		BusinessDate: d.BusinessDate,
	}

	rendered, err := renderValue(merged, tctx)
	if err != nil {
		return nil, fmt.Errorf("scraper %s: %w", scraperName, err)
	}
	return rendered.(map[string]any), nil
}

// templateFuncs — функции, доступные в шаблонах.
var templateFuncs = template.FuncMap{
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — значение по умолчанию для пустого аргумента
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	"join":    func(sep string, items []string) string { return strings.Join(items, sep) },
	"lower":   strings.ToLower,
	"upper":   strings.ToUpper,
	"trim":    strings.TrimSpace,
	"replace": strings.ReplaceAll,
}

// render рендерит строковый шаблон. Строки без "{{" возвращаются как есть.
func render(tmpl string, tctx *TemplateContext) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, tctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}
	return buf.String(), nil
}

// renderValue рекурсивно рендерит строки внутри map и slice.
func renderValue(value any, tctx *TemplateContext) (any, error) {
	switch v := value.(type) {
	case string:
		return render(v, tctx)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := renderValue(val, tctx)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			result[key] = rendered
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := renderValue(val, tctx)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	default:
		return value, nil
	}
}
