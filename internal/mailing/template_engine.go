package mailing

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// TemplateService handles Liquid template rendering with caching.
type TemplateService struct {
	engine *liquid.Engine
	cache  sync.Map // template source -> *liquid.Template
}

// NewTemplateService creates a new template service with custom filters.
func NewTemplateService() *TemplateService {
	ts := &TemplateService{engine: liquid.NewEngine()}
	ts.registerCustomFilters()
	return ts
}

var (
	defaultService     *TemplateService
	defaultServiceOnce sync.Once
)

// Substitute renders tpl with vars using a shared TemplateService.
func Substitute(tpl string, vars map[string]string) (string, error) {
	defaultServiceOnce.Do(func() { defaultService = NewTemplateService() })
	return defaultService.Substitute(tpl, vars)
}

// registerCustomFilters adds domain-specific Liquid filters
func (ts *TemplateService) registerCustomFilters() {
	// Default value filter: {{ first_name | default: "Friend" }}
	ts.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		strVal := fmt.Sprintf("%v", value)
		if strVal == "" || strVal == "<nil>" {
			return defaultVal
		}
		return value
	})

	// Capitalize first letter: {{ name | capitalize }}
	ts.engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
	})

	// Title case: {{ name | titlecase }}
	ts.engine.RegisterFilter("titlecase", func(s string) string {
		words := strings.Fields(strings.ToLower(s))
		for i, w := range words {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
		return strings.Join(words, " ")
	})

	// Truncate with ellipsis: {{ bio | truncate: 50 }}
	ts.engine.RegisterFilter("truncate", func(s string, length int) string {
		if len(s) <= length {
			return s
		}
		if length <= 3 {
			return s[:length]
		}
		return s[:length-3] + "..."
	})

	// URL encode: {{ email | urlencode }}
	ts.engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	// HTML escape: {{ user_input | escape }}
	ts.engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})

	// Extract domain from email: {{ email | email_domain }}
	ts.engine.RegisterFilter("email_domain", func(email string) string {
		parts := strings.Split(email, "@")
		if len(parts) == 2 {
			return parts[1]
		}
		return ""
	})
}

// Substitute replaces {{ var }} tokens in tpl with values from vars.
// Every referenced variable must be present in vars unless the token carries a
// default filter; otherwise an *UnresolvedVariableError naming the missing
// variables is returned and nothing is rendered.
func (ts *TemplateService) Substitute(tpl string, vars map[string]string) (string, error) {
	if !strings.Contains(tpl, "{{") && !strings.Contains(tpl, "{%") {
		return tpl, nil
	}
	if missing := UnresolvedVariables(tpl, vars); len(missing) > 0 {
		return "", &UnresolvedVariableError{Names: missing}
	}

	bindings := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		bindings[k] = v
	}
	return ts.Render(tpl, bindings)
}

// Render parses (or reuses) tpl and renders it with bindings. No strictness
// is applied; missing variables render as empty strings.
func (ts *TemplateService) Render(tpl string, bindings map[string]interface{}) (string, error) {
	var parsed *liquid.Template
	if cached, ok := ts.cache.Load(tpl); ok {
		parsed = cached.(*liquid.Template)
	} else {
		p, err := ts.engine.ParseString(tpl)
		if err != nil {
			return "", fmt.Errorf("parse template: %w", err)
		}
		ts.cache.Store(tpl, p)
		parsed = p
	}

	out, err := parsed.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// Matches {{ var }}, {{ var | filter }}, {{ var.nested | f: "x" }}
var varPattern = regexp.MustCompile(`\{\{-?\s*([a-zA-Z_][a-zA-Z0-9_.]*)\s*(\|[^}]*)?-?\}\}`)

var defaultFilter = regexp.MustCompile(`\|\s*default\b`)

// UnresolvedVariables returns, sorted, the variables referenced by tpl that are
// absent from vars. Tokens with a default filter and Liquid keywords are ignored.
func UnresolvedVariables(tpl string, vars map[string]string) []string {
	seen := make(map[string]bool)
	var missing []string

	for _, match := range varPattern.FindAllStringSubmatch(tpl, -1) {
		name := match[1]
		if seen[name] || isLiquidKeyword(name) {
			continue
		}
		if defaultFilter.MatchString(match[2]) {
			continue
		}
		seen[name] = true

		root := name
		if i := strings.IndexByte(name, '.'); i > 0 {
			root = name[:i]
		}
		if _, ok := vars[name]; ok {
			continue
		}
		if _, ok := vars[root]; ok {
			continue
		}
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return missing
}

// isLiquidKeyword checks if a name is a Liquid control keyword
func isLiquidKeyword(name string) bool {
	switch strings.ToLower(name) {
	case "forloop", "tablerowloop", "empty", "true", "false", "nil", "null", "blank":
		return true
	}
	return false
}
