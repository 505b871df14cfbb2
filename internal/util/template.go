package util

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

var funcs = template.FuncMap{
	"default": func(defaultVal any, val any) any {
		if val == nil || val == "" {
			return defaultVal
		}
		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},
	"score": func(v float64) string {
		return fmt.Sprintf("%.1f", v)
	},
}

// MustParse parses a named template with the shared helper funcs. It panics
// on malformed input and is meant for package level template constants.
func MustParse(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(funcs).Parse(text))
}

// Execute renders a parsed template to a string.
func Execute(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}
