package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go templates
// with {{.VAR_NAME}} syntax. Plain $ is left untouched so regex chat patterns
// ("^vip.*$") and passwords survive expansion.
//
// Examples:
//   - api_key: "{{.WX_NORTH_API_KEY}}"
//   - dsn: "postgres://wxgate:{{.DB_PASSWORD}}@{{.DB_HOST}}:5432/wxgate"
//   - chat_pattern: "regex:order_[0-9]+$"  (preserved literally)
//
// Missing variables expand to the empty string; validation catches required
// fields that end up empty. Malformed templates pass the input through
// unchanged so the YAML parser can produce the clearer error.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			env[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}

	return buf.Bytes()
}
