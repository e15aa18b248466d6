// Package redact masks secrets in free-form text before it is persisted to
// the delivery ledger or returned by the management API.
package redact

import "regexp"

// Replacement is substituted for every secret match.
const Replacement = "***REDACTED***"

// compiledPattern pairs a name with its pre-compiled regex.
type compiledPattern struct {
	name  string
	regex *regexp.Regexp
}

// Built-in patterns. Error strings from agent and platform calls may echo
// request headers or URLs, so the common credential carriers are covered.
var patterns = []compiledPattern{
	{"api_key_field", regexp.MustCompile(`(?i)(api[_-]?key['"]?\s*[:=]\s*['"]?)[A-Za-z0-9_\-\.]{8,}`)},
	{"bearer_token", regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9_\-\.=]{8,}`)},
	{"x_api_key_header", regexp.MustCompile(`(?i)(x-api-key['"]?\s*[:=]\s*['"]?)[A-Za-z0-9_\-\.]{8,}`)},
	{"url_key_param", regexp.MustCompile(`(?i)([?&](?:api_?key|token|secret)=)[^&\s'"]+`)},
	{"sk_token", regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{16,}\b`)},
}

// String masks every recognized secret in s.
func String(s string) string {
	for _, p := range patterns {
		if p.regex.NumSubexp() > 0 {
			s = p.regex.ReplaceAllString(s, "${1}"+Replacement)
		} else {
			s = p.regex.ReplaceAllString(s, Replacement)
		}
	}
	return s
}

// Error masks the text of err; a nil error yields an empty string.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
