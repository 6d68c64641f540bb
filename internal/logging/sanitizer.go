package logging

import (
	"regexp"
)

// redactionRule is one secret shape the sanitizer knows about.
type redactionRule struct {
	name string
	re   *regexp.Regexp
}

// builtinRules cover the credentials that flow through worker configs:
// LLM and search API keys, vector store DSNs and broker URLs.
var builtinRules = []redactionRule{
	{"userinfo", regexp.MustCompile(`(?i)\b[a-z][a-z0-9+.-]*://[^:/@\s]+:[^@\s]+@`)},
	{"openai", regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{"tavily", regexp.MustCompile(`tvly-[A-Za-z0-9-]{16,}`)},
	{"azure", regexp.MustCompile(`(?i)azure[_-]?openai[_-]?(api[_-]?)?key["'\s:=]+[A-Za-z0-9]{32,}`)},
	{"google", regexp.MustCompile(`AIza[a-zA-Z0-9_-]{35}`)},
	{"bearer", regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`)},
	{"api_key", regexp.MustCompile(`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`)},
	{"secret", regexp.MustCompile(`(?i)secret["'\s:=]+[a-zA-Z0-9_-]{20,}`)},
	{"password", regexp.MustCompile(`(?i)password["'\s:=]+[^\s"']{8,}`)},
}

// Sanitizer redacts secrets from log output and worker configs.
type Sanitizer struct {
	rules    []redactionRule
	redacted string
}

// NewSanitizer creates a sanitizer with the built-in rules.
func NewSanitizer() *Sanitizer {
	rules := make([]redactionRule, len(builtinRules))
	copy(rules, builtinRules)
	return &Sanitizer{rules: rules, redacted: "[REDACTED]"}
}

// Sanitize replaces every match of every rule with the placeholder.
func (s *Sanitizer) Sanitize(input string) string {
	for _, rule := range s.rules {
		input = rule.re.ReplaceAllString(input, s.redacted)
	}
	return input
}

// SanitizeMap returns a copy of m with string leaves sanitized. Nested maps
// and lists, as produced by the config loader, are walked.
func (s *Sanitizer) SanitizeMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = s.sanitizeValue(v)
	}
	return out
}

func (s *Sanitizer) sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return s.Sanitize(val)
	case map[string]interface{}:
		return s.SanitizeMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = s.sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

// AddPattern registers an extra rule.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.rules = append(s.rules, redactionRule{name: "custom", re: re})
	return nil
}

// SetRedactedPlaceholder sets the placeholder text for redacted content.
func (s *Sanitizer) SetRedactedPlaceholder(placeholder string) {
	s.redacted = placeholder
}
