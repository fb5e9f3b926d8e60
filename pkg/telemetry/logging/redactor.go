package logging

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

const mask = "***"

var (
	bearerPattern   = regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-._~+/]+=*`)
	passwordPattern = regexp.MustCompile(`(?i)(password|passwd|pwd|token)[:=]\s*[^\s]+`)

	sensitiveKeys = []string{
		"override_token", "token", "secret", "password", "passwd",
		"authorization", "api_key", "apikey", "private_key",
	}
)

// Redactor masks secrets in log attributes. It masks the whole value of
// attributes with a sensitive key and every occurrence of a registered
// secret or credential-shaped substring in other string values.
type Redactor struct {
	secrets []string
}

// NewRedactor creates a Redactor for the given literal secrets. Empty
// values are ignored.
func NewRedactor(secrets []string) *Redactor {
	r := &Redactor{}
	for _, s := range secrets {
		if s != "" {
			r.secrets = append(r.secrets, s)
		}
	}
	// Longest first so a secret containing another is masked whole.
	sort.Slice(r.secrets, func(i, j int) bool { return len(r.secrets[i]) > len(r.secrets[j]) })
	return r
}

// RedactString masks registered secrets and credential patterns in value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, s := range r.secrets {
		value = strings.ReplaceAll(value, s, mask)
	}
	value = bearerPattern.ReplaceAllString(value, "Bearer "+mask)
	return passwordPattern.ReplaceAllString(value, "$1="+mask)
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr function.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindLogValuer {
		a.Value = a.Value.Resolve()
	}
	if isSensitiveKey(a.Key) {
		if a.Value.Kind() == slog.KindString && a.Value.String() == "" {
			return a
		}
		return slog.String(a.Key, mask)
	}
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.RedactString(a.Value.String()))
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
	}
	return a
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
