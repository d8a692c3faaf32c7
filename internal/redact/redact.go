// Package redact scrubs credentials and signed-URL tokens from strings before
// they are logged or stored as user-visible task errors.
package redact

import (
	"regexp"
)

// Placeholders substituted for redacted values
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedJWTPlaceholder        = "[REDACTED_JWT]"
	RedactedEmailPlaceholder      = "[REDACTED_EMAIL]"
	RedactedStackPlaceholder      = "[STACK_TRACE_REDACTED]"
)

type rule struct {
	re   *regexp.Regexp
	repl string
}

// rules are applied in order.
var rules = []rule{
	// Stack traces
	{regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`), RedactedStackPlaceholder},

	// PEM encoded private keys, e.g. from service account credentials
	{
		regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
		RedactedKeyPlaceholder,
	},

	// Database connection strings with user info
	{regexp.MustCompile(`(?i)(postgres|postgresql|sqlite|file)://[^@\s]+@`), RedactedCredentialPlaceholder},

	// Signature parameters of signed media and archive URLs
	{
		regexp.MustCompile(`(?i)([?&](?:token|sig|signature|x-goog-signature|x-goog-credential|googleaccessid)=)[^&\s"']+`),
		"${1}" + RedactionPlaceholder,
	},

	// Bearer tokens
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), RedactedJWTPlaceholder},

	// API and access keys
	{
		regexp.MustCompile(`(?i)(api[_-]?key|access[_-]?key|private[_-]?key)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`),
		RedactedKeyPlaceholder,
	},
	{regexp.MustCompile(`(?i)(password|passwd|pwd|secret)\s*[=:]\s*['"]?[^'"&\s]{3,}`), RedactedCredentialPlaceholder},

	// Absolute file system paths. Paths inside URLs are kept.
	{regexp.MustCompile(`(^|[\s'"(=])(/[\w.-]+){2,}`), "${1}" + RedactedPathPlaceholder},
	{regexp.MustCompile(`[A-Za-z]:\\[^\\\s]+(\\[^\\\s]+)+`), RedactedPathPlaceholder},

	// Email addresses
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), RedactedEmailPlaceholder},
}

// String redacts sensitive information from the input string
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range rules {
		result = r.re.ReplaceAllString(result, r.repl)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
