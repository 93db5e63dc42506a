// Package redact provides utilities for redacting sensitive information from strings
// before they are logged or returned in error responses. It covers the secrets this
// service handles: caller identity tokens, webhook tokens, farm credentials and
// access tokens, and notification email addresses.
package redact

import "regexp"

// Constants for redaction placeholders
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedIdentityPlaceholder   = "[REDACTED_IDENTITY]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedJWTPlaceholder        = "[REDACTED_JWT]"
	RedactedEmailPlaceholder      = "[REDACTED_EMAIL]"
	RedactedStackPlaceholder      = "[STACK_TRACE_REDACTED]"
)

// rule pairs a pattern with its replacement template (regexp.Expand syntax).
type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// rules are applied in order; earlier rules must not produce text matched by later ones.
var rules = []rule{
	// Identity tokens: 32 hex chars, "|", 64 hex chars
	{regexp.MustCompile(`\b[0-9a-fA-F]{32}\|[0-9a-fA-F]{64}\b`), RedactedIdentityPlaceholder},

	// JWT token pattern - the farm API issues JWT access and refresh tokens
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), RedactedJWTPlaceholder},

	// "Authorization: Token xxx" and "Bearer xxx"
	{regexp.MustCompile(`(?i)\b(token|bearer) [A-Za-z0-9_\-.~+/=]{8,}`), "${1} " + RedactedKeyPlaceholder},

	// Secrets passed as query parameters, e.g. the webhook token
	{regexp.MustCompile(`(?i)\b(token|access_token|refresh_token|api_key|password)=[^&\s"]+`), "${1}=" + RedactionPlaceholder},

	// Credentials in headers or JSON payloads
	{regexp.MustCompile(`(?i)"?\b(password|passwd|username)"?\s*[:=]\s*"?[^"\s,&}]+"?`), RedactedCredentialPlaceholder},

	// Email addresses
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), RedactedEmailPlaceholder},

	// Stack trace fragments
	{regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`), RedactedStackPlaceholder},
}

// String redacts sensitive information from the input string
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.replacement)
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
