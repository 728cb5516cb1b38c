package security

import (
	"regexp"
	"strings"
)

// Placeholder replaces secret material in audit records.
const Placeholder = "[REDACTED]"

var (
	sensitiveKeyFragments = []string{"token", "secret", "password", "passwd", "credential", "apikey", "api_key", "auth"}

	// KEY=value assignments embedded in commands, e.g. `API_TOKEN=abc cmd`.
	reEnvAssignment = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)=(\S+)`)

	sensitiveValueIndicators = []string{"bearer ", "ghp_", "sk-", "xoxb-", "xoxp-", "-----begin"}
)

// isSensitiveKey reports whether the key name likely references secret data.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// RedactCommand masks values of secret-looking environment assignments and
// token-shaped substrings before a command is written to the audit log. The
// command handed to the sandbox is never altered.
func RedactCommand(command string) string {
	redacted := reEnvAssignment.ReplaceAllStringFunc(command, func(match string) string {
		parts := reEnvAssignment.FindStringSubmatch(match)
		if len(parts) != 3 {
			return match
		}
		if isSensitiveKey(parts[1]) {
			return parts[1] + "=" + Placeholder
		}
		return match
	})

	// The placeholder contains no indicator, so each replacement strictly
	// shrinks the remaining match set and the loop terminates.
	for _, indicator := range sensitiveValueIndicators {
		for {
			idx := strings.Index(strings.ToLower(redacted), indicator)
			if idx < 0 {
				break
			}
			end := idx + len(indicator)
			for end < len(redacted) && !isSpace(redacted[end]) {
				end++
			}
			redacted = redacted[:idx] + Placeholder + redacted[end:]
		}
	}
	return redacted
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n'
}
