package output

import "strings"

// SanitizeFilename maps a unit name onto a safe file name: ASCII
// alphanumerics plus '.', '-' and '_' pass through, everything else
// becomes '_', runs of '_' collapse, and leading/trailing '_' are
// trimmed. Sanitization is idempotent, so the delete path resolves the
// same name the write path produced.
func SanitizeFilename(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastUnderscore := false
	for _, ch := range s {
		safe := ch >= 'a' && ch <= 'z' ||
			ch >= 'A' && ch <= 'Z' ||
			ch >= '0' && ch <= '9' ||
			ch == '.' || ch == '-' || ch == '_'
		if safe && ch != '_' {
			b.WriteRune(ch)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "untitled"
	}
	return out
}
