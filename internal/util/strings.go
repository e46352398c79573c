package util

import "strings"

// SanitizeName turns a job name into a file system friendly name: lower
// case letters, digits, '-' and '_' are kept and every other run of
// characters becomes a single '_'.
func SanitizeName(s string) string {
	s = strings.ToLower(s)

	var builder strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') || r == '-' || r == '_' {
			builder.WriteRune(r)
			lastUnderscore = r == '_'
			continue
		}
		if !lastUnderscore {
			builder.WriteRune('_')
			lastUnderscore = true
		}
	}

	name := strings.Trim(builder.String(), "_")
	if name == "" {
		return "job"
	}
	return name
}
