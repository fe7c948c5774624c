package langdetect

import "strings"

// NormalizeCode returns the lower-case primary subtag of a language tag ("en" for "en_US").
// Blank or malformed tags return "".
func NormalizeCode(raw string) string {
	tag := strings.ToLower(strings.TrimSpace(raw))
	tag = strings.ReplaceAll(tag, "_", "-")
	primary, _, _ := strings.Cut(tag, "-")
	primary = strings.TrimSpace(primary)
	if primary == "" {
		return ""
	}
	for _, r := range primary {
		if r < 'a' || r > 'z' {
			return ""
		}
	}
	return primary
}
