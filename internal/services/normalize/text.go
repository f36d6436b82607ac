package normalize

import "strings"

// CleanReference trims a reference and collapses inner whitespace
func CleanReference(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CleanName collapses whitespace in a person's name
func CleanName(parts ...string) string {
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// NameTokens lower-cases a name and splits it into tokens of at least minLen runes
func NameTokens(name string, minLen int) []string {
	fields := strings.Fields(strings.ToLower(name))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,'-")
		if len([]rune(f)) >= minLen {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
