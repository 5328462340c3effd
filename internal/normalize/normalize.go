// Package normalize holds the two string canonicalizations the fill engine relies on.
// Key matches row identity; OptionText matches option labels. They are not interchangeable.
package normalize

import "strings"

// Key turns a human-entered name into a lookup key: hyphens removed, surrounding
// whitespace trimmed. "Smith-Jones" and "SmithJones" share a key.
func Key(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "-", ""))
}

// OptionText lower-cases text and collapses every whitespace run to one space.
func OptionText(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
