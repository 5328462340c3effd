package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"hyphenated", "Smith-Jones", "SmithJones"},
		{"already clean", "SmithJones", "SmithJones"},
		{"surrounding space", "  Ada Lovelace \t", "Ada Lovelace"},
		{"multiple hyphens", "-Mary-Kate-", "MaryKate"},
		{"case preserved", "de-la-Cruz", "delaCruz"},
		{"only hyphens", "---", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.in))
		})
	}
}

func TestOptionText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"mixed case", "  Infant  ", "infant"},
		{"internal runs", "Full   Day\n Care", "full day care"},
		{"tabs", "\tPart\tTime\t", "part time"},
		{"hyphens kept", "Pre-K", "pre-k"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OptionText(tt.in))
		})
	}
}

func TestNormalizationsAreDistinct(t *testing.T) {
	// Key keeps case and strips hyphens; OptionText does the opposite.
	assert.NotEqual(t, Key("Pre-K"), OptionText("Pre-K"))
	assert.Equal(t, Key("Smith-Jones"), Key("SmithJones"))
}
