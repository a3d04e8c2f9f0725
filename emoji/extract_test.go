package emoji

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{
			name:     "empty input",
			text:     "",
			expected: nil,
		},
		{
			name:     "no emoji",
			text:     "hello world, just text with punctuation!",
			expected: nil,
		},
		{
			name:     "single emoji",
			text:     "hi \U0001F600",
			expected: []string{"\U0001F600"},
		},
		{
			name:     "duplicates kept in order",
			text:     "\U0001F389 party \U0001F389\U0001F389",
			expected: []string{"\U0001F389", "\U0001F389", "\U0001F389"},
		},
		{
			name:     "mixed text and emoji",
			text:     "coffee ☕ then rocket \U0001F680 launch",
			expected: []string{"☕", "\U0001F680"},
		},
		{
			name: "zwj family is one cluster",
			text: "family: \U0001F468‍\U0001F469‍\U0001F467‍\U0001F466",
			expected: []string{
				"\U0001F468‍\U0001F469‍\U0001F467‍\U0001F466",
			},
		},
		{
			name:     "flag from regional indicators",
			text:     "went to \U0001F1EF\U0001F1F5 last year",
			expected: []string{"\U0001F1EF\U0001F1F5"},
		},
		{
			name:     "skin tone modifier stays attached",
			text:     "\U0001F44D\U0001F3FD nice",
			expected: []string{"\U0001F44D\U0001F3FD"},
		},
		{
			name:     "keycap sequence",
			text:     "press 1️⃣ to continue",
			expected: []string{"1️⃣"},
		},
		{
			name:     "vs16 promoted symbol",
			text:     "warning ⚠️ ahead",
			expected: []string{"⚠️"},
		},
		{
			name:     "non-latin text without emoji",
			text:     "こんにちは世界",
			expected: nil,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, Extract(test.text))
		})
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	text := "hi \U0001F600 and \U0001F1EF\U0001F1F5 and 1️⃣"
	first := Extract(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Extract(text))
	}
}
