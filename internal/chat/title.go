package chat

import (
	"strings"
	"unicode/utf8"
)

// TitleMaxRunes is the character budget of a derived session title.
const TitleMaxRunes = 60

// DeriveTitle returns the trimmed prompt cut to TitleMaxRunes characters.
func DeriveTitle(prompt string) string {
	t := strings.TrimSpace(prompt)
	if utf8.RuneCountInString(t) > TitleMaxRunes {
		t = strings.TrimSpace(string([]rune(t)[:TitleMaxRunes]))
	}
	if t == "" {
		return DefaultTitle
	}
	return t
}
