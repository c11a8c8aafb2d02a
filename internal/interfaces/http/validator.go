package http

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxTenantNameLength = 128
	MaxButtonTextLength = 64
	MaxURLLength        = 512
	MaxLicenseDays      = 3650
)

var (
	botTokenPattern = regexp.MustCompile(`^\d{5,}:[A-Za-z0-9_-]{30,}$`)
	linkPattern     = regexp.MustCompile(`^(https?|tg)://\S+$`)
)

// ValidBotToken checks the "<bot id>:<secret>" shape of a bot credential.
func ValidBotToken(s string) bool {
	return botTokenPattern.MatchString(s)
}

// ValidLink accepts http(s) and tg:// links for bill buttons.
func ValidLink(s string) bool {
	return s == "" || (len(s) <= MaxURLLength && linkPattern.MatchString(s))
}

// SanitizeString removes null bytes and invalid UTF-8.
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.TrimSpace(s)
}

// TruncateString cuts s to at most maxLen runes.
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen])
}
