package utils

import (
	"crypto/rand"
	"encoding/base64"
	"regexp"
	"strings"
	"time"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripTags removes HTML tags from free-text input, keeping the inner text
// as-is. No entity re-encoding: exported views (spreadsheet, CSV) expect
// plain text, not escaped markup.
func StripTags(s string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(s, ""))
}

// RedactEmail keeps the first character and the domain so log lines stay
// correlatable without spelling out the address.
func RedactEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

func NowUTC() time.Time {
	return time.Now().UTC()
}

func RandString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf)[:n], nil
}
