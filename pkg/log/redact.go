package log

import (
	"regexp"
	"strconv"
	"strings"
)

// Redacted marks a log value as personal data. toFields masks it before it
// reaches any encoder.
type Redacted string

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9 ().\-]{5,}[0-9]`)
)

// Redact masks e-mail addresses and phone numbers in s. Any other text longer
// than a short preview is truncated to its length so message bodies never
// reach the logs.
func Redact(s string) string {
	if s == "" {
		return s
	}

	if emailPattern.MatchString(s) || phonePattern.MatchString(s) {
		s = emailPattern.ReplaceAllStringFunc(s, maskEmail)
		return phonePattern.ReplaceAllStringFunc(s, maskPhone)
	}

	return maskText(s)
}

func maskEmail(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 {
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}

func maskPhone(num string) string {
	digits := make([]byte, 0, len(num))
	for i := 0; i < len(num); i++ {
		if num[i] >= '0' && num[i] <= '9' {
			digits = append(digits, num[i])
		}
	}
	if len(digits) <= 2 {
		return "***"
	}
	return "***" + string(digits[len(digits)-2:])
}

func maskText(s string) string {
	n := len([]rune(s))
	if n <= 3 {
		return "***"
	}
	return "<" + strconv.Itoa(n) + " chars>"
}
