package util

import (
	"regexp"
	"strings"
)

var nonDial = regexp.MustCompile(`[^\d\+]+`)

// NormalizePhone strips formatting from user input and rewrites the 00
// international prefix to +. Empty input stays empty.
func NormalizePhone(raw string) string {
	s := nonDial.ReplaceAllString(strings.TrimSpace(raw), "")

	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}

	return s
}

// RecipientAddress picks the vendor address for a customer: email first,
// then a normalized phone number.
func RecipientAddress(email, phone string) string {
	if e := strings.TrimSpace(email); e != "" {
		return e
	}
	return NormalizePhone(phone)
}
