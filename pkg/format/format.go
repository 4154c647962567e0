// Package format holds display helpers for student data. None of them change
// the stored value.
package format

import (
	"strings"
	"time"
	"unicode"
)

// Digits strips every non-digit rune from raw.
func Digits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Aadhaar renders a 12 digit Aadhaar number as "XXXX XXXX XXXX". Other input is
// returned unchanged.
func Aadhaar(raw string) string {
	d := Digits(raw)
	if len(d) != 12 {
		return raw
	}
	return d[:4] + " " + d[4:8] + " " + d[8:]
}

// Mobile renders a 10 digit mobile number as "XXXXX XXXXX". Other input is
// returned unchanged.
func Mobile(raw string) string {
	d := Digits(raw)
	if len(d) != 10 {
		return raw
	}
	return d[:5] + " " + d[5:]
}

// Initials returns the upper-cased first letters of the first and last name.
func Initials(fullName string) string {
	names := strings.Fields(fullName)
	switch len(names) {
	case 0:
		return ""
	case 1:
		return firstUpper(names[0])
	default:
		return firstUpper(names[0]) + firstUpper(names[len(names)-1])
	}
}

// Date renders a YYYY-MM-DD date as "02 Jan 2006". Unparseable input is
// returned unchanged.
func Date(raw string) string {
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return raw
	}
	return t.Format("02 Jan 2006")
}

func firstUpper(s string) string {
	for _, r := range s {
		return string(unicode.ToUpper(r))
	}
	return ""
}
