package domain

import "strings"

// NormalizeDigits strips the separators people type into card numbers and CVVs
// (spaces and dashes). Other characters are kept so validation can reject them.
func NormalizeDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
