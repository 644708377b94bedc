package utils

import "strings"

// NormalizePhone reduces a phone number to bare digits so that the same
// person entered as "(555) 123-4567", "555.123.4567" or "+1 555 123 4567"
// compares equal.  An 11-digit number with a leading country "1" is
// collapsed to ten digits.  The normalized form is what gets persisted
// and what the duplicate-guest guard and credit identity union compare.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits
}
