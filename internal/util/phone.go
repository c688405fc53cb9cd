package util

import (
	"strings"

	"fax/internal/domain"
)

// NormalizeUSFax turns a US fax number into E.164. Anything other than ten
// digits, or eleven starting with 1, is rejected.
func NormalizeUSFax(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 10:
		return "+1" + digits, nil
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits, nil
	}
	return "", &domain.ValidationError{Field: "destination_fax", Msg: "Invalid US fax number. Use a 10-digit US number."}
}
