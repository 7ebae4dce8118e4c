package wsgate

import "strings"

// NormalizeRecipient turns a raw phone string into a wire recipient id:
// strip everything that is not a digit, map a leading-zero local prefix to
// the configured country code, then append the network suffix.
//
// Already-suffixed ids pass through untouched.
func NormalizeRecipient(raw, countryCode, suffix string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "@") {
		return raw
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	if strings.HasPrefix(digits, "0") && countryCode != "" {
		digits = countryCode + digits[1:]
	}
	return digits + suffix
}
