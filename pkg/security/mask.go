package security

import "strings"

// MaskPhone keeps the country prefix and the last four digits so support can
// still match a number against a user's profile.
//
//	+14155552671 -> +1******2671
func MaskPhone(phone string) string {
	runes := []rune(strings.TrimSpace(phone))
	if len(runes) <= 6 {
		return strings.Repeat("*", len(runes))
	}
	head, tail := 2, 4
	return string(runes[:head]) + strings.Repeat("*", len(runes)-head-tail) + string(runes[len(runes)-tail:])
}

// MaskEmail keeps the first rune of the local part and the full domain.
//
//	alice@example.com -> a****@example.com
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return strings.Repeat("*", len([]rune(email)))
	}
	local := []rune(email[:at])
	return string(local[0]) + strings.Repeat("*", len(local)-1) + email[at:]
}

// MaskAddress picks the masking rule by the shape of the address.
func MaskAddress(address string) string {
	if strings.Contains(address, "@") {
		return MaskEmail(address)
	}
	return MaskPhone(address)
}
