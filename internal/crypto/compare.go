package crypto

import "crypto/subtle"

// ConstantTimeEqual compares two strings without leaking where they differ.
// When the lengths differ it still runs a comparison of the same cost
// before returning false, so the length is not observable either.
func ConstantTimeEqual(provided, expected string) bool {
	a := []byte(provided)
	b := []byte(expected)
	if len(a) != len(b) {
		subtle.ConstantTimeCompare(a, a)
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
