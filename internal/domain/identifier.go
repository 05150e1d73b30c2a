package domain

import "strings"

// IdentifierLength is the number of digits a normalized identifier must have.
const IdentifierLength = 11

// NormalizeIdentifier strips every non-digit character from raw and accepts the
// result only when exactly IdentifierLength digits remain.
// Parameters:
//   - raw: identifier as typed by the caller (spaces, dashes and letters allowed).
// Returns:
//   - string: the digit-only identifier.
//   - bool: false when the digit count is not IdentifierLength.
func NormalizeIdentifier(raw string) (string, bool) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	id := b.String()
	if len(id) != IdentifierLength {
		return id, false
	}
	return id, true
}

// NormalizeIdentifiers normalizes a batch, keeping submission order.
// Rejected inputs are returned untouched so callers can report them.
func NormalizeIdentifiers(raws []string) (valid []string, rejected []string) {
	for _, raw := range raws {
		if id, ok := NormalizeIdentifier(raw); ok {
			valid = append(valid, id)
		} else {
			rejected = append(rejected, raw)
		}
	}
	return valid, rejected
}
