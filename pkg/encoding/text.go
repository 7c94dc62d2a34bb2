package encoding

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/currency"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName returns s in NFC form with surrounding whitespace trimmed and
// internal runs of whitespace collapsed. Invalid UTF-8 bytes are dropped.
func NormalizeName(s string) string {
	if s == "" {
		return ""
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = norm.NFC.String(s)
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// CurrencyCode canonicalises an ISO 4217 code. ok is false for unknown codes.
func CurrencyCode(s string) (string, bool) {
	u, err := currency.ParseISO(strings.TrimSpace(s))
	if err != nil {
		return strings.ToUpper(strings.TrimSpace(s)), false
	}
	return u.String(), true
}
