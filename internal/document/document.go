// Package document canonicalizes tax and identity documents so every lookup and
// map key in the import agrees on what "the same entity" means.
package document

import (
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

const (
	// IndividualLen is the digit count of an individual taxpayer document.
	IndividualLen = 11
	// OrganizationLen is the digit count of an organization document.
	OrganizationLen = 14
)

// ErrInvalid is returned when a document does not reduce to 11 or 14 digits.
var ErrInvalid = eris.New("document: invalid")

// Kind tags a document (and the legal entity behind it) as individual or organization.
type Kind int

const (
	KindUnknown Kind = iota
	KindIndividual
	KindOrganization
)

// String returns the lowercase kind name used in the target schema.
func (k Kind) String() string {
	switch k {
	case KindIndividual:
		return "individual"
	case KindOrganization:
		return "organization"
	default:
		return "unknown"
	}
}

// Document is a normalized, digits-only identity document. The zero value is invalid.
type Document struct {
	digits string
}

// String returns the digits, or "invalid" for the zero value.
func (d Document) String() string {
	if d.digits == "" {
		return "invalid"
	}
	return d.digits
}

// Key returns the map key form of the document ("" when invalid).
func (d Document) Key() string { return d.digits }

// Valid reports whether the document reduced to 11 or 14 digits.
func (d Document) Valid() bool { return d.digits != "" }

// Kind derives the entity kind from the digit count.
func (d Document) Kind() Kind {
	switch len(d.digits) {
	case IndividualLen:
		return KindIndividual
	case OrganizationLen:
		return KindOrganization
	default:
		return KindUnknown
	}
}

// Digits folds s with NFKC (so fullwidth digits become ASCII) and keeps only
// ASCII digits. Leading zeros are preserved.
func Digits(s string) string {
	s = norm.NFKC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Normalize reduces s to its digits and reports whether the result is a valid
// individual or organization document.
func Normalize(s string) (Document, bool) {
	d := Digits(s)
	if len(d) != IndividualLen && len(d) != OrganizationLen {
		return Document{}, false
	}
	return Document{digits: d}, true
}

// Parse is Normalize with an error for callers that propagate failures.
func Parse(s string) (Document, error) {
	d, ok := Normalize(s)
	if !ok {
		return Document{}, eris.Wrapf(ErrInvalid, "document: %q reduces to %d digits", s, len(Digits(s)))
	}
	return d, nil
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) Document {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}
