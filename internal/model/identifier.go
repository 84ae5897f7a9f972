package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// IdentifierLength is the length of a normalized ISRC.
const IdentifierLength = 12

// Identifier is a normalized ISRC: country (2) + registrant (3) + year (2) + designation (5).
type Identifier string

// ParseIdentifier strips separators, upper-cases and validates raw. The
// returned error always wraps ErrInvalidIdentifier.
func ParseIdentifier(raw string) (Identifier, error) {
	cleaned := strings.NewReplacer("-", "", " ", "").Replace(strings.TrimSpace(raw))
	cleaned = strings.ToUpper(cleaned)

	if len(cleaned) != IdentifierLength {
		return "", eris.Wrapf(ErrInvalidIdentifier, "expected %d characters, got %d", IdentifierLength, len(cleaned))
	}
	for i := 0; i < len(cleaned); i++ {
		if !isAlnum(cleaned[i]) {
			return "", eris.Wrapf(ErrInvalidIdentifier, "non-alphanumeric character %q at position %d", cleaned[i], i)
		}
	}

	// Segment shape: CC letters, registrant alphanumeric, YY and designation digits.
	for i := 0; i < 2; i++ {
		if !isLetter(cleaned[i]) {
			return "", eris.Wrapf(ErrInvalidIdentifier, "country segment %q must be letters", cleaned[:2])
		}
	}
	for i := 5; i < IdentifierLength; i++ {
		if !isDigit(cleaned[i]) {
			return "", eris.Wrapf(ErrInvalidIdentifier, "year/designation segment %q must be digits", cleaned[5:])
		}
	}

	return Identifier(cleaned), nil
}

// String returns the normalized form.
func (id Identifier) String() string { return string(id) }

// Country returns the two-letter country segment.
func (id Identifier) Country() string { return id.segment(0, 2) }

// Registrant returns the three-character registrant segment.
func (id Identifier) Registrant() string { return id.segment(2, 5) }

// Year returns the two-digit reference year segment.
func (id Identifier) Year() string { return id.segment(5, 7) }

// Designation returns the five-digit designation code.
func (id Identifier) Designation() string { return id.segment(7, 12) }

// Hyphenated returns the display form CC-XXX-YY-NNNNN.
func (id Identifier) Hyphenated() string {
	if len(id) != IdentifierLength {
		return string(id)
	}
	return id.Country() + "-" + id.Registrant() + "-" + id.Year() + "-" + id.Designation()
}

func (id Identifier) segment(from, to int) string {
	if len(id) < to {
		return ""
	}
	return string(id[from:to])
}

func isAlnum(c byte) bool  { return isLetter(c) || isDigit(c) }
func isLetter(c byte) bool { return c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
