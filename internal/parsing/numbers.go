// Package parsing centralizes numeric extraction from scraped documents.
// The remote sites mix decimal commas, unit suffixes and textual "no data"
// markers, so all lexing lives here instead of the individual adapters.
package parsing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	numberRe  = regexp.MustCompile(`[-+]?[0-9]+(?:[.,][0-9]+)?`)
	decimalRe = regexp.MustCompile(`[-+]?[0-9]+,[0-9]+`)
	integerRe = regexp.MustCompile(`[0-9]+`)
)

// IsSentinel reports whether a raw field value is a "no data" marker.
// Such values must normalize to an absent field, never to zero.
func IsSentinel(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "", "-", "—", "n/a":
		return true
	}
	return strings.Contains(v, "нет")
}

// Float parses the first numeric token in s. A comma decimal separator is
// accepted alongside the dot.
func Float(s string) (float64, error) {
	tok := numberRe.FindString(s)
	if tok == "" {
		return 0, fmt.Errorf("no numeric token in %q", s)
	}
	return strconv.ParseFloat(strings.Replace(tok, ",", ".", 1), 64)
}

// OptionalFloat maps sentinel values to nil before numeric parsing.
func OptionalFloat(s string) (*float64, error) {
	if IsSentinel(s) {
		return nil, nil
	}
	v, err := Float(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// FirstDecimal returns the first comma-decimal number in s, e.g. "243,10".
func FirstDecimal(s string) (float64, error) {
	tok := decimalRe.FindString(s)
	if tok == "" {
		return 0, fmt.Errorf("no decimal token in %q", s)
	}
	return strconv.ParseFloat(strings.Replace(tok, ",", ".", 1), 64)
}

// FirstInt returns the first unsigned integer token in s.
func FirstInt(s string) (float64, error) {
	tok := integerRe.FindString(s)
	if tok == "" {
		return 0, fmt.Errorf("no integer token in %q", s)
	}
	return strconv.ParseFloat(tok, 64)
}

// LastInt returns the last unsigned integer token in s.
func LastInt(s string) (float64, error) {
	toks := integerRe.FindAllString(s, -1)
	if len(toks) == 0 {
		return 0, fmt.Errorf("no integer token in %q", s)
	}
	return strconv.ParseFloat(toks[len(toks)-1], 64)
}

// IntOrZero extracts the first integer token, falling back to zero for
// unparsable archive cells such as "Штиль" (calm wind).
func IntOrZero(s string) float64 {
	v, err := FirstInt(s)
	if err != nil {
		return 0
	}
	return v
}

// FloatOrZero extracts the first numeric token, falling back to zero.
func FloatOrZero(s string) float64 {
	v, err := Float(s)
	if err != nil {
		return 0
	}
	return v
}

// NumericPrefix returns the leading numeric portion of the first
// whitespace-separated field of s, cutting unit suffixes such as "м".
// "243,10м (-12 см)" becomes "243,10"; sentinel values pass through.
func NumericPrefix(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return ""
	}
	tok, _, _ := strings.Cut(fields[0], "м")
	return tok
}
