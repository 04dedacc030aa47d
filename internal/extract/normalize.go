// Package extract implements the text-extraction engine: it turns a binary
// image or document into raw text via a configurable OCR backend, derives
// per-field structured candidates with document-type regular expressions, and
// normalizes every candidate so later cross-validation compares like with
// like.
package extract

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonDigitRE   = regexp.MustCompile(`\D`)
	multiSpaceRE = regexp.MustCompile(`\s+`)
	datePartsRE  = regexp.MustCompile(`^(\d{1,4})[/\-.](\d{1,2})[/\-.](\d{1,4})$`)

	accentRemover = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// stripAccents removes combining marks: "José" → "Jose".
func stripAccents(s string) string {
	out, _, err := transform.String(accentRemover, s)
	if err != nil {
		return s
	}
	return out
}

// normalizeText lower-cases, strips accents, and collapses whitespace. Used
// for names, addresses, and any free-form comparison input.
func normalizeText(s string) string {
	s = stripAccents(strings.ToLower(strings.TrimSpace(s)))
	return multiSpaceRE.ReplaceAllString(s, " ")
}

// Portuguese name connectives. Clerks and OCR include them inconsistently
// ("Maria Silva" vs "Maria da Silva"), so names drop them before comparison.
var nameConnectives = map[string]struct{}{
	"da": {}, "das": {}, "de": {}, "do": {}, "dos": {}, "e": {},
}

// normalizeName is normalizeText plus connective removal.
func normalizeName(s string) string {
	words := strings.Fields(normalizeText(s))
	kept := words[:0]
	for _, w := range words {
		if _, ok := nameConnectives[w]; !ok {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// normalizeNumeric keeps digits only: "123.456.789-00" → "12345678900".
func normalizeNumeric(s string) string {
	return nonDigitRE.ReplaceAllString(s, "")
}

// normalizeDate canonicalizes a date to DD/MM/YYYY. Inputs may be DD/MM/YYYY,
// DD-MM-YYYY, DD.MM.YYYY, YYYY-MM-DD, or two-digit years. Unparseable input
// is returned trimmed as-is rather than being dropped.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	m := datePartsRE.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	a, b, c := m[1], m[2], m[3]
	var day, month, year string
	if len(a) == 4 {
		// ISO ordering.
		year, month, day = a, b, c
	} else {
		day, month, year = a, b, c
	}
	if len(year) == 2 {
		// Pivot two-digit years the way document issuers do: 00-29 → 2000s.
		if year <= "29" {
			year = "20" + year
		} else {
			year = "19" + year
		}
	}
	if len(day) == 1 {
		day = "0" + day
	}
	if len(month) == 1 {
		month = "0" + month
	}
	if _, err := time.Parse("02/01/2006", day+"/"+month+"/"+year); err != nil {
		return s
	}
	return day + "/" + month + "/" + year
}

// NormalizeValue canonicalizes one extracted candidate according to its field
// name. Numeric identifiers keep digits only, dates become DD/MM/YYYY, names
// also drop connectives, and everything else is accent-stripped lower-case.
// Cross-validation relies on
// this exact function so both sides of a comparison normalize identically.
func NormalizeValue(field, raw string) string {
	switch field {
	case FieldName:
		return normalizeName(raw)
	case FieldNumber, FieldCPF:
		return normalizeNumeric(raw)
	case FieldBirthDate, FieldIssueDate:
		return normalizeDate(raw)
	default:
		return normalizeText(raw)
	}
}
