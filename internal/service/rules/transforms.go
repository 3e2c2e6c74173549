package rules

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"schemaflow/internal/domain"
)

// TransformFunc is a pure string transform applied to a coalesced value
// before validation. Transforms never touch storage or other records.
type TransformFunc func(string) (string, error)

var whitespaceRe = regexp.MustCompile(`\s+`)

// transforms is the closed registry of named transforms a rule may declare.
var transforms = map[string]TransformFunc{
	"":               func(s string) (string, error) { return s, nil },
	"trim":           func(s string) (string, error) { return strings.TrimSpace(s), nil },
	"lower":          func(s string) (string, error) { return strings.ToLower(strings.TrimSpace(s)), nil },
	"upper":          func(s string) (string, error) { return strings.ToUpper(strings.TrimSpace(s)), nil },
	"digits":         digitsTransform,
	"first_name":     firstNameTransform,
	"last_name":      lastNameTransform,
	"normalize_name": normalizeNameTransform,
	"parse_date":     parseDateTransform,
}

// KnownTransform reports whether name is a registered transform.
func KnownTransform(name string) bool {
	_, ok := transforms[name]
	return ok
}

// ApplyTransform runs the named transform on value.
func ApplyTransform(name, value string) (string, error) {
	fn, ok := transforms[name]
	if !ok {
		return "", domain.ErrValidation("unknown transform %q", name)
	}
	return fn(value)
}

// digitsTransform keeps only digit runes, normalizing phone-like values.
func digitsTransform(s string) (string, error) {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", domain.ErrValidation("no digits in %q", s)
	}
	return b.String(), nil
}

// firstNameTransform extracts the leading name token from a full name.
func firstNameTransform(s string) (string, error) {
	first, _, err := splitName(s)
	return first, err
}

// lastNameTransform extracts everything after the leading name token.
func lastNameTransform(s string) (string, error) {
	_, last, err := splitName(s)
	return last, err
}

// splitName handles both "First Last" and "Last, First" shapes.
func splitName(s string) (first, last string, err error) {
	s = whitespaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
	if s == "" {
		return "", "", domain.ErrValidation("empty name")
	}

	if parts := strings.SplitN(s, ",", 2); len(parts) == 2 {
		return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[0]), nil
	}

	parts := strings.SplitN(s, " ", 2)
	if len(parts) == 1 {
		return parts[0], "", nil
	}
	return parts[0], parts[1], nil
}

// normalizeNameTransform lowercases, strips diacritics, collapses
// whitespace, and rewrites "Last, First" to "first last".
func normalizeNameTransform(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = stripDiacritics(s)
	s = whitespaceRe.ReplaceAllString(s, " ")

	if parts := strings.SplitN(s, ",", 2); len(parts) == 2 {
		first := strings.TrimSpace(parts[1])
		last := strings.TrimSpace(parts[0])
		if first != "" && last != "" {
			s = first + " " + last
		}
	}
	return strings.TrimSpace(s), nil
}

// stripDiacritics decomposes to NFD and drops combining marks, so "José"
// becomes "Jose".
func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// dateLayouts are tried in order by parse_date. Output is always the ISO
// date.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

func parseDateTransform(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", domain.ErrValidation("unrecognized date %q", s)
}
