package normalize

import (
	"html"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var strict = bluemonday.StrictPolicy()

// Clean strips markup from s, decodes entities and collapses whitespace.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(strict.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// ParseCoordinate parses a decimal degree. A decimal comma is accepted.
func ParseCoordinate(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var amountRe = regexp.MustCompile(`-?\d[\d.,]*`)

// ParseAmount reads the first number in a price-like text such as
// "1,95 €", "1.234,56 €", "2.50" or "-20%". The separator that appears last
// is taken as the decimal mark. It returns nil when no number is present.
func ParseAmount(s string) *float64 {
	m := amountRe.FindString(s)
	if m == "" {
		return nil
	}
	m = strings.TrimRight(m, ".,")

	lastDot := strings.LastIndex(m, ".")
	lastComma := strings.LastIndex(m, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			m = strings.ReplaceAll(m, ".", "")
			m = strings.Replace(m, ",", ".", 1)
		} else {
			m = strings.ReplaceAll(m, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(m, ",") > 1 {
			m = strings.ReplaceAll(m, ",", "")
		} else {
			m = strings.Replace(m, ",", ".", 1)
		}
	case strings.Count(m, ".") > 1:
		m = strings.ReplaceAll(m, ".", "")
	}

	f, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// SlugFromURL returns the product slug of a listing link. Retailer product
// paths look like /supermercado/<slug>/R-123/p or /<slug>-123.html.
func SlugFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	var slug string
	switch {
	case len(parts) >= 2:
		slug = parts[1]
	case len(parts) == 1:
		slug = parts[0]
	}
	return strings.TrimSuffix(slug, ".html")
}

var (
	lower = cases.Lower(language.Spanish)
	upper = cases.Upper(language.Spanish)
)

// NameFromSlug turns "leche-entera-carrefour-1-l" into
// "Leche entera carrefour 1 l".
func NameFromSlug(slug string) string {
	s := strings.TrimSpace(strings.ReplaceAll(slug, "-", " "))
	if s == "" {
		return ""
	}
	s = lower.String(s)
	_, size := utf8.DecodeRuneInString(s)
	return upper.String(s[:size]) + s[size:]
}
