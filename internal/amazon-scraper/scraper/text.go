package scraper

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	numberPattern     = regexp.MustCompile(`\d[\d.,\s]*`)
	nonDigitPattern   = regexp.MustCompile(`\D`)
)

// cleanText turns non-breaking spaces into spaces and collapses whitespace.
// Input is already entity-decoded.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// truncateRunes cuts s to at most n runes without splitting a character.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}

// parsePrice reads the first number in text. The right-most '.' or ','
// followed by one or two digits is the decimal separator; all other
// separators are grouping.
func parsePrice(text string) (float64, bool) {
	m := numberPattern.FindString(text)
	m = strings.TrimRight(strings.Join(strings.Fields(m), ""), ".,")
	if m == "" {
		return 0, false
	}

	intPart, fracPart := m, ""
	if i := strings.LastIndexAny(m, ".,"); i >= 0 {
		tail := m[i+1:]
		if len(tail) == 1 || len(tail) == 2 {
			intPart, fracPart = m[:i], tail
		}
	}

	return joinPrice(intPart, fracPart)
}

// joinPrice combines a whole part such as "1,234" with a fraction such as "56".
func joinPrice(whole, fraction string) (float64, bool) {
	whole = nonDigitPattern.ReplaceAllString(whole, "")
	fraction = nonDigitPattern.ReplaceAllString(fraction, "")
	if whole == "" {
		return 0, false
	}
	s := whole
	if fraction != "" {
		s += "." + fraction
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// parseDecimal reads a plain decimal that may use a comma separator ("4,5").
func parseDecimal(s string) (float64, bool) {
	s = strings.TrimRight(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// unquoteJSON decodes the body of a JSON string literal found in page scripts.
func unquoteJSON(raw string) string {
	var s string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &s); err != nil {
		return raw
	}
	return s
}

// httpsURL upgrades protocol-relative URLs and rejects anything that is not http(s).
func httpsURL(raw string) (string, bool) {
	u := strings.TrimSpace(raw)
	switch {
	case u == "":
		return "", false
	case strings.HasPrefix(u, "//"):
		return "https:" + u, true
	case strings.HasPrefix(u, "https://"), strings.HasPrefix(u, "http://"):
		return u, true
	}
	return "", false
}
