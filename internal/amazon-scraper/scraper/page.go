package scraper

import (
	"encoding/json"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page is a parsed product page. Structured data and labelled rows are
// decoded lazily, once.
type Page struct {
	raw string
	doc *goquery.Document

	ld       []any
	ldParsed bool

	labels       map[string]string
	labelsParsed bool
}

func NewPage(html string) *Page {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader("<html></html>"))
	}
	return &Page{raw: html, doc: doc}
}

// text returns the cleaned text of the first element matching selector
// that has any.
func (p *Page) text(selector string) (string, bool) {
	var out string
	p.doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		out = cleanText(s.Text())
		return out == ""
	})
	return out, out != ""
}

// attr returns the first non-empty value of attribute name under selector.
func (p *Page) attr(selector, name string) (string, bool) {
	var out string
	p.doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr(name)
		out = strings.TrimSpace(v)
		return out == ""
	})
	return out, out != ""
}

// attrs returns every non-empty value of attribute name under selector.
func (p *Page) attrs(selector, name string) []string {
	var out []string
	p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if v := strings.TrimSpace(s.AttrOr(name, "")); v != "" {
			out = append(out, v)
		}
	})
	return out
}

// structured looks up path inside the page's JSON-LD Product objects.
func (p *Page) structured(path ...string) (any, bool) {
	if !p.ldParsed {
		p.ldParsed = true
		p.doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
			var v any
			if err := json.Unmarshal([]byte(s.Text()), &v); err == nil {
				p.ld = append(p.ld, productNodes(v)...)
			}
		})
	}
	for _, product := range p.ld {
		if v, ok := lookupPath(product, path); ok {
			return v, true
		}
	}
	return nil, false
}

func (p *Page) structuredString(path ...string) (string, bool) {
	v, ok := p.structured(path...)
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		s := cleanText(html.UnescapeString(t))
		return s, s != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	}
	return "", false
}

func (p *Page) structuredNumber(parse func(string) (float64, bool), path ...string) (float64, bool) {
	v, ok := p.structured(path...)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		return parse(t)
	}
	return 0, false
}

// productNodes collects every object typed Product, including ones nested
// in @graph or array wrappers. Keys are visited in sorted order.
func productNodes(v any) []any {
	var out []any
	switch t := v.(type) {
	case map[string]any:
		if isProductType(t["@type"]) {
			return append(out, t)
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, productNodes(t[k])...)
		}
	case []any:
		for _, child := range t {
			out = append(out, productNodes(child)...)
		}
	}
	return out
}

func isProductType(v any) bool {
	switch t := v.(type) {
	case string:
		return t == "Product"
	case []any:
		for _, s := range t {
			if s == "Product" {
				return true
			}
		}
	}
	return false
}

// lookupPath follows path key by key from v. Arrays along the way, such
// as a list of offers, are searched in order.
func lookupPath(v any, path []string) (any, bool) {
	if len(path) == 0 {
		return v, true
	}
	switch t := v.(type) {
	case map[string]any:
		child, ok := t[path[0]]
		if !ok {
			return nil, false
		}
		return lookupPath(child, path[1:])
	case []any:
		for _, child := range t {
			if r, ok := lookupPath(child, path); ok {
				return r, true
			}
		}
	}
	return nil, false
}

// match applies re to the raw HTML and returns the first capture group,
// JSON-unescaped and entity-decoded.
func (p *Page) match(re *regexp.Regexp) (string, bool) {
	m := re.FindStringSubmatch(p.raw)
	if len(m) < 2 {
		return "", false
	}
	v := strings.TrimSpace(html.UnescapeString(unquoteJSON(m[1])))
	return v, v != ""
}

// stringProp matches "key":"value" inside inline scripts.
func stringProp(key string) *regexp.Regexp {
	return regexp.MustCompile(`"` + regexp.QuoteMeta(key) + `"\s*:\s*"((?:[^"\\]|\\.)*)"`)
}

// numberProp matches "key":12.5, "key":"12.5" or "key":"12,5" inside inline
// scripts. The capture keeps grouping and decimal separators.
func numberProp(key string) *regexp.Regexp {
	return regexp.MustCompile(`"` + regexp.QuoteMeta(key) + `"\s*:\s*"?(\d[\d.,]*)`)
}

var (
	directionMarks = strings.NewReplacer("\u200e", "", "\u200f", "")
	labelNoise     = strings.NewReplacer("\u200e", "", "\u200f", "", ":", "")
)

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(labelNoise.Replace(cleanText(s))))
}

// labelled looks up a value in the product's key/value detail sections by
// label, case-insensitively. The first label that has a value wins.
func (p *Page) labelled(labels ...string) (string, bool) {
	if !p.labelsParsed {
		p.labelsParsed = true
		p.labels = p.collectLabels()
	}
	for _, l := range labels {
		if v, ok := p.labels[strings.ToLower(l)]; ok {
			return v, true
		}
	}
	return "", false
}

func (p *Page) collectLabels() map[string]string {
	out := map[string]string{}
	put := func(label, value string) {
		k := normalizeLabel(label)
		v := cleanText(directionMarks.Replace(value))
		v = strings.TrimSpace(strings.TrimPrefix(v, ":"))
		if k == "" || v == "" {
			return
		}
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}

	// Product overview table at the top of the page.
	p.doc.Find("#productOverview_feature_div tr, #poExpander tr").Each(func(_ int, s *goquery.Selection) {
		cells := s.Find("td")
		if cells.Length() >= 2 {
			put(cells.Eq(0).Text(), cells.Eq(1).Text())
		}
	})

	// Technical details and additional information tables.
	p.doc.Find("#productDetails_techSpec_section_1 tr, #productDetails_detailBullets_sections1 tr, table.prodDetTable tr").Each(func(_ int, s *goquery.Selection) {
		put(s.Find("th").First().Text(), s.Find("td").First().Text())
	})

	// Detail bullets list: <span class="a-text-bold">Label :</span><span>Value</span>
	p.doc.Find("#detailBullets_feature_div li").Each(func(_ int, s *goquery.Selection) {
		bold := s.Find("span.a-text-bold").First()
		if bold.Length() == 0 {
			return
		}
		put(bold.Text(), bold.Next().Text())
	})

	// Left/right grid rows used for fabric and care sections.
	p.doc.Find(".a-fixed-left-grid-inner").Each(func(_ int, s *goquery.Selection) {
		put(s.Find(".a-col-left").First().Text(), s.Find(".a-col-right").First().Text())
	})

	return out
}
