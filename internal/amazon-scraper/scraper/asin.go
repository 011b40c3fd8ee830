package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// marketplaces are the regional storefront domains a product URL may point at.
var marketplaces = []string{
	"amazon.com", "amazon.co.uk", "amazon.de", "amazon.fr", "amazon.it",
	"amazon.es", "amazon.nl", "amazon.se", "amazon.pl", "amazon.com.be",
	"amazon.ie", "amazon.ca", "amazon.com.mx", "amazon.com.br", "amazon.co.jp",
	"amazon.in", "amazon.com.au", "amazon.sg", "amazon.ae", "amazon.sa",
	"amazon.com.tr", "amazon.eg",
}

var (
	asinPattern        = regexp.MustCompile(`(?i)^B[0-9A-Z]{9}$`)
	dpPathPattern      = regexp.MustCompile(`(?i)/dp/(B[0-9A-Z]{9})(?:[/?#]|$)`)
	gpProductPattern   = regexp.MustCompile(`(?i)/gp/product/(B[0-9A-Z]{9})(?:[/?#]|$)`)
	hostPrefixPattern  = regexp.MustCompile(`^(?:www\.|m\.|smile\.)`)
	queryASINParamKeys = []string{"asin", "ASIN"}
)

// NormalizeInput turns a product URL or raw ASIN into a validated identifier.
// Raw codes are assigned defaultDomain; URLs keep their own marketplace.
func NormalizeInput(raw, defaultDomain string) (ProductIdentifier, error) {
	input := strings.TrimSpace(raw)
	if input == "" {
		return ProductIdentifier{}, fmt.Errorf("%w: empty input", ErrInvalidInput)
	}

	if asinPattern.MatchString(input) {
		return ProductIdentifier{ASIN: strings.ToUpper(input), Domain: defaultDomain}, nil
	}

	candidate := input
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}

	u, err := url.Parse(candidate)
	if err != nil || u.Hostname() == "" {
		return ProductIdentifier{}, fmt.Errorf("%w: %q is not a URL or ASIN", ErrInvalidInput, input)
	}

	host := strings.ToLower(u.Hostname())
	domain, ok := marketplaceDomain(host)
	if !ok {
		return ProductIdentifier{}, fmt.Errorf("%w: %s is not an Amazon marketplace", ErrInvalidInput, host)
	}

	asin := asinFromURL(u)
	if asin == "" {
		return ProductIdentifier{}, fmt.Errorf("%w: no product code in %q", ErrInvalidInput, input)
	}

	return ProductIdentifier{ASIN: asin, Domain: domain}, nil
}

func asinFromURL(u *url.URL) string {
	path := u.EscapedPath()
	for _, re := range []*regexp.Regexp{dpPathPattern, gpProductPattern} {
		if m := re.FindStringSubmatch(path); len(m) > 1 {
			return strings.ToUpper(m[1])
		}
	}

	q := u.Query()
	for _, key := range queryASINParamKeys {
		if v := strings.TrimSpace(q.Get(key)); asinPattern.MatchString(v) {
			return strings.ToUpper(v)
		}
	}
	return ""
}

// marketplaceDomain maps a host onto its storefront: "www.amazon.co.uk" -> "amazon.co.uk".
// Hosts outside the known marketplaces are rejected.
func marketplaceDomain(host string) (string, bool) {
	host = strings.TrimSuffix(hostPrefixPattern.ReplaceAllString(host, ""), ".")
	for _, d := range marketplaces {
		if host == d || strings.HasSuffix(host, "."+d) {
			return d, true
		}
	}
	return "", false
}

// IsMarketplace reports whether domain is a known Amazon storefront.
func IsMarketplace(domain string) bool {
	d, ok := marketplaceDomain(strings.ToLower(domain))
	return ok && d == strings.ToLower(domain)
}

// Variants lists the equivalent product URLs in the order they are tried.
func Variants(id ProductIdentifier) []string {
	return []string{
		fmt.Sprintf("https://www.%s/dp/%s", id.Domain, id.ASIN),
		fmt.Sprintf("https://www.%s/gp/product/%s", id.Domain, id.ASIN),
		fmt.Sprintf("https://m.%s/dp/%s", id.Domain, id.ASIN),
	}
}
