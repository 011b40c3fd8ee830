package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeInput(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantASIN   string
		wantDomain string
	}{
		{"raw code", "B0EXAMPLE1", "B0EXAMPLE1", "amazon.co.uk"},
		{"raw code lowercase and padded", "  b0example1 \n", "B0EXAMPLE1", "amazon.co.uk"},
		{"dp path", "https://www.amazon.co.uk/dp/B0EXAMPLE1", "B0EXAMPLE1", "amazon.co.uk"},
		{"dp path with slug and ref", "https://www.amazon.co.uk/SomeTitle/dp/B0TESTXYZ9/ref=xyz", "B0TESTXYZ9", "amazon.co.uk"},
		{"lowercase dp code", "https://www.amazon.de/dp/b0example1?th=1", "B0EXAMPLE1", "amazon.de"},
		{"gp product path", "https://www.amazon.com/gp/product/B0EXAMPLE1/", "B0EXAMPLE1", "amazon.com"},
		{"query parameter", "https://www.amazon.fr/some/page?asin=B0EXAMPLE1&tag=x", "B0EXAMPLE1", "amazon.fr"},
		{"mobile host", "https://m.amazon.de/dp/B0EXAMPLE1", "B0EXAMPLE1", "amazon.de"},
		{"missing scheme", "www.amazon.co.uk/dp/B0EXAMPLE1", "B0EXAMPLE1", "amazon.co.uk"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := NormalizeInput(tt.input, "amazon.co.uk")
			require.NoError(t, err)
			assert.Equal(t, tt.wantASIN, id.ASIN)
			assert.Equal(t, tt.wantDomain, id.Domain)
		})
	}
}

func TestNormalizeInput_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", "   "},
		{"wrong first letter", "A0EXAMPLE1"},
		{"too short", "B0EXAMPLE"},
		{"too long", "B0EXAMPLE12"},
		{"non marketplace host", "https://example.com/dp/B0EXAMPLE1"},
		{"marketplace lookalike path", "https://evil.test/amazon.co.uk/dp/B0EXAMPLE1"},
		{"amazon prefixed foreign host", "https://amazon.attacker.example/dp/B0TESTXYZ9"},
		{"marketplace as subdomain", "https://www.amazon.co.uk.attacker.example/dp/B0TESTXYZ9"},
		{"unknown amazon tld", "https://www.amazon.invalid/dp/B0TESTXYZ9"},
		{"short link host", "https://amzn.to/3abcdEF"},
		{"no product code", "https://www.amazon.co.uk/s?k=mixer"},
		{"code with wrong prefix in path", "https://www.amazon.co.uk/dp/0123456789"},
		{"garbage", "::not a url::"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeInput(tt.input, "amazon.co.uk")
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestVariants(t *testing.T) {
	id := ProductIdentifier{ASIN: "B0EXAMPLE1", Domain: "amazon.de"}

	assert.Equal(t, []string{
		"https://www.amazon.de/dp/B0EXAMPLE1",
		"https://www.amazon.de/gp/product/B0EXAMPLE1",
		"https://m.amazon.de/dp/B0EXAMPLE1",
	}, Variants(id))
	assert.Equal(t, "https://www.amazon.de/dp/B0EXAMPLE1", id.CanonicalURL())
}

func TestMarketplaceDomain(t *testing.T) {
	tests := map[string]string{
		"www.amazon.co.uk":   "amazon.co.uk",
		"smile.amazon.com":   "amazon.com",
		"m.amazon.de":        "amazon.de",
		"amazon.fr":          "amazon.fr",
		"music.amazon.co.jp": "amazon.co.jp",
		"www.amazon.com.au":  "amazon.com.au",
	}
	for host, want := range tests {
		got, ok := marketplaceDomain(host)
		assert.True(t, ok, host)
		assert.Equal(t, want, got, host)
	}

	for _, host := range []string{"amazon.attacker.example", "amazon.com.attacker.example", "notamazon.com"} {
		_, ok := marketplaceDomain(host)
		assert.False(t, ok, host)
	}
}

func TestIsMarketplace(t *testing.T) {
	assert.True(t, IsMarketplace("amazon.co.uk"))
	assert.True(t, IsMarketplace("amazon.de"))
	assert.False(t, IsMarketplace("www.amazon.de"))
	assert.False(t, IsMarketplace("amazon.attacker.example"))
	assert.False(t, IsMarketplace("example.com"))
}
