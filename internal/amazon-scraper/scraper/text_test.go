package scraper

import (
	"testing"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
		ok       bool
	}{
		{"£1,234.56", 1234.56, true},
		{"1.234,56 €", 1234.56, true},
		{"$29.99", 29.99, true},
		{"EUR 12,5", 12.5, true},
		{"1,234", 1234, true},
		{"£7", 7, true},
		{"£3.20", 3.2, true},
		{"12,99", 12.99, true},
		{"12,", 12, true},
		{"£0.00", 0, false},
		{"Currently unavailable.", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := parsePrice(tt.input)
			if ok != tt.ok || got != tt.expected {
				t.Errorf("parsePrice(%q) = %v, %v; want %v, %v", tt.input, got, ok, tt.expected, tt.ok)
			}
		})
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"  Salt & Pepper  ", "Salt & Pepper"},
		{"Tom &amp; Jerry", "Tom &amp; Jerry"},
		{"non\u00a0breaking", "non breaking"},
		{"multi\n\t  line", "multi line"},
	}

	for _, tt := range tests {
		if got := cleanText(tt.input); got != tt.expected {
			t.Errorf("cleanText(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
		ok       bool
	}{
		{"4.5", 4.5, true},
		{"4,5", 4.5, true},
		{"4,", 4, true},
		{" 3 ", 3, true},
		{"n/a", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseDecimal(tt.input)
		if ok != tt.ok || got != tt.expected {
			t.Errorf("parseDecimal(%q) = %v, %v; want %v, %v", tt.input, got, ok, tt.expected, tt.ok)
		}
	}
}

func TestHTTPSURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		ok       bool
	}{
		{"//m.media-amazon.com/a.jpg", "https://m.media-amazon.com/a.jpg", true},
		{"https://x.test/a", "https://x.test/a", true},
		{"javascript:void(0)", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := httpsURL(tt.input)
		if got != tt.expected || ok != tt.ok {
			t.Errorf("httpsURL(%q) = %q, %v; want %q, %v", tt.input, got, ok, tt.expected, tt.ok)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("äöüß", 2); got != "äö" {
		t.Errorf("truncateRunes = %q, want %q", got, "äö")
	}
	if got := truncateRunes("short", 10); got != "short" {
		t.Errorf("truncateRunes = %q, want %q", got, "short")
	}
}
