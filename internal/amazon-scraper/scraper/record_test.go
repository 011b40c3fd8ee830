package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullRecord() ProductRecord {
	return Assemble(ProductIdentifier{ASIN: "B0EXAMPLE1", Domain: "amazon.co.uk"}, ExtractedFields{
		Title:       ptr("Stand Mixer"),
		Price:       ptr(249.99),
		ImageURL:    ptr("https://m.media-amazon.com/images/I/71Ab._AC_SL1500_.jpg"),
		Description: ptr("1000W motor\nDishwasher safe"),
		Category:    ptr("Home & Kitchen"),
		Brand:       ptr("Acme"),
		Material:    ptr("Stainless Steel"),
		Colour:      ptr("Silver"),
		Rating:      ptr(4.6),
		VideoURL:    ptr("https://videos.example.com/demo.mp4"),
	})
}

func TestProductRecord_JSONRoundTrip(t *testing.T) {
	rec := fullRecord()

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var back ProductRecord
	require.NoError(t, json.Unmarshal(data, &back))

	if diff := cmp.Diff(rec, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestProductRecord_NullFields(t *testing.T) {
	rec := Assemble(ProductIdentifier{ASIN: "B0EXAMPLE1", Domain: "amazon.de"}, ExtractedFields{Title: ptr("Only title")})

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, "B0EXAMPLE1", raw["asin"])
	assert.Equal(t, "https://www.amazon.de/dp/B0EXAMPLE1", raw["amazon_url"])
	assert.Equal(t, "Only title", raw["title"])
	for _, k := range []string{"price", "image_url", "description", "category", "brand", "material", "colour", "rating", "video_url"} {
		v, present := raw[k]
		assert.True(t, present, k)
		assert.Nil(t, v, k)
	}
	assert.Equal(t, []string{"title"}, rec.FieldsFound())
}

func TestFieldsFound(t *testing.T) {
	rec := fullRecord()
	assert.Len(t, rec.FieldsFound(), 10)
}

func TestPipelineError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
		want string
	}{
		{"invalid input", fmt.Errorf("%w: bad", ErrInvalidInput), KindInvalidInput, "valid Amazon product URL"},
		{"captcha", fmt.Errorf("%w: marker", ErrBotDetected), KindBotDetected, "CAPTCHA"},
		{"rate limited", &VariantsError{Last: &StatusError{StatusCode: http.StatusTooManyRequests}}, KindAllVariantsFailed, "rate-limiting"},
		{"unavailable", &VariantsError{Last: &StatusError{StatusCode: http.StatusServiceUnavailable}}, KindAllVariantsFailed, "rate-limiting"},
		{"timeout", &VariantsError{Last: fmt.Errorf("request: %w", context.DeadlineExceeded)}, KindAllVariantsFailed, "too long"},
		{"generic", &VariantsError{Last: errors.New("connection reset")}, KindAllVariantsFailed, "Could not load"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := classify(tt.err)
			assert.Equal(t, tt.kind, pe.Kind)
			assert.Contains(t, pe.Message(), tt.want)
			assert.ErrorIs(t, pe, tt.err)
		})
	}
}

func ptr[T any](v T) *T {
	return &v
}
