package scraper

import "fmt"

// ProductIdentifier is a validated ASIN plus the marketplace it was found on.
type ProductIdentifier struct {
	ASIN   string
	Domain string
}

// CanonicalURL is the desktop /dp/ URL reported back to callers.
func (id ProductIdentifier) CanonicalURL() string {
	return fmt.Sprintf("https://www.%s/dp/%s", id.Domain, id.ASIN)
}

// ProductRecord is the assembled result of one pipeline run. Absent fields are nil.
type ProductRecord struct {
	ASIN        string   `json:"asin"`
	AmazonURL   string   `json:"amazon_url"`
	Title       *string  `json:"title"`
	Price       *float64 `json:"price"`
	ImageURL    *string  `json:"image_url"`
	Description *string  `json:"description"`
	Category    *string  `json:"category"`
	Brand       *string  `json:"brand"`
	Material    *string  `json:"material"`
	Colour      *string  `json:"colour"`
	Rating      *float64 `json:"rating"`
	VideoURL    *string  `json:"video_url"`
}

// FieldsFound lists the names of populated optional fields.
func (r *ProductRecord) FieldsFound() []string {
	var found []string
	for _, f := range []struct {
		name string
		ok   bool
	}{
		{"title", r.Title != nil},
		{"price", r.Price != nil},
		{"image_url", r.ImageURL != nil},
		{"description", r.Description != nil},
		{"category", r.Category != nil},
		{"brand", r.Brand != nil},
		{"material", r.Material != nil},
		{"colour", r.Colour != nil},
		{"rating", r.Rating != nil},
		{"video_url", r.VideoURL != nil},
	} {
		if f.ok {
			found = append(found, f.name)
		}
	}
	return found
}

// Result is either a record or a pipeline error with whatever was known.
type Result struct {
	Record ProductRecord
	Err    *PipelineError
	Cached bool
}

// OK reports whether the pipeline reached the assembler.
func (r Result) OK() bool {
	return r.Err == nil
}

// Assemble builds the record from the extracted fields.
func Assemble(id ProductIdentifier, fields ExtractedFields) ProductRecord {
	return ProductRecord{
		ASIN:        id.ASIN,
		AmazonURL:   id.CanonicalURL(),
		Title:       fields.Title,
		Price:       fields.Price,
		ImageURL:    fields.ImageURL,
		Description: fields.Description,
		Category:    fields.Category,
		Brand:       fields.Brand,
		Material:    fields.Material,
		Colour:      fields.Colour,
		Rating:      fields.Rating,
		VideoURL:    fields.VideoURL,
	}
}

// failed builds a partial result for a pipeline-level failure.
func failed(id ProductIdentifier, err error) Result {
	rec := ProductRecord{ASIN: id.ASIN}
	if id.ASIN != "" && id.Domain != "" {
		rec.AmazonURL = id.CanonicalURL()
	}
	return Result{Record: rec, Err: classify(err)}
}

// Rejected is the result for a request whose input could not be read at all.
func Rejected(detail string) Result {
	return failed(ProductIdentifier{}, fmt.Errorf("%w: %s", ErrInvalidInput, detail))
}
