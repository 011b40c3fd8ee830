package scraper

const (
	placeholderTitle       = "Unable to fetch title"
	placeholderDescription = "Unable to fetch description"
	placeholderCategory    = "Uncategorized"
)

// Response is the wire shape returned to callers for every pipeline run,
// successful or not. Failures are reported in Error and Message.
type Response struct {
	Title       string   `json:"title"`
	Price       *float64 `json:"price"`
	ImageURL    *string  `json:"image_url"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	ASIN        string   `json:"asin"`
	AmazonURL   string   `json:"amazon_url"`
	Brand       *string  `json:"brand"`
	Material    *string  `json:"material"`
	Colour      *string  `json:"colour"`
	Rating      *float64 `json:"rating"`
	VideoURL    *string  `json:"video_url"`
	Cached      bool     `json:"cached,omitempty"`
	Error       string   `json:"error,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// NewResponse renders res, substituting placeholders for the text fields
// the admin UI always displays.
func NewResponse(res Result) Response {
	rec := res.Record
	resp := Response{
		Title:       orDefault(rec.Title, placeholderTitle),
		Price:       rec.Price,
		ImageURL:    rec.ImageURL,
		Description: orDefault(rec.Description, placeholderDescription),
		Category:    orDefault(rec.Category, placeholderCategory),
		ASIN:        rec.ASIN,
		AmazonURL:   rec.AmazonURL,
		Brand:       rec.Brand,
		Material:    rec.Material,
		Colour:      rec.Colour,
		Rating:      rec.Rating,
		VideoURL:    rec.VideoURL,
		Cached:      res.Cached,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
		resp.Message = res.Err.Message()
	}
	return resp
}

func orDefault(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
