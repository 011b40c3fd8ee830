package scraper

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/amazon-product-fetcher/internal/ratelimit"
)

const maxDescriptionRunes = 1000

// ExtractedFields holds the outcome of every field cascade. Nil means no
// strategy matched.
type ExtractedFields struct {
	Title       *string
	Price       *float64
	ImageURL    *string
	Description *string
	Category    *string
	Brand       *string
	Material    *string
	Colour      *string
	Rating      *float64
	VideoURL    *string
}

// strategy is one way of reading a field from a page.
type strategy[T any] func(*Page) (T, bool)

// firstMatch runs strategies in order and returns the first hit.
func firstMatch[T any](p *Page, strategies ...strategy[T]) (T, bool) {
	for _, s := range strategies {
		if v, ok := s(p); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

var (
	hiResProp        = stringProp("hiRes")
	largeProp        = stringProp("large")
	priceAmountProp  = numberProp("priceAmount")
	priceProp        = numberProp("price")
	ratingValueProp  = numberProp("ratingValue")
	brandProp        = stringProp("brand")
	materialProp     = stringProp("material")
	colorProp        = stringProp("color")
	videoURLProp     = stringProp("videoUrl")
	galleryMainURL   = regexp.MustCompile(`"imageGalleryData"\s*:\s*\[\s*\{[^}]*?"mainUrl"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	videosArrayURL   = regexp.MustCompile(`"videos"\s*:\s*\[\s*\{[^\]]*?"url"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	videoObjectURL   = regexp.MustCompile(`"video"\s*:\s*\{[^}]*?"url"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	imageIDPattern   = regexp.MustCompile(`/images/I/([A-Za-z0-9+%\-]+)\.`)
	ratingTextRegexp = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:out of|von|sur|su|de)\s*5`)
	boilerplateEntry = regexp.MustCompile(`(?i)see more product details|weitere informationen|mehr anzeigen|make sure this fits|› ?see more`)
)

var storeLinkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^visit the (.+?) store$`),
	regexp.MustCompile(`(?i)^besuchen sie den (.+?)-store$`),
	regexp.MustCompile(`(?i)^besuchen sie den (.+?) store$`),
}

var bylinePrefixes = []string{"Brand:", "Marke:", "Marca:", "Marque :", "Marque:"}

var titleStrategies = []strategy[string]{
	func(p *Page) (string, bool) { return p.text("#productTitle") },
	func(p *Page) (string, bool) { return p.text("#title") },
	func(p *Page) (string, bool) { return p.structuredString("name") },
}

var priceStrategies = []strategy[float64]{
	wholeFractionPrice,
	func(p *Page) (float64, bool) { return textPrice(p, ".a-price .a-offscreen") },
	func(p *Page) (float64, bool) {
		if v, ok := p.structuredNumber(parsePrice, "offers", "price"); ok && v > 0 {
			return v, true
		}
		for _, re := range []*regexp.Regexp{priceAmountProp, priceProp} {
			if s, ok := p.match(re); ok {
				if v, ok := parsePrice(s); ok {
					return v, true
				}
			}
		}
		return 0, false
	},
	func(p *Page) (float64, bool) {
		return textPrice(p, "#priceblock_dealprice, #dealprice_feature_div .a-offscreen, #priceblock_ourprice")
	},
}

var imageStrategies = []strategy[string]{
	func(p *Page) (string, bool) { return imageFrom(p.match(hiResProp)) },
	func(p *Page) (string, bool) { return imageFrom(p.match(largeProp)) },
	func(p *Page) (string, bool) { return imageFrom(p.attr("#landingImage", "data-old-hires")) },
	func(p *Page) (string, bool) {
		for _, src := range p.attrs("#landingImage, #imgBlkFront, #main-image img", "src") {
			if u, ok := imageFrom(src, true); ok {
				return u, true
			}
		}
		return "", false
	},
	func(p *Page) (string, bool) { return imageFrom(p.match(galleryMainURL)) },
}

var descriptionStrategies = []strategy[string]{
	featureBullets,
	func(p *Page) (string, bool) {
		if s, ok := p.text("#productDescription p"); ok {
			return truncateRunes(s, maxDescriptionRunes), true
		}
		return "", false
	},
}

var categoryStrategies = []strategy[string]{
	func(p *Page) (string, bool) { return p.text("#wayfinding-breadcrumbs_feature_div a, #wayfinding-breadcrumbs_container a") },
}

var brandStrategies = []strategy[string]{
	storeLinkBrand,
	bylineBrand,
	func(p *Page) (string, bool) { return p.labelled("brand", "marke", "brand name", "markenname") },
	func(p *Page) (string, bool) {
		if s, ok := p.structuredString("brand", "name"); ok {
			return s, true
		}
		if s, ok := p.structuredString("brand"); ok {
			return s, true
		}
		return embeddedText(p, brandProp)
	},
}

var materialStrategies = []strategy[string]{
	func(p *Page) (string, bool) { return p.labelled("material", "materialzusammensetzung") },
	func(p *Page) (string, bool) {
		return p.labelled("material type", "material composition", "materialtyp", "materialart")
	},
	func(p *Page) (string, bool) { return embeddedText(p, materialProp) },
}

var colourStrategies = []strategy[string]{
	func(p *Page) (string, bool) { return p.labelled("colour", "color", "farbe") },
	func(p *Page) (string, bool) { return p.labelled("colour name", "color name", "farbname") },
	func(p *Page) (string, bool) { return embeddedText(p, colorProp) },
}

var ratingStrategies = []strategy[float64]{
	func(p *Page) (float64, bool) {
		if v, ok := ratingIn(p, "#acrPopover", "title"); ok {
			return v, true
		}
		return ratingIn(p, "[aria-label]", "aria-label")
	},
	func(p *Page) (float64, bool) { return ratingIn(p, ".a-icon-alt", "") },
	func(p *Page) (float64, bool) {
		if v, ok := p.structuredNumber(parseDecimal, "aggregateRating", "ratingValue"); ok {
			return v, true
		}
		if s, ok := p.match(ratingValueProp); ok {
			return parseDecimal(s)
		}
		return 0, false
	},
}

var videoStrategies = []strategy[string]{
	func(p *Page) (string, bool) { return httpsFrom(p.match(videosArrayURL)) },
	func(p *Page) (string, bool) {
		if u, ok := httpsFrom(p.match(videoURLProp)); ok {
			return u, true
		}
		return httpsFrom(p.match(videoObjectURL))
	},
	func(p *Page) (string, bool) { return httpsFrom(p.attr("[data-video-url]", "data-video-url")) },
}

// rating validates the cascade winner; an out-of-range value is dropped.
func rating(p *Page) (float64, bool) {
	v, ok := firstMatch(p, ratingStrategies...)
	if !ok || v < 0 || v > 5 {
		return 0, false
	}
	return v, true
}

func wholeFractionPrice(p *Page) (float64, bool) {
	whole := p.doc.Find(".a-price-whole").First()
	if whole.Length() == 0 {
		return 0, false
	}
	// the fraction must belong to the same price block
	fraction := whole.Closest(".a-price").Find(".a-price-fraction").First()
	return joinPrice(whole.Text(), fraction.Text())
}

func textPrice(p *Page, selector string) (float64, bool) {
	s, ok := p.text(selector)
	if !ok {
		return 0, false
	}
	return parsePrice(s)
}

func featureBullets(p *Page) (string, bool) {
	var lines []string
	p.doc.Find("#feature-bullets li span.a-list-item").Each(func(_ int, s *goquery.Selection) {
		line := cleanText(s.Text())
		if line == "" || boilerplateEntry.MatchString(line) {
			return
		}
		lines = append(lines, line)
	})
	if len(lines) == 0 {
		return "", false
	}
	return truncateRunes(strings.Join(lines, "\n"), maxDescriptionRunes), true
}

func storeLinkBrand(p *Page) (string, bool) {
	text, ok := p.text("#bylineInfo")
	if !ok {
		return "", false
	}
	for _, re := range storeLinkPatterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}

func bylineBrand(p *Page) (string, bool) {
	text, ok := p.text("#bylineInfo")
	if !ok {
		return "", false
	}
	for _, prefix := range bylinePrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
			break
		}
	}
	return text, text != ""
}

func embeddedText(p *Page, re *regexp.Regexp) (string, bool) {
	s, ok := p.match(re)
	if !ok {
		return "", false
	}
	s = cleanText(s)
	return s, s != ""
}

// ratingIn scans selector for the first "X out of 5" phrase, in the named
// attribute or, when attr is empty, in the element text.
func ratingIn(p *Page, selector, attr string) (float64, bool) {
	var (
		out   float64
		found bool
	)
	p.doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if attr != "" {
			text, _ = s.Attr(attr)
		}
		if m := ratingTextRegexp.FindStringSubmatch(text); len(m) > 1 {
			out, found = parseDecimal(m[1])
		}
		return !found
	})
	return out, found
}

func httpsFrom(raw string, ok bool) (string, bool) {
	if !ok {
		return "", false
	}
	return httpsURL(raw)
}

// imageFrom upgrades the URL and, when it carries an image id, rewrites it
// to the fixed large rendition on the image CDN.
func imageFrom(raw string, ok bool) (string, bool) {
	if !ok || strings.HasPrefix(raw, "data:") {
		return "", false
	}
	u, ok := httpsURL(raw)
	if !ok {
		return "", false
	}
	if m := imageIDPattern.FindStringSubmatch(u); len(m) > 1 {
		return "https://m.media-amazon.com/images/I/" + m[1] + "._AC_SL1500_.jpg", true
	}
	return u, true
}

// Extractor runs every field cascade over a fetched page.
type Extractor struct {
	fieldDelayMin time.Duration
	fieldDelayMax time.Duration
	logger        *slog.Logger
}

func NewExtractor(fieldDelayMin, fieldDelayMax time.Duration, logger *slog.Logger) *Extractor {
	if fieldDelayMax < fieldDelayMin {
		fieldDelayMax = fieldDelayMin
	}
	return &Extractor{
		fieldDelayMin: fieldDelayMin,
		fieldDelayMax: fieldDelayMax,
		logger:        logger.With("component", "extractor"),
	}
}

// fieldRun applies a cascade and stores a hit in dst.
func fieldRun[T any](dst **T, strategies ...strategy[T]) func(*Page) bool {
	return func(p *Page) bool {
		v, ok := firstMatch(p, strategies...)
		if ok {
			*dst = &v
		}
		return ok
	}
}

// Extract never fails: a field no strategy matches stays nil. Fields are
// read one after another with a short randomized pause in between; a
// cancelled context stops extraction and returns what was found so far.
func (e *Extractor) Extract(ctx context.Context, html string) ExtractedFields {
	var out ExtractedFields
	page := NewPage(html)
	pacer := ratelimit.NewSimpleRateLimiter(e.fieldDelayMin, e.fieldDelayMax)

	fields := []struct {
		name string
		run  func(*Page) bool
	}{
		{"title", fieldRun(&out.Title, titleStrategies...)},
		{"price", fieldRun(&out.Price, priceStrategies...)},
		{"image_url", fieldRun(&out.ImageURL, imageStrategies...)},
		{"description", fieldRun(&out.Description, descriptionStrategies...)},
		{"category", fieldRun(&out.Category, categoryStrategies...)},
		{"brand", fieldRun(&out.Brand, brandStrategies...)},
		{"material", fieldRun(&out.Material, materialStrategies...)},
		{"colour", fieldRun(&out.Colour, colourStrategies...)},
		{"rating", fieldRun(&out.Rating, strategy[float64](rating))},
		{"video_url", fieldRun(&out.VideoURL, videoStrategies...)},
	}

	for _, f := range fields {
		if err := pacer.Wait(ctx); err != nil {
			e.logger.Warn("extraction interrupted", "field", f.name, "error", err)
			break
		}
		outcome := "miss"
		if f.run(page) {
			outcome = "hit"
		}
		fieldExtractionsTotal.WithLabelValues(f.name, outcome).Inc()
	}

	return out
}
