package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/amazon-product-fetcher/internal/cache"
)

// RecordCache stores assembled records between requests.
type RecordCache interface {
	Get(ctx context.Context, key string, dst any) error
	Set(ctx context.Context, key string, value any) error
}

type Service struct {
	fetcher       *Fetcher
	extractor     *Extractor
	cache         RecordCache
	defaultDomain string
	variants      func(ProductIdentifier) []string
	logger        *slog.Logger
}

type Option func(*Service)

// WithCache enables the record cache.
func WithCache(c RecordCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithVariants replaces the URL variant list builder.
func WithVariants(fn func(ProductIdentifier) []string) Option {
	return func(s *Service) { s.variants = fn }
}

func NewService(fetcher *Fetcher, extractor *Extractor, defaultDomain string, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		fetcher:       fetcher,
		extractor:     extractor,
		defaultDomain: defaultDomain,
		variants:      Variants,
		logger:        logger.With("component", "scraper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchProduct runs the whole pipeline for one input. It never returns an
// error: failures are carried in Result.Err alongside whatever is known.
func (s *Service) FetchProduct(ctx context.Context, input string) Result {
	start := time.Now()
	res := s.run(ctx, input)
	pipelineDuration.Observe(time.Since(start).Seconds())

	label := "ok"
	if res.Err != nil {
		label = string(res.Err.Kind)
		s.logger.Warn("product fetch failed",
			"input", input,
			"kind", res.Err.Kind,
			"error", res.Err.Err,
			"duration", time.Since(start))
	} else {
		s.logger.Info("product fetched",
			"asin", res.Record.ASIN,
			"cached", res.Cached,
			"fields", res.Record.FieldsFound(),
			"duration", time.Since(start))
	}
	pipelineResultsTotal.WithLabelValues(label).Inc()

	return res
}

func (s *Service) run(ctx context.Context, input string) Result {
	id, err := NormalizeInput(input, s.defaultDomain)
	if err != nil {
		return failed(ProductIdentifier{}, err)
	}

	if rec, ok := s.cached(ctx, id); ok {
		return Result{Record: rec, Cached: true}
	}

	page, err := s.fetcher.Fetch(ctx, s.variants(id))
	if err != nil {
		return failed(id, err)
	}
	if page.Rendered {
		s.logger.Info("using browser-rendered page", "asin", id.ASIN, "url", page.URL)
	}

	if err := DetectBotChallenge(page.Body); err != nil {
		return failed(id, err)
	}

	rec := Assemble(id, s.extractor.Extract(ctx, page.Body))
	s.store(ctx, id, rec)

	return Result{Record: rec}
}

func cacheKey(id ProductIdentifier) string {
	return fmt.Sprintf("product:%s:%s", id.Domain, id.ASIN)
}

func (s *Service) cached(ctx context.Context, id ProductIdentifier) (ProductRecord, bool) {
	if s.cache == nil {
		return ProductRecord{}, false
	}
	var rec ProductRecord
	err := s.cache.Get(ctx, cacheKey(id), &rec)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("cache lookup failed", "asin", id.ASIN, "error", err)
		}
		return ProductRecord{}, false
	}
	return rec, true
}

// store caches only records that found a title; sparse pages are usually
// soft blocks and should be refetched.
func (s *Service) store(ctx context.Context, id ProductIdentifier, rec ProductRecord) {
	if s.cache == nil || rec.Title == nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(id), rec); err != nil {
		s.logger.Warn("cache store failed", "asin", id.ASIN, "error", err)
	}
}
