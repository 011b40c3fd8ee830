package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	outcomeSuccess   = "success"
	outcomeTransient = "transient"
	outcomeTimeout   = "timeout"
	outcomeFailed    = "failed"
)

// FetchAttempt is one HTTP round trip to one URL variant.
type FetchAttempt struct {
	URL        string
	Attempt    int
	Outcome    string
	StatusCode int
	Err        error
	Body       string
}

// FetchResult is the accepted page body and how it was obtained.
type FetchResult struct {
	URL      string
	Body     string
	Attempts []FetchAttempt
	Rendered bool
}

// PageRenderer loads a page in a real browser and returns its HTML.
type PageRenderer interface {
	RenderHTML(ctx context.Context, url string) (string, error)
}

// FetcherConfig controls timeouts, retries and request headers.
type FetcherConfig struct {
	RequestTimeout    time.Duration
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	MaxBodyBytes      int64
	UserAgent         string
	AcceptLanguage    string
	RequestsPerSecond float64
	Burst             int
}

func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		RequestTimeout:    15 * time.Second,
		MaxRetries:        3,
		RetryBaseDelay:    1 * time.Second,
		RetryMaxDelay:     5 * time.Second,
		MaxBodyBytes:      10 << 20,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		AcceptLanguage:    "en-GB,en;q=0.9,en-US;q=0.8",
		RequestsPerSecond: 1,
		Burst:             3,
	}
}

// Fetcher walks the URL variants of a product until one returns a usable page.
type Fetcher struct {
	client   *http.Client
	cfg      FetcherConfig
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	fallback PageRenderer
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewFetcher(client *http.Client, cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	logger = logger.With("component", "fetcher")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "amazon-fetch",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.8
		},
		IsSuccessful: func(err error) bool {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return !statusErr.Retryable() && statusErr.StatusCode != http.StatusTooManyRequests
			}
			return err == nil || errors.Is(err, ErrEmptyBody)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"circuit", name,
				"from", from.String(),
				"to", to.String())
		},
	})

	return &Fetcher{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// WithFallback sets a renderer used once every HTTP variant has failed.
func (f *Fetcher) WithFallback(r PageRenderer) *Fetcher {
	f.fallback = r
	return f
}

// Fetch tries each variant in order. A variant is retried only on transient
// 5xx responses or timeouts; any other failure moves on to the next variant.
func (f *Fetcher) Fetch(ctx context.Context, variants []string) (*FetchResult, error) {
	var (
		attempts []FetchAttempt
		lastErr  error
	)

	for _, variant := range variants {
		for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
			if attempt > 0 {
				delay := f.backoff(attempt)
				f.logger.Warn("retrying product page",
					"url", variant,
					"attempt", attempt,
					"delay", delay,
					"error", lastErr)
				if err := f.sleep(ctx, delay); err != nil {
					return nil, &VariantsError{Attempts: attempts, Last: err}
				}
			}

			body, err := f.get(ctx, variant)
			a := FetchAttempt{URL: variant, Attempt: attempt, Err: err}

			if err == nil {
				a.Outcome = outcomeSuccess
				a.Body = body
				attempts = append(attempts, a)
				fetchAttemptsTotal.WithLabelValues(outcomeSuccess).Inc()
				return &FetchResult{URL: variant, Body: body, Attempts: attempts}, nil
			}

			lastErr = err
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				a.StatusCode = statusErr.StatusCode
			}
			a.Outcome = f.outcomeOf(ctx, err)
			attempts = append(attempts, a)
			fetchAttemptsTotal.WithLabelValues(a.Outcome).Inc()

			if ctx.Err() != nil {
				return nil, &VariantsError{Attempts: attempts, Last: err}
			}
			if a.Outcome == outcomeFailed {
				f.logger.Info("abandoning variant", "url", variant, "error", err)
				break
			}
		}
	}

	if f.fallback != nil && len(variants) > 0 {
		f.logger.Info("all variants failed, rendering in browser", "url", variants[0])
		body, err := f.fallback.RenderHTML(ctx, variants[0])
		if err == nil && strings.TrimSpace(body) != "" {
			attempts = append(attempts, FetchAttempt{URL: variants[0], Outcome: outcomeSuccess, Body: body})
			return &FetchResult{URL: variants[0], Body: body, Attempts: attempts, Rendered: true}, nil
		}
		if err != nil {
			f.logger.Warn("browser fallback failed", "error", err)
		}
	}

	return nil, &VariantsError{Attempts: attempts, Last: lastErr}
}

func (f *Fetcher) outcomeOf(ctx context.Context, err error) string {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr) && statusErr.Retryable():
		return outcomeTransient
	case ctx.Err() == nil && isTimeout(err):
		return outcomeTimeout
	default:
		return outcomeFailed
	}
}

// backoff grows linearly with the attempt number up to RetryMaxDelay.
func (f *Fetcher) backoff(attempt int) time.Duration {
	d := f.cfg.RetryBaseDelay * time.Duration(attempt)
	if f.cfg.RetryMaxDelay > 0 && d > f.cfg.RetryMaxDelay {
		d = f.cfg.RetryMaxDelay
	}
	return d
}

func (f *Fetcher) get(ctx context.Context, target string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	body, err := f.breaker.Execute(func() (interface{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
		defer cancel()
		return f.do(attemptCtx, target)
	})
	if err != nil {
		return "", err
	}
	return body.(string), nil
}

func (f *Fetcher) do(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	f.setBrowserHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return "", &StatusError{StatusCode: resp.StatusCode, URL: target}
	}

	limit := f.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return "", fmt.Errorf("read body %s: %w", target, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("%w from %s", ErrEmptyBody, target)
	}
	return string(data), nil
}

// setBrowserHeaders makes the request look like a desktop browser session.
// Best effort only; Amazon may still answer with a challenge page.
func (f *Fetcher) setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", f.cfg.AcceptLanguage)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("DNT", "1")

	if u, err := url.Parse(req.URL.String()); err == nil {
		req.Header.Set("Referer", fmt.Sprintf("%s://%s/", u.Scheme, u.Host))
	}

	for _, c := range sessionCookies() {
		req.AddCookie(c)
	}
}

// sessionCookies returns a fresh set of plausible anonymous session cookies.
func sessionCookies() []*http.Cookie {
	return []*http.Cookie{
		{Name: "session-id", Value: digits(3) + "-" + digits(7) + "-" + digits(7)},
		{Name: "session-id-time", Value: "2082787201l"},
		{Name: "ubid-main", Value: digits(3) + "-" + digits(7) + "-" + digits(7)},
	}
}

func digits(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(byte('0' + rand.Intn(10)))
	}
	return b.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
