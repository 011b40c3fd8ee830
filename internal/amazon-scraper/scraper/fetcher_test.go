package scraper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFetcherConfig() FetcherConfig {
	cfg := DefaultFetcherConfig()
	cfg.RequestTimeout = 2 * time.Second
	cfg.RequestsPerSecond = 0
	return cfg
}

// hitCounter counts requests per path and answers with the next scripted
// status for that path (the last one repeats).
type hitCounter struct {
	mu      sync.Mutex
	hits    map[string]int
	scripts map[string][]int
	body    string
}

func newHitCounter(body string, scripts map[string][]int) *hitCounter {
	return &hitCounter{hits: map[string]int{}, scripts: scripts, body: body}
}

func (h *hitCounter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	n := h.hits[r.URL.Path]
	h.hits[r.URL.Path]++
	script := h.scripts[r.URL.Path]
	h.mu.Unlock()

	status := http.StatusNotFound
	if len(script) > 0 {
		if n >= len(script) {
			n = len(script) - 1
		}
		status = script[n]
	}
	w.WriteHeader(status)
	if status == http.StatusOK {
		io.WriteString(w, h.body)
	}
}

func (h *hitCounter) count(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[path]
}

func recordSleeps(f *Fetcher) *[]time.Duration {
	var waits []time.Duration
	f.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return &waits
}

func TestFetcher_RetriesTransientThenSucceeds(t *testing.T) {
	h := newHitCounter("<html>ok</html>", map[string][]int{
		"/dp/B0EXAMPLE1": {503, 503, 200},
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	f := NewFetcher(srv.Client(), testFetcherConfig(), testLogger())
	waits := recordSleeps(f)

	variants := []string{
		srv.URL + "/dp/B0EXAMPLE1",
		srv.URL + "/gp/product/B0EXAMPLE1",
		srv.URL + "/m/dp/B0EXAMPLE1",
	}

	res, err := f.Fetch(context.Background(), variants)
	require.NoError(t, err)

	assert.Equal(t, variants[0], res.URL)
	assert.Equal(t, "<html>ok</html>", res.Body)
	assert.Equal(t, 3, h.count("/dp/B0EXAMPLE1"))
	assert.Equal(t, 0, h.count("/gp/product/B0EXAMPLE1"))
	assert.Equal(t, 0, h.count("/m/dp/B0EXAMPLE1"))

	require.Len(t, *waits, 2)
	assert.Less(t, (*waits)[0], (*waits)[1])

	require.Len(t, res.Attempts, 3)
	assert.Equal(t, outcomeTransient, res.Attempts[0].Outcome)
	assert.Equal(t, 503, res.Attempts[0].StatusCode)
	assert.Equal(t, outcomeSuccess, res.Attempts[2].Outcome)
	assert.Equal(t, 2, res.Attempts[2].Attempt)
}

func TestFetcher_AllVariantsNonRetryable(t *testing.T) {
	h := newHitCounter("", map[string][]int{
		"/dp/B0EXAMPLE1":         {404},
		"/gp/product/B0EXAMPLE1": {403},
		"/m/dp/B0EXAMPLE1":       {410},
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	f := NewFetcher(srv.Client(), testFetcherConfig(), testLogger())
	waits := recordSleeps(f)

	variants := []string{
		srv.URL + "/dp/B0EXAMPLE1",
		srv.URL + "/gp/product/B0EXAMPLE1",
		srv.URL + "/m/dp/B0EXAMPLE1",
	}

	res, err := f.Fetch(context.Background(), variants)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrAllVariantsFailed)

	var ve *VariantsError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Attempts, 3)

	var statusErr *StatusError
	require.True(t, errors.As(ve.Last, &statusErr))
	assert.Equal(t, 410, statusErr.StatusCode)
	assert.Equal(t, variants[2], statusErr.URL)

	for _, v := range []string{"/dp/B0EXAMPLE1", "/gp/product/B0EXAMPLE1", "/m/dp/B0EXAMPLE1"} {
		assert.Equal(t, 1, h.count(v), v)
	}
	assert.Empty(t, *waits)
}

func TestFetcher_RateLimitedAdvancesVariant(t *testing.T) {
	h := newHitCounter("<html>mobile</html>", map[string][]int{
		"/dp/B0EXAMPLE1":         {429},
		"/gp/product/B0EXAMPLE1": {500, 500, 500, 500},
		"/m/dp/B0EXAMPLE1":       {200},
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	cfg := testFetcherConfig()
	cfg.MaxRetries = 2
	f := NewFetcher(srv.Client(), cfg, testLogger())
	waits := recordSleeps(f)

	res, err := f.Fetch(context.Background(), []string{
		srv.URL + "/dp/B0EXAMPLE1",
		srv.URL + "/gp/product/B0EXAMPLE1",
		srv.URL + "/m/dp/B0EXAMPLE1",
	})
	require.NoError(t, err)

	assert.Equal(t, "<html>mobile</html>", res.Body)
	assert.Equal(t, 1, h.count("/dp/B0EXAMPLE1"))
	assert.Equal(t, 3, h.count("/gp/product/B0EXAMPLE1"))
	assert.Equal(t, 1, h.count("/m/dp/B0EXAMPLE1"))
	assert.Len(t, *waits, 2)
}

func TestFetcher_EmptyBodyAdvancesVariant(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/a" {
			io.WriteString(w, "   \n")
			return
		}
		io.WriteString(w, "<html>b</html>")
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), testFetcherConfig(), testLogger())
	recordSleeps(f)

	res, err := f.Fetch(context.Background(), []string{srv.URL + "/a", srv.URL + "/b"})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/b", res.URL)
	assert.Equal(t, int32(2), calls.Load())
	assert.ErrorIs(t, res.Attempts[0].Err, ErrEmptyBody)
}

func TestFetcher_TimeoutIsRetried(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		io.WriteString(w, "<html>late</html>")
	}))
	defer srv.Close()

	cfg := testFetcherConfig()
	cfg.RequestTimeout = 50 * time.Millisecond
	f := NewFetcher(srv.Client(), cfg, testLogger())
	waits := recordSleeps(f)

	res, err := f.Fetch(context.Background(), []string{srv.URL + "/dp/B0EXAMPLE1"})
	require.NoError(t, err)
	assert.Equal(t, "<html>late</html>", res.Body)
	assert.Equal(t, outcomeTimeout, res.Attempts[0].Outcome)
	assert.Len(t, *waits, 1)
}

func TestFetcher_SendsBrowserHeaders(t *testing.T) {
	var (
		mu  sync.Mutex
		got *http.Request
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = r.Clone(context.Background())
		mu.Unlock()
		io.WriteString(w, "<html></html>")
	}))
	defer srv.Close()

	cfg := testFetcherConfig()
	f := NewFetcher(srv.Client(), cfg, testLogger())

	_, err := f.Fetch(context.Background(), []string{srv.URL + "/dp/B0EXAMPLE1"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)

	assert.Equal(t, cfg.UserAgent, got.Header.Get("User-Agent"))
	assert.Equal(t, cfg.AcceptLanguage, got.Header.Get("Accept-Language"))
	assert.Contains(t, got.Header.Get("Accept"), "text/html")
	assert.Equal(t, srv.URL+"/", got.Header.Get("Referer"))

	sid, err := got.Cookie("session-id")
	require.NoError(t, err)
	assert.Regexp(t, `^\d{3}-\d{7}-\d{7}$`, sid.Value)
	_, err = got.Cookie("ubid-main")
	assert.NoError(t, err)
}

func TestFetcher_CancelledContextStops(t *testing.T) {
	h := newHitCounter("", map[string][]int{"/dp/B0EXAMPLE1": {503}})
	srv := httptest.NewServer(h)
	defer srv.Close()

	f := NewFetcher(srv.Client(), testFetcherConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	f.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := f.Fetch(ctx, []string{srv.URL + "/dp/B0EXAMPLE1", srv.URL + "/gp/product/B0EXAMPLE1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllVariantsFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, h.count("/dp/B0EXAMPLE1"))
	assert.Equal(t, 0, h.count("/gp/product/B0EXAMPLE1"))
}

type MockRenderer struct {
	mock.Mock
}

func (m *MockRenderer) RenderHTML(ctx context.Context, url string) (string, error) {
	args := m.Called(ctx, url)
	return args.String(0), args.Error(1)
}

func TestFetcher_BrowserFallback(t *testing.T) {
	h := newHitCounter("", map[string][]int{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx := context.Background()
	variants := []string{srv.URL + "/dp/B0EXAMPLE1", srv.URL + "/m/dp/B0EXAMPLE1"}

	t.Run("renders the first variant", func(t *testing.T) {
		r := new(MockRenderer)
		r.On("RenderHTML", ctx, variants[0]).Return("<html>rendered</html>", nil)

		f := NewFetcher(srv.Client(), testFetcherConfig(), testLogger()).WithFallback(r)

		res, err := f.Fetch(ctx, variants)
		require.NoError(t, err)
		assert.True(t, res.Rendered)
		assert.Equal(t, "<html>rendered</html>", res.Body)
		r.AssertExpectations(t)
	})

	t.Run("renderer failure keeps the HTTP error", func(t *testing.T) {
		r := new(MockRenderer)
		r.On("RenderHTML", ctx, variants[0]).Return("", errors.New("browser crashed"))

		f := NewFetcher(srv.Client(), testFetcherConfig(), testLogger()).WithFallback(r)

		_, err := f.Fetch(ctx, variants)
		assert.ErrorIs(t, err, ErrAllVariantsFailed)

		var statusErr *StatusError
		assert.True(t, errors.As(err, &statusErr))
	})
}

func TestFetcher_BackoffIsMonotonicAndCapped(t *testing.T) {
	cfg := testFetcherConfig()
	cfg.RetryBaseDelay = time.Second
	cfg.RetryMaxDelay = 3 * time.Second
	f := NewFetcher(nil, cfg, testLogger())

	prev := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		d := f.backoff(attempt)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, cfg.RetryMaxDelay)
		prev = d
	}
	assert.Equal(t, 2*time.Second, f.backoff(2))
	assert.Equal(t, 3*time.Second, f.backoff(6))
}
