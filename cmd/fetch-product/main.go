// Command fetch-product runs the product pipeline once and prints the JSON
// response the HTTP API would return.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/maltedev/amazon-product-fetcher/internal/amazon-scraper/config"
	"github.com/maltedev/amazon-product-fetcher/internal/amazon-scraper/scraper"
	"github.com/maltedev/amazon-product-fetcher/internal/browser"
	"github.com/maltedev/amazon-product-fetcher/pkg/logger"
)

func main() {
	var (
		input      = flag.String("url", "", "product URL or ASIN")
		domain     = flag.String("domain", "", "marketplace for bare ASINs (default from config)")
		timeout    = flag.Duration("timeout", 2*time.Minute, "overall deadline")
		useBrowser = flag.Bool("browser", false, "fall back to headless Chromium when plain fetches fail")
		logLevel   = flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	if *input == "" && flag.NArg() > 0 {
		*input = flag.Arg(0)
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: fetch-product -url <amazon product url or ASIN>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *domain != "" {
		if !scraper.IsMarketplace(*domain) {
			fmt.Fprintf(os.Stderr, "unknown amazon marketplace: %q\n", *domain)
			os.Exit(2)
		}
		cfg.Scraper.DefaultDomain = *domain
	}

	log := logger.NewWithWriter(os.Stderr, *logLevel, "text")

	fetcher := scraper.NewFetcher(&http.Client{}, cfg.FetcherConfig(), log)

	closeBrowser := func() error { return nil }
	if *useBrowser {
		b, err := browser.New(cfg.BrowserOptions(), log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "browser: %v\n", err)
			os.Exit(1)
		}
		fetcher.WithFallback(b)
		closeBrowser = b.Close
	}

	extractor := scraper.NewExtractor(cfg.Scraper.FieldDelayMin, cfg.Scraper.FieldDelayMax, log)
	service := scraper.NewService(fetcher, extractor, cfg.Scraper.DefaultDomain, log)

	code := run(service, *input, *timeout)
	if err := closeBrowser(); err != nil {
		log.Warn("failed to close browser", "error", err)
	}
	os.Exit(code)
}

// run prints the response and returns the exit code: 0 on success, 3 when
// the pipeline failed.
func run(service *scraper.Service, input string, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res := service.FetchProduct(ctx, input)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(scraper.NewResponse(res)); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		return 1
	}

	if !res.OK() {
		return 3
	}
	return 0
}
