package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	ErrInvalidInput      = errors.New("invalid Amazon URL or ASIN")
	ErrAllVariantsFailed = errors.New("all product URL variants failed")
	ErrBotDetected       = errors.New("blocked by Amazon anti-bot")
	ErrEmptyBody         = errors.New("empty response body")
)

// ErrorKind is the machine-readable classification of a pipeline failure.
type ErrorKind string

const (
	KindInvalidInput      ErrorKind = "InvalidInput"
	KindAllVariantsFailed ErrorKind = "AllVariantsFailed"
	KindBotDetected       ErrorKind = "BotDetected"
)

// StatusError is returned for a non-success HTTP status from the marketplace.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// Retryable reports whether the same URL is worth requesting again.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// VariantsError carries the attempt trail once every variant is exhausted.
type VariantsError struct {
	Attempts []FetchAttempt
	Last     error
}

func (e *VariantsError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrAllVariantsFailed, len(e.Attempts), e.Last)
}

func (e *VariantsError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrAllVariantsFailed}
	}
	return []error{ErrAllVariantsFailed, e.Last}
}

// PipelineError is a failure that ends the pipeline before a full record exists.
type PipelineError struct {
	Kind ErrorKind
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Message returns guidance a non-technical admin can act on.
func (e *PipelineError) Message() string {
	switch e.Kind {
	case KindInvalidInput:
		return "Please enter a valid Amazon product URL or a 10-character ASIN starting with B (for example B0EXAMPLE1)."
	case KindBotDetected:
		return "Amazon blocked this request with a CAPTCHA check. Wait a few minutes and try again, or enter the product details manually."
	}

	var statusErr *StatusError
	if errors.As(e.Err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode == http.StatusServiceUnavailable {
			return "Amazon is rate-limiting requests right now. Please wait a minute before trying again."
		}
	}
	if isTimeout(e.Err) {
		return "Amazon took too long to respond. Please try again shortly."
	}
	return "Could not load the product page from Amazon. Check the link and try again, or enter the details manually."
}

// classify maps any pipeline error onto its kind.
func classify(err error) *PipelineError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}

	kind := KindAllVariantsFailed
	switch {
	case errors.Is(err, ErrInvalidInput):
		kind = KindInvalidInput
	case errors.Is(err, ErrBotDetected):
		kind = KindBotDetected
	}
	return &PipelineError{Kind: kind, Err: err}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
