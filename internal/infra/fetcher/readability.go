package fetcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dwahbe/climate-river/internal/domain/entity"
	"github.com/dwahbe/climate-river/internal/pkg/hostnorm"
	"github.com/dwahbe/climate-river/internal/resilience/circuitbreaker"

	"github.com/go-shiori/go-readability"
)

// ErrTooManyRedirects indicates a fetch exceeded ContentFetchConfig.MaxRedirects.
var ErrTooManyRedirects = errors.New("too many redirects")

// ErrTimeout indicates a fetch exceeded ContentFetchConfig.Timeout.
var ErrTimeout = errors.New("content fetch timeout")

// ErrBodyTooLarge indicates a response exceeded ContentFetchConfig.MaxBodySize.
var ErrBodyTooLarge = errors.New("response body too large")

// ErrReadabilityFailed indicates the readability extractor could not produce
// article content from the fetched HTML.
var ErrReadabilityFailed = errors.New("readability extraction failed")

// minWordCount is the threshold below which an extraction is treated as a
// soft-failure (spec §4.3 step 4: "content_word_count < 100 -> blocked").
const minWordCount = 100

// paywallHosts is the known-paywall set checked before any HTTP call is made
// (spec §4.3 step 1). Matched against the normalized host.
var paywallHosts = map[string]bool{
	"nytimes.com":        true,
	"wsj.com":            true,
	"ft.com":             true,
	"economist.com":      true,
	"bloomberg.com":      true,
	"washingtonpost.com": true,
	"newyorker.com":      true,
	"theathletic.com":    true,
	"foreignpolicy.com":  true,
}

// isPaywallHost reports whether host belongs to a known paywalled outlet,
// after folding through the same host-normalization rules used to group
// articles by outlet.
func isPaywallHost(host string) bool {
	return paywallHosts[hostnorm.Host(host)]
}

// ContentResult is the outcome of a single content-prefetch attempt.
type ContentResult struct {
	Status    entity.ContentStatus
	Text      string
	HTML      string
	WordCount int
	FetchedAt time.Time
}

// ReadabilityFetcher implements the Content Prefetcher (spec §4.3) using the
// Mozilla Readability algorithm. It fetches HTML from an article's canonical
// URL and extracts clean article text and a word count used for downstream
// classification.
//
// Thread safety: ReadabilityFetcher is safe for concurrent use.
type ReadabilityFetcher struct {
	client         *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	config         ContentFetchConfig
}

// NewReadabilityFetcher creates a new ReadabilityFetcher with the given configuration.
func NewReadabilityFetcher(config ContentFetchConfig) *ReadabilityFetcher {
	cbConfig := circuitbreaker.Config{
		Name:             "content-fetch",
		MaxRequests:      5,
		Interval:         60 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
	cb := circuitbreaker.New(cbConfig)

	fetcher := &ReadabilityFetcher{
		circuitBreaker: cb,
		config:         config,
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= fetcher.config.MaxRedirects {
				return fmt.Errorf("%w: %d redirects", ErrTooManyRedirects, len(via))
			}
			if err := validateURL(req.URL.String(), fetcher.config.DenyPrivateIPs); err != nil {
				return fmt.Errorf("redirect target validation failed: %w", err)
			}
			return nil
		},
	}

	fetcher.client = client
	return fetcher
}

// FetchContent fetches and extracts article content from the given URL,
// classifying the outcome per spec §4.3 step 4. It never returns an error
// for expected failure modes (paywall, not found, timeout, thin content) —
// those are reported via ContentResult.Status. An error return means the
// request could not be attempted at all (invalid URL, circuit open).
func (f *ReadabilityFetcher) FetchContent(ctx context.Context, urlStr string) (ContentResult, error) {
	if parsed, err := url.Parse(urlStr); err == nil && isPaywallHost(parsed.Host) {
		return ContentResult{Status: entity.ContentStatusPaywall, FetchedAt: time.Now()}, nil
	}

	if err := validateURL(urlStr, f.config.DenyPrivateIPs); err != nil {
		return ContentResult{}, err
	}

	result, err := f.circuitBreaker.Execute(func() (interface{}, error) {
		return f.doFetch(ctx, urlStr)
	})
	if err != nil {
		return ContentResult{}, err
	}

	return result.(ContentResult), nil
}

// doFetch performs the HTTP request, classifies the response, and extracts
// article content. Called by FetchContent through the circuit breaker.
func (f *ReadabilityFetcher) doFetch(ctx context.Context, urlStr string) (interface{}, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, urlStr, nil)
	if err != nil {
		return ContentResult{}, fmt.Errorf("%w: failed to create request: %v", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", "ClimateRiverBot/1.0 (+https://climate-river.example/bot)")

	resp, err := f.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return ContentResult{Status: entity.ContentStatusTimeout, FetchedAt: time.Now()}, nil
		}
		if urlErr, ok := err.(*url.Error); ok && urlErr.Err != nil {
			return ContentResult{}, urlErr.Err
		}
		return ContentResult{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusPaymentRequired, http.StatusForbidden, http.StatusUnavailableForLegalReasons:
		return ContentResult{Status: entity.ContentStatusPaywall, FetchedAt: time.Now()}, nil
	case http.StatusNotFound, http.StatusGone:
		return ContentResult{Status: entity.ContentStatusNotFound, FetchedAt: time.Now()}, nil
	}
	if resp.StatusCode >= 500 {
		return ContentResult{}, fmt.Errorf("server error: HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return ContentResult{Status: entity.ContentStatusError, FetchedAt: time.Now()}, nil
	}

	limitedReader := io.LimitReader(resp.Body, f.config.MaxBodySize+1)
	htmlBytes, err := io.ReadAll(limitedReader)
	if err != nil {
		return ContentResult{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(htmlBytes)) > f.config.MaxBodySize {
		return ContentResult{}, fmt.Errorf("%w: response size %d bytes exceeds limit %d bytes",
			ErrBodyTooLarge, len(htmlBytes), f.config.MaxBodySize)
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		parsedURL = nil
	}
	if resp.Request != nil && resp.Request.URL != nil {
		parsedURL = resp.Request.URL
	}

	htmlReader := io.NopCloser(bytes.NewReader(htmlBytes))
	article, err := readability.FromReader(htmlReader, parsedURL)
	if err != nil {
		return ContentResult{}, fmt.Errorf("%w: %v", ErrReadabilityFailed, err)
	}

	content := article.TextContent
	if content == "" {
		content = article.Content
	}
	if strings.TrimSpace(content) == "" {
		return ContentResult{}, fmt.Errorf("%w: no readable content found", ErrReadabilityFailed)
	}

	wordCount := len(strings.Fields(content))
	status := entity.ContentStatusSuccess
	if wordCount < minWordCount {
		status = entity.ContentStatusBlocked
		slog.Debug("content below minimum word count, marking blocked",
			slog.String("url", urlStr),
			slog.Int("word_count", wordCount))
	}

	return ContentResult{
		Status:    status,
		Text:      article.TextContent,
		HTML:      article.Content,
		WordCount: wordCount,
		FetchedAt: time.Now(),
	}, nil
}
