// Package fetch implements the two fetch strategies and the router that
// escalates from the cheap HTTP path to the browser path.
package fetch

import (
	"context"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/hybridfetch/hybridfetch/internal/result"
)

// Strategy fetches one job and reports the outcome as a terminal
// FetchResult. Implementations never return an error to the caller; every
// failure is captured in the result's status and error fields.
type Strategy interface {
	FetchOne(ctx context.Context, job result.UrlJob) result.FetchResult
}

// RobotsGate answers whether the configured agent may fetch a URL.
type RobotsGate interface {
	CanFetch(ctx context.Context, rawURL string) bool
}

// Admission is the scheduler surface the strategies depend on.
type Admission interface {
	Acquire(ctx context.Context, domain string) error
	Release(domain string)
	RecordError(domain string)
	RecordCaptcha(domain string)
	ShouldTryBrowser(domain string) bool
}

// userAgents is the rotation pool for randomized request headers. Major
// browsers across operating systems so requests do not share one trivial
// fingerprint.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

var acceptLanguages = []string{"en-US,en;q=0.9", "en-GB,en;q=0.9"}

func randomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

func randomAcceptLanguage() string {
	return acceptLanguages[rand.Intn(len(acceptLanguages))]
}

// jsRequired reports whether the page text asks the visitor to enable
// JavaScript, a strong hint that HTTP-only fetching got a shell page.
func jsRequired(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "enable javascript") ||
		strings.Contains(lower, "please turn on javascript")
}

// domainOf extracts the host portion used as the scheduler key.
func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// sleepBackoff waits for base*2^(attempt-1), honoring cancellation.
func sleepBackoff(ctx context.Context, base time.Duration, attempt int) {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
