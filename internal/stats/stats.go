// Package stats aggregates per-URL records into run-level summaries and
// persists them.
package stats

import (
	"math"
	"sort"

	"github.com/hybridfetch/hybridfetch/internal/result"
)

// Percentile returns the nearest-rank percentile of values, or nil when
// values is empty.
func Percentile(values []int64, p float64) *int64 {
	if len(values) == 0 {
		return nil
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	k := int(math.Round(p / 100.0 * float64(len(sorted)-1)))
	if k < 0 {
		k = 0
	}
	if k > len(sorted)-1 {
		k = len(sorted) - 1
	}
	v := sorted[k]
	return &v
}

// ComputeRunSummary folds all stats rows into aggregate rates, method shares
// and per-method latency percentiles. A run with zero rows yields a
// zero-filled summary rather than an error.
func ComputeRunSummary(rows []result.UrlStat) result.RunSummary {
	total := len(rows)
	if total == 0 {
		return result.RunSummary{}
	}

	var success, httpError, timeout, captcha, robots int
	var httpCount, browserCount int
	var httpLatencies, browserLatencies []int64
	var httpLens, browserLens []int64

	for _, r := range rows {
		switch r.Status {
		case result.StatusSuccess:
			success++
		case result.StatusHTTPError:
			httpError++
		case result.StatusTimeout:
			timeout++
		case result.StatusCaptchaDetected:
			captcha++
		case result.StatusRobotsBlocked:
			robots++
		case result.StatusTooLarge, result.StatusInvalidURL, result.StatusOtherError:
			// Counted in totals only.
		}

		switch r.Method {
		case result.MethodHTTP:
			httpCount++
			if r.LatencyMS != nil && *r.LatencyMS > 0 {
				httpLatencies = append(httpLatencies, *r.LatencyMS)
			}
			if r.ContentLen > 0 {
				httpLens = append(httpLens, int64(r.ContentLen))
			}
		case result.MethodBrowser:
			browserCount++
			if r.LatencyMS != nil && *r.LatencyMS > 0 {
				browserLatencies = append(browserLatencies, *r.LatencyMS)
			}
			if r.ContentLen > 0 {
				browserLens = append(browserLens, int64(r.ContentLen))
			}
		}
	}

	n := float64(total)
	return result.RunSummary{
		TotalURLs:            total,
		StatsRows:            total,
		SuccessRate:          float64(success) / n,
		HTTPErrorRate:        float64(httpError) / n,
		TimeoutRate:          float64(timeout) / n,
		CaptchaRate:          float64(captcha) / n,
		RobotsBlockRate:      float64(robots) / n,
		HTTPShare:            float64(httpCount) / n,
		BrowserShare:         float64(browserCount) / n,
		P50LatencyHTTPMS:     Percentile(httpLatencies, 50),
		P95LatencyHTTPMS:     Percentile(httpLatencies, 95),
		P50LatencyBrowserMS:  Percentile(browserLatencies, 50),
		P95LatencyBrowserMS:  Percentile(browserLatencies, 95),
		AvgContentLenHTTP:    meanOf(httpLens),
		AvgContentLenBrowser: meanOf(browserLens),
	}
}

func meanOf(values []int64) *int64 {
	if len(values) == 0 {
		return nil
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	avg := sum / int64(len(values))
	return &avg
}
