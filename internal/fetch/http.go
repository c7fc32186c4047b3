package fetch

import (
	"context"
	"errors"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/hybridfetch/hybridfetch/internal/blockdetect"
	"github.com/hybridfetch/hybridfetch/internal/metrics"
	"github.com/hybridfetch/hybridfetch/internal/result"
)

const (
	maxHTTPRetries  = 2
	httpBackoffBase = 500 * time.Millisecond
)

// transientStatuses are worth a retry: upstream hiccups and rate limits.
var transientStatuses = map[int]struct{}{
	http.StatusBadGateway:         {},
	http.StatusServiceUnavailable: {},
	http.StatusGatewayTimeout:     {},
	http.StatusTooManyRequests:    {},
}

// HTTPStrategyConfig tunes the fast path.
type HTTPStrategyConfig struct {
	Timeout         time.Duration
	MaxConcurrency  int
	MaxContentBytes int64
	ProxyURL        *url.URL
}

// HTTPStrategy is the fast path: a plain HTTP GET via a Colly collector,
// no JavaScript execution.
type HTTPStrategy struct {
	base     *colly.Collector
	robots   RobotsGate
	sched    Admission
	logger   *zap.Logger
	maxBytes int64
	now      func() time.Time
}

// NewHTTPStrategy constructs a configured Colly-backed strategy. The robots
// gate and admission control are consulted on every fetch; the collector
// itself runs with its own robots handling disabled so the gate is the single
// source of truth.
func NewHTTPStrategy(cfg HTTPStrategyConfig, robots RobotsGate, sched Admission, logger *zap.Logger) (*HTTPStrategy, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 32
	}
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = 5 * 1024 * 1024
	}

	base := colly.NewCollector(
		colly.IgnoreRobotsTxt(),
	)
	base.AllowURLRevisit = true
	base.ParseHTTPErrorResponse = true
	base.MaxBodySize = int(cfg.MaxContentBytes) + 1

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       cfg.MaxConcurrency * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	}
	if cfg.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(cfg.ProxyURL)
	}
	base.WithTransport(transport)
	base.SetRequestTimeout(cfg.Timeout)

	return &HTTPStrategy{
		base:     base,
		robots:   robots,
		sched:    sched,
		logger:   logger,
		maxBytes: cfg.MaxContentBytes,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// FetchOne runs the full HTTP lifecycle for one job: robots gate, scheduler
// admission, one or more GET attempts with backoff, size guardrail and block
// classification. It never returns an error; every failure is a status.
func (s *HTTPStrategy) FetchOne(ctx context.Context, job result.UrlJob) result.FetchResult {
	res := result.New(job, result.MethodHTTP, result.StagePrimary, s.now())
	defer func() {
		res.Finish(s.now())
		metrics.ObserveFetch(string(res.Method), string(res.Status), res.FinishedAt.Sub(res.StartedAt), res.ContentLen)
	}()

	parsed, err := url.Parse(job.URL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		res.Fail(result.StatusInvalidURL, "invalid_url", err)
		return res
	}
	domain := parsed.Host
	res.Domain = domain

	if !s.robots.CanFetch(ctx, job.URL) {
		res.Status = result.StatusRobotsBlocked
		res.RobotsDisallowed = true
		res.BlockType = result.BlockRobots
		metrics.ObserveRobotsBlocked()
		return res
	}

	attempt := 0
	for {
		res.ResetAttempt()
		if err := s.sched.Acquire(ctx, domain); err != nil {
			res.Fail(result.StatusOtherError, "scheduler", err)
			return res
		}
		metrics.IncInFlight(string(result.MethodHTTP))

		start := s.now()
		page, fetchErr := s.doRequest(ctx, job.URL)
		latency := s.now().Sub(start).Milliseconds()
		res.LatencyMS = &latency
		metrics.DecInFlight(string(result.MethodHTTP))

		if fetchErr != nil {
			if isTimeout(fetchErr) {
				res.Fail(result.StatusTimeout, "timeout", fetchErr)
				if attempt < maxHTTPRetries {
					attempt++
					res.Retries = attempt
					s.sched.Release(domain)
					sleepBackoff(ctx, httpBackoffBase, attempt)
					continue
				}
				s.sched.RecordError(domain)
				s.sched.Release(domain)
				return res
			}
			res.Fail(result.StatusHTTPError, errorKind(fetchErr), fetchErr)
			s.sched.RecordError(domain)
			s.sched.Release(domain)
			return res
		}

		res.HTTPStatus = &page.statusCode
		if page.statusCode >= 200 && page.statusCode < 400 {
			res.Status = result.StatusSuccess
		} else {
			res.Status = result.StatusHTTPError
		}
		res.ContentLen = len(page.body)
		res.Encoding = encodingOf(page.headers)

		if int64(res.ContentLen) > s.maxBytes {
			res.Status = result.StatusTooLarge
			res.Content = ""
			s.sched.Release(domain)
			return res
		}

		if isHTML(page.headers) {
			res.Content = string(page.body)
			detection := blockdetect.Classify(page.statusCode, page.finalURL, page.headers, page.body)
			if detection.Present {
				res.CaptchaDetected = true
				res.Status = result.StatusCaptchaDetected
				res.BlockType = result.BlockCaptcha
				res.BlockVendor = string(detection.Vendor)
				metrics.ObserveCaptcha()
				s.sched.RecordCaptcha(domain)
				s.sched.Release(domain)
				return res
			}
		}

		if res.Status == result.StatusHTTPError {
			if _, transient := transientStatuses[page.statusCode]; transient && attempt < maxHTTPRetries {
				attempt++
				res.Retries = attempt
				s.sched.Release(domain)
				sleepBackoff(ctx, httpBackoffBase, attempt)
				continue
			}
			s.sched.RecordError(domain)
		}

		s.sched.Release(domain)
		return res
	}
}

// page holds the raw outcome of one collector visit.
type page struct {
	statusCode int
	finalURL   string
	headers    http.Header
	body       []byte
}

// doRequest issues a single GET through a collector clone with randomized
// headers. Transport failures surface as an error; HTTP error statuses come
// back as a page, courtesy of ParseHTTPErrorResponse.
func (s *HTTPStrategy) doRequest(ctx context.Context, rawURL string) (page, error) {
	collector := s.base.Clone()
	resultCh := make(chan collectResult, 1)
	var once sync.Once
	send := func(res collectResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", randomUserAgent())
		r.Headers.Set("Accept-Language", randomAcceptLanguage())
	})

	collector.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			for k, v := range *r.Headers {
				cp := make([]string, len(v))
				copy(cp, v)
				headers[k] = cp
			}
		}
		send(collectResult{page: page{
			statusCode: r.StatusCode,
			finalURL:   r.Request.URL.String(),
			headers:    headers,
			body:       append([]byte{}, r.Body...),
		}})
	})

	collector.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(collectResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return page{}, err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return page{}, err
		}
		return res.page, res.err
	default:
		return page{}, errors.New("fetch produced no result")
	}
}

type collectResult struct {
	page page
	err  error
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// errorKind maps a transport error onto a coarse diagnostic label.
func errorKind(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return "connection_refused"
	case strings.Contains(msg, "no such host"):
		return "dns"
	case strings.Contains(msg, "proxy"):
		return "proxy"
	case strings.Contains(msg, "tls"), strings.Contains(msg, "certificate"):
		return "tls"
	default:
		return "transport"
	}
}

func isHTML(headers http.Header) bool {
	ct := strings.ToLower(headers.Get("Content-Type"))
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

func encodingOf(headers http.Header) string {
	_, params, err := mime.ParseMediaType(headers.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return params["charset"]
}
