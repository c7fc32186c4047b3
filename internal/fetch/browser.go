package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/hybridfetch/hybridfetch/internal/blockdetect"
	"github.com/hybridfetch/hybridfetch/internal/metrics"
	"github.com/hybridfetch/hybridfetch/internal/result"
)

const (
	maxBrowserRetries  = 1
	browserBackoffBase = time.Second
)

// blockedPatterns are heavy static assets the browser never needs for
// content extraction.
var blockedPatterns = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.svg",
	"*.woff", "*.woff2", "*.mp4", "*.webm",
}

// BrowserStrategyConfig tunes the slow path.
type BrowserStrategyConfig struct {
	Headless        bool
	MaxConcurrency  int
	NavTimeout      time.Duration
	MaxContentBytes int64
	UserAgent       string
	ProxyURL        *url.URL
}

// BrowserStrategy is the slow path: full page rendering in headless Chrome
// via chromedp. The browser process is a singleton for the run with its own
// concurrency ceiling; each job gets a fresh tab that is torn down afterward.
type BrowserStrategy struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	sem             chan struct{}
	robots          RobotsGate
	sched           Admission
	logger          *zap.Logger
	navTimeout      time.Duration
	maxBytes        int64
	userAgent       string
	now             func() time.Time
}

// NewBrowserStrategy launches the shared browser process. Infrastructure
// failure here is fatal for the run, unlike per-URL failures.
func NewBrowserStrategy(cfg BrowserStrategyConfig, robots RobotsGate, sched Admission, logger *zap.Logger) (*BrowserStrategy, error) {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 2
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 20 * time.Second
	}
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = 5 * 1024 * 1024
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = userAgents[0]
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ProxyURL != nil {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyURL.Host))
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser warmup: %w", err)
	}

	return &BrowserStrategy{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		sem:             make(chan struct{}, cfg.MaxConcurrency),
		robots:          robots,
		sched:           sched,
		logger:          logger,
		navTimeout:      cfg.NavTimeout,
		maxBytes:        cfg.MaxContentBytes,
		userAgent:       cfg.UserAgent,
		now:             func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close tears down the browser process.
func (s *BrowserStrategy) Close() {
	if s == nil {
		return
	}
	s.browserCancel()
	s.allocatorCancel()
}

// FetchOne renders one job in a fresh tab. Same lifecycle as the HTTP path:
// robots gate, scheduler admission, navigation with resource blocking, size
// guardrail, block classification on the rendered DOM. Only timeouts retry,
// once.
func (s *BrowserStrategy) FetchOne(ctx context.Context, job result.UrlJob) result.FetchResult {
	res := result.New(job, result.MethodBrowser, result.StageFallback, s.now())
	defer func() {
		res.Finish(s.now())
		metrics.ObserveFetch(string(res.Method), string(res.Status), res.FinishedAt.Sub(res.StartedAt), res.ContentLen)
	}()

	parsed, err := url.Parse(job.URL)
	if err != nil || parsed.Host == "" {
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
		release, err := s.acquireTab(ctx)
		if err != nil {
			res.Fail(result.StatusOtherError, "browser_slot", err)
			return res
		}

		if err := s.sched.Acquire(ctx, domain); err != nil {
			release()
			res.Fail(result.StatusOtherError, "scheduler", err)
			return res
		}
		metrics.IncInFlight(string(result.MethodBrowser))

		start := s.now()
		snap, navErr := s.navigate(ctx, job.URL)
		latency := s.now().Sub(start).Milliseconds()
		res.LatencyMS = &latency
		metrics.DecInFlight(string(result.MethodBrowser))

		if navErr != nil {
			if isTimeout(navErr) {
				res.Fail(result.StatusTimeout, "timeout", navErr)
				if attempt < maxBrowserRetries {
					attempt++
					res.Retries = attempt
					s.sched.Release(domain)
					release()
					sleepBackoff(ctx, browserBackoffBase, attempt)
					continue
				}
			} else {
				res.Fail(result.StatusHTTPError, errorKind(navErr), navErr)
			}
			s.sched.RecordError(domain)
			s.sched.Release(domain)
			release()
			return res
		}

		status := snap.statusCode
		if status == 0 {
			// Some navigations never surface a document response event;
			// a rendered DOM without one is treated as OK.
			status = http.StatusOK
		}
		res.HTTPStatus = &status
		if status >= 200 && status < 400 {
			res.Status = result.StatusSuccess
		} else {
			res.Status = result.StatusHTTPError
		}
		res.Content = snap.html
		res.ContentLen = len(snap.html)

		if int64(res.ContentLen) > s.maxBytes {
			res.Status = result.StatusTooLarge
			res.Content = ""
			s.sched.Release(domain)
			release()
			return res
		}

		detection := blockdetect.Classify(status, job.URL, snap.headers, []byte(snap.html))
		if detection.Present {
			res.CaptchaDetected = true
			res.Status = result.StatusCaptchaDetected
			res.BlockType = result.BlockCaptcha
			res.BlockVendor = string(detection.Vendor)
			metrics.ObserveCaptcha()
			s.sched.RecordCaptcha(domain)
			s.sched.Release(domain)
			release()
			return res
		}

		if res.Status == result.StatusHTTPError {
			s.sched.RecordError(domain)
		}
		s.sched.Release(domain)
		release()
		return res
	}
}

func (s *BrowserStrategy) acquireTab(ctx context.Context) (func(), error) {
	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire browser slot: %w", ctx.Err())
	}
}

// snapshot is the raw outcome of one navigation.
type snapshot struct {
	statusCode int
	headers    http.Header
	html       string
}

// navigate opens a fresh tab, blocks heavy asset requests, loads the page
// and extracts the rendered DOM.
func (s *BrowserStrategy) navigate(ctx context.Context, rawURL string) (snapshot, error) {
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, s.navTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		meta.once.Do(func() {
			meta.statusCode = int(resp.Response.Status)
			for k, v := range resp.Response.Headers {
				meta.headers.Add(k, fmt.Sprint(v))
			}
		})
	})

	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		network.SetBlockedURLs(blockedPatterns),
		emulation.SetUserAgentOverride(s.userAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return snapshot{}, fmt.Errorf("navigate: %w", err)
	}
	return snapshot{statusCode: meta.statusCode, headers: meta.headers, html: html}, nil
}

type responseMeta struct {
	once       sync.Once
	statusCode int
	headers    http.Header
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: make(http.Header)}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
