package fetch

import (
	"context"

	"go.uber.org/zap"

	"github.com/hybridfetch/hybridfetch/internal/metrics"
	"github.com/hybridfetch/hybridfetch/internal/result"
)

// minCompleteContentLen is the smallest successful HTTP body accepted
// without a browser pass. Anything smaller is assumed to be a JS shell.
const minCompleteContentLen = 1024

// Router drives the HTTP-first strategy with optional browser escalation.
// Browser may be nil when no browser capability exists for the run.
type Router struct {
	HTTP    Strategy
	Browser Strategy
	Sched   Admission
	Logger  *zap.Logger
}

// NeedsBrowser decides whether a browser pass could improve on an HTTP
// result. It is pure: same result in, same answer out.
func NeedsBrowser(r result.FetchResult) bool {
	switch r.Status {
	case result.StatusRobotsBlocked, result.StatusCaptchaDetected:
		// Neither improves with JavaScript.
		return false
	case result.StatusSuccess:
		return r.ContentLen < minCompleteContentLen || jsRequired(r.Content)
	case result.StatusTimeout:
		return true
	case result.StatusHTTPError:
		if r.HTTPStatus != nil {
			switch *r.HTTPStatus {
			case 401, 403, 404, 410:
				// Auth walls and dead resources stay dead in a browser.
				return false
			}
		}
		return true
	case result.StatusTooLarge, result.StatusInvalidURL, result.StatusOtherError:
		return false
	default:
		return false
	}
}

// RouteAndFetch attempts the HTTP path, then escalates to the browser when
// the result warrants it, the browser capability exists and the domain's
// circuit breaker is still closed. If escalation is gated off, the HTTP
// result stands.
func (rt *Router) RouteAndFetch(ctx context.Context, job result.UrlJob) result.FetchResult {
	res := rt.HTTP.FetchOne(ctx, job)
	if !NeedsBrowser(res) {
		return res
	}

	domainOK := res.Domain == "" || rt.Sched.ShouldTryBrowser(res.Domain)
	if rt.Browser == nil || !domainOK {
		metrics.ObserveEscalation(true)
		if rt.Logger != nil {
			rt.Logger.Debug("browser needed but not used",
				zap.String("url", job.URL),
				zap.String("status", string(res.Status)),
				zap.Bool("domain_ok", domainOK))
		}
		return res
	}

	metrics.ObserveEscalation(false)
	if rt.Logger != nil {
		rt.Logger.Info("browser fallback",
			zap.String("url", job.URL),
			zap.String("http_status", string(res.Status)))
	}
	return rt.Browser.FetchOne(ctx, job)
}
