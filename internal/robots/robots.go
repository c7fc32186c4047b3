// Package robots answers "may this agent fetch this URL" backed by one
// robots.txt fetch per domain, cached for the run's lifetime.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	fetchTimeout = 5 * time.Second
	maxRobotsLen = 1 << 20
)

// Gate checks robots.txt compliance per domain. Cache population is
// serialized per host so concurrent jobs on a new domain trigger exactly one
// robots fetch. A failed fetch or an HTTP error resolves to allow: a false
// allow costs one etiquette-neutral request, a false block discards the URL.
type Gate struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]*robotstxt.RobotsData
}

// NewGate builds a Gate using the given HTTP transport. A nil client gets a
// default one; the fetch timeout is fixed regardless.
func NewGate(client *http.Client, userAgent string, logger *zap.Logger) *Gate {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
		cache:     make(map[string]*robotstxt.RobotsData),
	}
}

// CanFetch reports whether the configured agent may fetch rawURL. It never
// returns an error; any internal failure resolves to true.
func (g *Gate) CanFetch(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return true
	}
	data := g.load(ctx, parsed)
	if data == nil {
		return true
	}
	group := data.FindGroup(g.userAgent)
	if group == nil {
		return true
	}
	target := parsed.EscapedPath()
	if target == "" {
		target = "/"
	}
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	return group.Test(target)
}

func (g *Gate) load(ctx context.Context, parsed *url.URL) *robotstxt.RobotsData {
	hostKey := strings.ToLower(parsed.Host)
	g.mu.RLock()
	data, ok := g.cache[hostKey]
	g.mu.RUnlock()
	if ok {
		return data
	}

	fetched, _, _ := g.group.Do(hostKey, func() (any, error) {
		g.mu.RLock()
		cached, ok := g.cache[hostKey]
		g.mu.RUnlock()
		if ok {
			return cached, nil
		}
		data := g.fetch(ctx, parsed)
		g.mu.Lock()
		g.cache[hostKey] = data
		g.mu.Unlock()
		return data, nil
	})
	result, _ := fetched.(*robotstxt.RobotsData)
	return result
}

// fetch retrieves and parses robots.txt for the URL's host. Network errors
// and HTTP >= 400 parse as an empty ruleset, which allows everything.
func (g *Gate) fetch(ctx context.Context, parsed *url.URL) *robotstxt.RobotsData {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", parsed.Scheme, parsed.Host)

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return emptyRules()
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Debug("robots fetch failed; allowing host",
			zap.String("host", parsed.Host), zap.Error(err))
		return emptyRules()
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return emptyRules()
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsLen))
	if err != nil {
		return emptyRules()
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		g.logger.Debug("robots parse failed; allowing host",
			zap.String("host", parsed.Host), zap.Error(err))
		return emptyRules()
	}
	return data
}

func emptyRules() *robotstxt.RobotsData {
	data, _ := robotstxt.FromBytes(nil)
	return data
}
