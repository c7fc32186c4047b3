// Package scheduler implements two-level concurrency admission control with
// adaptive circuit-breaking for the browser path. A job must hold both the
// global slot and its domain slot before a network call may run.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Defaults mirror the configuration surface; callers normally go through
// config but tests construct the scheduler directly.
const (
	DefaultGlobalLimit    = 32
	DefaultPerDomainLimit = 4
	DefaultMaxErrors      = 5
	DefaultMaxCaptchas    = 5
)

// Config tunes a Scheduler.
type Config struct {
	GlobalLimit     int
	PerDomainLimit  int
	DomainOverrides map[string]int
	MaxErrors       int64
	MaxCaptchas     int64
	JitterMin       time.Duration
	JitterMax       time.Duration
}

// domainState holds the per-domain semaphore and failure counters. Created
// lazily on first reference and retained for the process lifetime.
type domainState struct {
	sem      *semaphore.Weighted
	errors   atomic.Int64
	captchas atomic.Int64
}

// Scheduler gates concurrent network calls per run. One instance per run;
// the per-domain state store is owned exclusively by that instance.
type Scheduler struct {
	global      *semaphore.Weighted
	perDomain   int64
	overrides   map[string]int64
	maxErrors   int64
	maxCaptchas int64
	jitterMin   time.Duration
	jitterMax   time.Duration

	mu      sync.Mutex
	domains map[string]*domainState
}

// New constructs a Scheduler, applying defaults for unset fields. Domain
// override keys are matched case-insensitively against the job's host.
func New(cfg Config) *Scheduler {
	if cfg.GlobalLimit <= 0 {
		cfg.GlobalLimit = DefaultGlobalLimit
	}
	if cfg.PerDomainLimit <= 0 {
		cfg.PerDomainLimit = DefaultPerDomainLimit
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = DefaultMaxErrors
	}
	if cfg.MaxCaptchas <= 0 {
		cfg.MaxCaptchas = DefaultMaxCaptchas
	}
	overrides := make(map[string]int64, len(cfg.DomainOverrides))
	for host, limit := range cfg.DomainOverrides {
		if limit > 0 {
			overrides[strings.ToLower(host)] = int64(limit)
		}
	}
	return &Scheduler{
		global:      semaphore.NewWeighted(int64(cfg.GlobalLimit)),
		perDomain:   int64(cfg.PerDomainLimit),
		overrides:   overrides,
		maxErrors:   cfg.MaxErrors,
		maxCaptchas: cfg.MaxCaptchas,
		jitterMin:   cfg.JitterMin,
		jitterMax:   cfg.JitterMax,
		domains:     make(map[string]*domainState),
	}
}

func (s *Scheduler) state(domain string) *domainState {
	key := strings.ToLower(domain)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.domains[key]
	if !ok {
		limit := s.perDomain
		if override, ok := s.overrides[key]; ok {
			limit = override
		}
		st = &domainState{sem: semaphore.NewWeighted(limit)}
		s.domains[key] = st
	}
	return st
}

// Acquire blocks until both the global slot and the domain slot are free,
// then optionally sleeps a randomized jitter interval to decorrelate bursts.
// Every successful Acquire must be paired with exactly one Release.
func (s *Scheduler) Acquire(ctx context.Context, domain string) error {
	if err := s.global.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire global slot: %w", err)
	}
	st := s.state(domain)
	if err := st.sem.Acquire(ctx, 1); err != nil {
		s.global.Release(1)
		return fmt.Errorf("acquire domain slot for %s: %w", domain, err)
	}
	if s.jitterMax > 0 {
		s.sleepJitter(ctx)
	}
	return nil
}

// Release returns both slots. It must run on every exit path after a
// successful Acquire, exactly once.
func (s *Scheduler) Release(domain string) {
	s.state(domain).sem.Release(1)
	s.global.Release(1)
}

// RecordError increments the domain's error counter. Counters never reset
// within a run.
func (s *Scheduler) RecordError(domain string) {
	s.state(domain).errors.Add(1)
}

// RecordCaptcha increments the domain's CAPTCHA counter.
func (s *Scheduler) RecordCaptcha(domain string) {
	s.state(domain).captchas.Add(1)
}

// ShouldTryBrowser reports whether the expensive browser path is still worth
// attempting for this domain. Once either counter crosses its threshold the
// answer stays false for the rest of the run.
func (s *Scheduler) ShouldTryBrowser(domain string) bool {
	st := s.state(domain)
	return st.errors.Load() < s.maxErrors && st.captchas.Load() < s.maxCaptchas
}

func (s *Scheduler) sleepJitter(ctx context.Context) {
	d := s.jitterMin
	if span := s.jitterMax - s.jitterMin; span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
