package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"deepagg/internal/domain"
	"deepagg/internal/support"
)

const (
	userAgent          = "deep-proxy-rotator/1.0"
	DefaultTimeout     = 3500 * time.Millisecond
	DefaultConcurrency = 50
	DefaultTarget      = "https://api.ipify.org?format=json"
	maxProbeBody       = 64 << 10
)

var ErrProbeTimeout = errors.New("proxy probe failed")

// CountryLookup resolves a proxy host to an ISO country code. Empty means unknown.
type CountryLookup interface {
	Country(host string) string
}

type Options struct {
	Targets     []string
	Timeout     time.Duration
	Concurrency int
	Geo         CountryLookup
}

type Checker struct {
	targets     []string
	timeout     time.Duration
	concurrency int
	geo         CountryLookup
}

var (
	transportFactory = func(candidate domain.ProxyCandidate, timeout time.Duration) (http.RoundTripper, error) {
		return support.CreateTransport(candidate, timeout)
	}
	checkProxyFunc = func(c *Checker, ctx context.Context, candidate domain.ProxyCandidate) domain.ProxyHealthResult {
		return c.CheckProxy(ctx, candidate)
	}
	nowFunc = time.Now
)

func NewChecker(opts Options) *Checker {
	targets := make([]string, 0, len(opts.Targets))
	for _, target := range opts.Targets {
		if target != "" {
			targets = append(targets, target)
		}
	}
	if len(targets) == 0 {
		targets = []string{DefaultTarget}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Checker{
		targets:     targets,
		timeout:     timeout,
		concurrency: concurrency,
		geo:         opts.Geo,
	}
}

func (c *Checker) Concurrency() int {
	return c.concurrency
}

// CheckProxy probes every target in order through the candidate. Failed probes
// are recorded and never retried.
func (c *Checker) CheckProxy(ctx context.Context, candidate domain.ProxyCandidate) domain.ProxyHealthResult {
	result := domain.ProxyHealthResult{
		ProxyCandidate: candidate,
		Checks:         make([]domain.ProbeCheck, 0, len(c.targets)),
	}

	transport, err := transportFactory(candidate, c.timeout)
	if err != nil {
		log.Debug("proxy transport unavailable", "proxy", candidate.Key(), "error", err)
		for _, target := range c.targets {
			result.Checks = append(result.Checks, c.failedProbe(target, 0))
		}
		return result
	}
	if closer, ok := transport.(interface{ CloseIdleConnections() }); ok {
		defer closer.CloseIdleConnections()
	}

	successes := 0
	for _, target := range c.targets {
		check := c.probe(ctx, transport, target)
		result.Checks = append(result.Checks, check)
		if !check.OK {
			continue
		}

		successes++
		result.Score += 10
		result.Score -= int(check.LatencyMs / 50)
		if successes == 1 || check.LatencyMs < result.BestLatencyMs {
			result.BestLatencyMs = check.LatencyMs
		}
		if check.LatencyMs > result.WorstLatencyMs {
			result.WorstLatencyMs = check.LatencyMs
		}
	}

	result.Alive = successes > 0
	if result.Alive && c.geo != nil {
		result.Country = c.geo.Country(candidate.Host)
	}
	return result
}

func (c *Checker) probe(ctx context.Context, transport http.RoundTripper, target string) domain.ProbeCheck {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, target, nil)
	if err != nil {
		return c.failedProbe(target, 0)
	}
	req.Header.Set("User-Agent", userAgent)

	client := &http.Client{
		Transport: transport,
		Timeout:   c.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > 1 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	started := nowFunc()
	resp, err := client.Do(req)
	if err != nil {
		log.Debug("proxy probe failed", "target", target, "error", fmt.Errorf("%w: %w", ErrProbeTimeout, err))
		return c.failedProbe(target, 0)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProbeBody))
	_ = resp.Body.Close()

	elapsed := nowFunc().Sub(started).Milliseconds()
	if elapsed < 1 {
		elapsed = 1
	}

	return domain.ProbeCheck{
		OK:        resp.StatusCode >= 200 && resp.StatusCode < 400,
		LatencyMs: elapsed,
		Status:    resp.StatusCode,
		URL:       target,
	}
}

func (c *Checker) failedProbe(target string, status int) domain.ProbeCheck {
	return domain.ProbeCheck{
		OK:        false,
		LatencyMs: c.timeout.Milliseconds() + 1,
		Status:    status,
		URL:       target,
	}
}

// CheckMany checks every candidate once with at most Concurrency checks in
// flight. A slot is handed to the next candidate as soon as one settles.
// Results are returned in completion order.
func (c *Checker) CheckMany(ctx context.Context, list []domain.ProxyCandidate) []domain.ProxyHealthResult {
	results := make([]domain.ProxyHealthResult, 0, len(list))
	if len(list) == 0 {
		return results
	}

	sem := semaphore.NewWeighted(int64(c.concurrency))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for i, candidate := range list {
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Warn("proxy check scheduling stopped", "remaining", len(list)-i, "error", err)
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			result := checkProxyFunc(c, ctx, candidate)

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}()
	}

	wg.Wait()
	return results
}

// AliveOnly keeps results with at least one successful probe, preserving order.
func AliveOnly(results []domain.ProxyHealthResult) []domain.ProxyHealthResult {
	out := make([]domain.ProxyHealthResult, 0, len(results))
	for _, result := range results {
		if result.Alive {
			out = append(out, result)
		}
	}
	return out
}
