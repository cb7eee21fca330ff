package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"

	"deepagg/internal/domain"
	"deepagg/internal/support"
)

const (
	ProviderDirect = "direct"
	robotsAgent    = "deepagg"
	robotsTTL      = time.Hour
)

// EgressPicker hands out a proxy for outbound requests. ok is false when no
// proxy is available; the request then goes out without one.
type EgressPicker interface {
	PickCandidate() (domain.ProxyCandidate, bool)
}

// EgressReporter is told about pool proxies that failed at the transport level.
type EgressReporter interface {
	ReportFailure(ctx context.Context, candidate domain.ProxyCandidate, reason string)
}

type DirectOptions struct {
	Picker        EgressPicker
	Reporter      EgressReporter
	RPS           float64
	RespectRobots bool
	Timeout       time.Duration
}

type robotsEntry struct {
	data    *robotstxt.RobotsData
	fetched time.Time
}

// Direct fetches pages itself, optionally through a pool proxy, paced per host.
type Direct struct {
	opts   DirectOptions
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	robots   map[string]robotsEntry
}

var createEgressTransport = func(candidate domain.ProxyCandidate, timeout time.Duration) (http.RoundTripper, error) {
	return support.CreateTransport(candidate, timeout)
}

func NewDirect(opts DirectOptions) *Direct {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Direct{
		opts:     opts,
		client:   &http.Client{},
		limiters: make(map[string]*rate.Limiter),
		robots:   make(map[string]robotsEntry),
	}
}

func (d *Direct) Name() string {
	return ProviderDirect
}

func (d *Direct) Fetch(ctx context.Context, req Request) Result {
	target, err := url.Parse(req.URL)
	if err != nil || target.Host == "" {
		return failure(ProviderDirect, "bad_url", fmt.Errorf("%w: invalid url %q", ErrProviderFetch, req.URL))
	}

	if err := d.limiter(target.Host).Wait(ctx); err != nil {
		return failure(ProviderDirect, "timeout", fmt.Errorf("%w: pacing: %w", ErrProviderFetch, err))
	}

	if d.opts.RespectRobots && !d.allowed(ctx, target) {
		return failure(ProviderDirect, "robots_disallowed", fmt.Errorf("%w: robots.txt disallows %s", ErrProviderFetch, target.Path))
	}

	client := d.client
	provider := ProviderDirect
	var egress domain.ProxyCandidate
	viaPool := false
	if d.opts.Picker != nil {
		if egress, viaPool = d.opts.Picker.PickCandidate(); viaPool {
			transport, err := createEgressTransport(egress, d.opts.Timeout)
			if err != nil {
				return failure(ProviderDirect, "egress", fmt.Errorf("%w: %w", ErrProviderFetch, err))
			}
			client = &http.Client{Transport: transport}
			log.Debug("direct fetch via pool proxy", "proxy", egress.Key(), "host", target.Host)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return failure(provider, "error", fmt.Errorf("%w: %w", ErrProviderFetch, err))
	}
	setPageHeaders(httpReq)

	result := doPageRequest(ctx, client, provider, httpReq)
	if viaPool && !result.OK && result.Status == 0 && ctx.Err() == nil && d.opts.Reporter != nil {
		d.opts.Reporter.ReportFailure(ctx, egress, result.Reason)
	}
	return result
}

func (d *Direct) limiter(host string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()

	limiter, ok := d.limiters[host]
	if !ok {
		limit := rate.Inf
		if d.opts.RPS > 0 {
			limit = rate.Limit(d.opts.RPS)
		}
		limiter = rate.NewLimiter(limit, 1)
		d.limiters[host] = limiter
	}
	return limiter
}

// allowed consults the host's robots.txt. An unreachable robots.txt allows
// everything.
func (d *Direct) allowed(ctx context.Context, target *url.URL) bool {
	d.mu.Lock()
	entry, ok := d.robots[target.Host]
	d.mu.Unlock()

	if !ok || time.Since(entry.fetched) > robotsTTL {
		entry = robotsEntry{data: d.fetchRobots(ctx, target), fetched: time.Now()}
		d.mu.Lock()
		d.robots[target.Host] = entry
		d.mu.Unlock()
	}

	if entry.data == nil {
		return true
	}
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	return entry.data.TestAgent(path, robotsAgent)
}

func (d *Direct) fetchRobots(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	robotsURL := url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/robots.txt"}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		log.Debug("robots.txt unavailable", "host", target.Host, "error", err)
		return nil
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		log.Debug("robots.txt unparsable", "host", target.Host, "error", err)
		return nil
	}
	return data
}
