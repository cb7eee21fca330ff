package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deepagg/internal/domain"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func okResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(`{"ip":"1.2.3.4"}`)),
		Header:     make(http.Header),
		Request:    req,
	}
}

func stubTransport(t *testing.T, rt http.RoundTripper) {
	t.Helper()
	original := transportFactory
	transportFactory = func(domain.ProxyCandidate, time.Duration) (http.RoundTripper, error) {
		return rt, nil
	}
	t.Cleanup(func() { transportFactory = original })
}

func stepClock(t *testing.T, step time.Duration) {
	t.Helper()
	original := nowFunc
	var mu sync.Mutex
	current := time.Unix(1700000000, 0)
	nowFunc = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(step)
		return current
	}
	t.Cleanup(func() { nowFunc = original })
}

func TestCheckProxy_ThreeFastTargets(t *testing.T) {
	stubTransport(t, roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return okResponse(req), nil
	}))
	stepClock(t, 10*time.Millisecond)

	checker := NewChecker(Options{
		Targets: []string{"http://a.test/", "http://b.test/", "http://c.test/"},
		Timeout: time.Second,
	})

	result := checker.CheckProxy(context.Background(), domain.ProxyCandidate{Host: "1.2.3.4", Port: 8080, Protocol: domain.ProtocolHTTP})
	if !result.Alive {
		t.Fatal("expected proxy to be alive")
	}
	if result.Score != 30 {
		t.Fatalf("score = %d, want 30", result.Score)
	}
	if result.BestLatencyMs != 10 || result.WorstLatencyMs != 10 {
		t.Fatalf("best/worst = %d/%d, want 10/10", result.BestLatencyMs, result.WorstLatencyMs)
	}
	if len(result.Checks) != 3 {
		t.Fatalf("len(checks) = %d, want 3", len(result.Checks))
	}
}

func TestCheckProxy_ScorePenalizesLatency(t *testing.T) {
	stubTransport(t, roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return okResponse(req), nil
	}))
	stepClock(t, 120*time.Millisecond)

	checker := NewChecker(Options{Targets: []string{"http://a.test/"}, Timeout: time.Second})

	result := checker.CheckProxy(context.Background(), domain.ProxyCandidate{Host: "1.2.3.4", Port: 8080, Protocol: domain.ProtocolHTTP})
	if result.Score != 8 {
		t.Fatalf("score = %d, want 8 (10 - floor(120/50))", result.Score)
	}
}

func TestCheckProxy_FailedProbeUsesSentinelAndContinues(t *testing.T) {
	var calls atomic.Int32
	stubTransport(t, roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		resp := okResponse(req)
		resp.StatusCode = http.StatusInternalServerError
		return resp, nil
	}))

	checker := NewChecker(Options{Targets: []string{"http://a.test/", "http://b.test/"}, Timeout: 200 * time.Millisecond})

	result := checker.CheckProxy(context.Background(), domain.ProxyCandidate{Host: "1.2.3.4", Port: 8080, Protocol: domain.ProtocolHTTP})
	if result.Alive {
		t.Fatal("expected proxy to be dead")
	}
	if calls.Load() != 2 {
		t.Fatalf("probe calls = %d, want 2", calls.Load())
	}
	if result.Checks[0].LatencyMs != 201 || result.Checks[0].OK {
		t.Fatalf("failed check = %+v, want sentinel latency 201", result.Checks[0])
	}
	if result.Checks[1].Status != http.StatusInternalServerError || result.Checks[1].OK {
		t.Fatalf("second check = %+v, want non-ok 500", result.Checks[1])
	}
	if result.Score != 0 {
		t.Fatalf("score = %d, want 0", result.Score)
	}
}

func TestCheckProxy_ThroughHTTPProxy(t *testing.T) {
	var proxied atomic.Int32
	proxyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.IsAbs() {
			proxied.Add(1)
		}
		fmt.Fprint(w, `{"ip":"9.9.9.9"}`)
	}))
	defer proxyServer.Close()

	addr := strings.TrimPrefix(proxyServer.URL, "http://")
	host, port, _ := strings.Cut(addr, ":")
	var portNum int
	fmt.Sscanf(port, "%d", &portNum)

	checker := NewChecker(Options{Targets: []string{"http://target.invalid/ip"}, Timeout: 2 * time.Second})
	result := checker.CheckProxy(context.Background(), domain.ProxyCandidate{Host: host, Port: portNum, Protocol: domain.ProtocolHTTP})

	if !result.Alive {
		t.Fatalf("expected proxy to be alive, checks=%+v", result.Checks)
	}
	if proxied.Load() != 1 {
		t.Fatalf("proxied requests = %d, want 1", proxied.Load())
	}
}

type staticGeo string

func (g staticGeo) Country(string) string { return string(g) }

func TestCheckProxy_TagsCountryForAliveProxies(t *testing.T) {
	stubTransport(t, roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return okResponse(req), nil
	}))

	checker := NewChecker(Options{Targets: []string{"http://a.test/"}, Geo: staticGeo("DE")})
	result := checker.CheckProxy(context.Background(), domain.ProxyCandidate{Host: "1.2.3.4", Port: 80, Protocol: domain.ProtocolHTTP})
	if result.Country != "DE" {
		t.Fatalf("country = %q, want DE", result.Country)
	}
}

func TestCheckMany_BoundedConcurrencyAndExactlyOnce(t *testing.T) {
	const limit = 4
	var (
		inFlight atomic.Int32
		peak     atomic.Int32
		mu       sync.Mutex
		seen     = map[string]int{}
	)

	original := checkProxyFunc
	checkProxyFunc = func(c *Checker, ctx context.Context, candidate domain.ProxyCandidate) domain.ProxyHealthResult {
		current := inFlight.Add(1)
		for {
			old := peak.Load()
			if current <= old || peak.CompareAndSwap(old, current) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		seen[candidate.Key()]++
		mu.Unlock()
		inFlight.Add(-1)
		return domain.ProxyHealthResult{ProxyCandidate: candidate, Alive: candidate.Port%2 == 0}
	}
	t.Cleanup(func() { checkProxyFunc = original })

	list := make([]domain.ProxyCandidate, 0, 25)
	for i := 0; i < 25; i++ {
		list = append(list, domain.ProxyCandidate{Host: "10.0.0.1", Port: 1000 + i, Protocol: domain.ProtocolHTTP})
	}

	checker := NewChecker(Options{Concurrency: limit})
	results := checker.CheckMany(context.Background(), list)

	if len(results) != len(list) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(list))
	}
	if peak.Load() > limit {
		t.Fatalf("peak in-flight = %d, want <= %d", peak.Load(), limit)
	}
	for _, candidate := range list {
		if seen[candidate.Key()] != 1 {
			t.Fatalf("%s checked %d times, want 1", candidate.Key(), seen[candidate.Key()])
		}
	}
	if alive := AliveOnly(results); len(alive) != 13 {
		t.Fatalf("len(alive) = %d, want 13", len(alive))
	}
}

func TestCheckMany_EmptyList(t *testing.T) {
	checker := NewChecker(Options{})
	if results := checker.CheckMany(context.Background(), nil); len(results) != 0 {
		t.Fatalf("len(results) = %d, want 0", len(results))
	}
}

func TestOpenGeoIP_MissingFile(t *testing.T) {
	if _, err := OpenGeoIP(t.TempDir() + "/missing.mmdb"); err == nil {
		t.Fatal("expected error for missing geoip database")
	}
	var geo *GeoIP
	if geo.Country("1.2.3.4") != "" {
		t.Fatal("nil GeoIP should return empty country")
	}
}
