package proxysource

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"deepagg/internal/domain"
)

const (
	userAgent       = "deep-proxy-rotator/1.0"
	DefaultInterval = 60 * time.Second
	maxFeedBytes    = 8 << 20
	feedFetchTries  = 2
)

var ErrSourceFetch = errors.New("proxy source fetch failed")

var linePattern = regexp.MustCompile(`^[0-9.:\[\]a-fA-F]+:[0-9]+$`)

// Feed is one line-oriented proxy list. Hint is used when the URL carries no
// protocol marker.
type Feed struct {
	URL  string
	Hint string
}

type Collector struct {
	feeds   []Feed
	client  *http.Client
	timeout time.Duration
}

func NewCollector(feedURLs []string, timeout time.Duration) *Collector {
	feeds := make([]Feed, 0, len(feedURLs))
	for _, u := range feedURLs {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		feeds = append(feeds, Feed{URL: u})
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Collector{
		feeds:   feeds,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// WithFeeds replaces the feed list, allowing protocol hints per feed.
func (c *Collector) WithFeeds(feeds ...Feed) *Collector {
	c.feeds = append([]Feed(nil), feeds...)
	return c
}

func (c *Collector) Feeds() []Feed {
	return append([]Feed(nil), c.feeds...)
}

// CollectRaw fetches every feed concurrently and returns the deduplicated
// union. A failing feed contributes nothing; it never fails the harvest.
func (c *Collector) CollectRaw(ctx context.Context) []domain.ProxyCandidate {
	chunks := make([][]domain.ProxyCandidate, len(c.feeds))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, feed := range c.feeds {
		group.Go(func() error {
			list, err := c.fetchFeed(groupCtx, feed)
			if err != nil {
				log.Warn("proxy feed skipped", "url", feed.URL, "error", err)
				return nil
			}
			chunks[i] = list
			return nil
		})
	}
	_ = group.Wait()

	flat := make([]domain.ProxyCandidate, 0)
	for _, chunk := range chunks {
		flat = append(flat, chunk...)
	}
	return Dedup(flat)
}

// Loop harvests, hands the result to notify, then waits interval. It returns
// once ctx is cancelled.
func (c *Collector) Loop(ctx context.Context, interval time.Duration, notify func([]domain.ProxyCandidate)) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		list := c.CollectRaw(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Debug("proxy feeds harvested", "count", len(list))
		if notify != nil {
			notify(list)
		}
		timer.Reset(interval)
	}
}

func (c *Collector) fetchFeed(ctx context.Context, feed Feed) ([]domain.ProxyCandidate, error) {
	operation := func() (string, error) {
		body, status, err := c.download(ctx, feed.URL)
		if err != nil {
			return "", err
		}
		if status > 399 {
			err := fmt.Errorf("%w: status %d", ErrSourceFetch, status)
			if status < 500 {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		return body, nil
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(feedFetchTries),
		backoff.WithMaxElapsedTime(c.timeout*feedFetchTries),
	)
	if err != nil {
		if !errors.Is(err, ErrSourceFetch) {
			err = fmt.Errorf("%w: %w", ErrSourceFetch, err)
		}
		return nil, err
	}

	return ParseLines(body, InferProtocol(feed.URL, feed.Hint), feed.URL), nil
}

func (c *Collector) download(ctx context.Context, url string) (string, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(data), resp.StatusCode, nil
}

// InferProtocol derives the protocol from markers in the feed URL.
func InferProtocol(feedURL, hint string) string {
	lower := strings.ToLower(feedURL)
	switch {
	case strings.Contains(lower, domain.ProtocolSOCKS5):
		return domain.ProtocolSOCKS5
	case strings.Contains(lower, domain.ProtocolSOCKS4):
		return domain.ProtocolSOCKS4
	case strings.Contains(lower, domain.ProtocolHTTPS):
		return domain.ProtocolHTTPS
	case hint != "":
		return strings.ToLower(hint)
	default:
		return domain.ProtocolHTTP
	}
}

// ParseLines turns a host:port per line body into candidates. Lines that do
// not match are ignored.
func ParseLines(body, protocol, source string) []domain.ProxyCandidate {
	out := make([]domain.ProxyCandidate, 0)
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !linePattern.MatchString(line) {
			continue
		}

		host, portStr, err := net.SplitHostPort(line)
		if err != nil || host == "" {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			continue
		}

		out = append(out, domain.ProxyCandidate{
			Host:       host,
			Port:       port,
			Protocol:   protocol,
			SourceFeed: source,
		})
	}
	return out
}

// Dedup keeps the first occurrence of every (protocol, host, port) key.
func Dedup(list []domain.ProxyCandidate) []domain.ProxyCandidate {
	seen := make(map[string]struct{}, len(list))
	out := make([]domain.ProxyCandidate, 0, len(list))
	for _, candidate := range list {
		key := candidate.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, candidate)
	}
	return out
}
