package fetcher

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
)

const (
	ProviderScrapingBee = "scrapingbee"
	scrapingBeeEndpoint = "https://app.scrapingbee.com/api/v1/"
)

// ScrapingBee spreads requests over several API keys, picking one at random
// per request.
type ScrapingBee struct {
	keys     []string
	endpoint string
	client   *http.Client
}

func NewScrapingBee(keys []string) *ScrapingBee {
	kept := make([]string, 0, len(keys))
	for _, key := range keys {
		if key != "" {
			kept = append(kept, key)
		}
	}
	return &ScrapingBee{keys: kept, endpoint: scrapingBeeEndpoint, client: &http.Client{}}
}

func (s *ScrapingBee) Name() string {
	return ProviderScrapingBee
}

func (s *ScrapingBee) Fetch(ctx context.Context, req Request) Result {
	if len(s.keys) == 0 {
		return failure(ProviderScrapingBee, "config_error", fmt.Errorf("%w: scrapingbee keys missing", ErrProviderFetch))
	}
	key := s.keys[rand.IntN(len(s.keys))]

	apiURL, err := url.Parse(s.endpoint)
	if err != nil {
		return failure(ProviderScrapingBee, "config_error", fmt.Errorf("%w: %w", ErrProviderFetch, err))
	}
	params := apiURL.Query()
	params.Set("api_key", key)
	params.Set("url", req.URL)
	params.Set("render_js", "false")
	params.Set("premium_proxy", "true")
	params.Set("country_code", "ru")
	params.Set("block_ads", "true")
	params.Set("block_resources", "true")
	params.Set("stealth_proxy", "true")
	if req.Session > 0 {
		params.Set("session_id", strconv.Itoa(req.Session))
	}
	apiURL.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL.String(), nil)
	if err != nil {
		return failure(ProviderScrapingBee, "error", fmt.Errorf("%w: %w", ErrProviderFetch, err))
	}
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml")
	httpReq.Header.Set("Accept-Language", acceptLanguage)

	return doPageRequest(ctx, s.client, ProviderScrapingBee, httpReq)
}
