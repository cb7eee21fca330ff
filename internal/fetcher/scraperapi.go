package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const (
	ProviderScraperAPI = "scraperapi"
	scraperAPIEndpoint = "http://api.scraperapi.com"
)

type ScraperAPI struct {
	key      string
	endpoint string
	client   *http.Client
}

func NewScraperAPI(key string) *ScraperAPI {
	return &ScraperAPI{key: key, endpoint: scraperAPIEndpoint, client: &http.Client{}}
}

func (s *ScraperAPI) Name() string {
	return ProviderScraperAPI
}

func (s *ScraperAPI) Fetch(ctx context.Context, req Request) Result {
	if s.key == "" {
		return failure(ProviderScraperAPI, "config_error", fmt.Errorf("%w: scraperapi key missing", ErrProviderFetch))
	}

	apiURL, err := url.Parse(s.endpoint)
	if err != nil {
		return failure(ProviderScraperAPI, "config_error", fmt.Errorf("%w: %w", ErrProviderFetch, err))
	}
	params := apiURL.Query()
	params.Set("api_key", s.key)
	params.Set("url", req.URL)
	params.Set("render", "false")
	params.Set("keep_headers", "true")
	params.Set("country_code", "ru")
	params.Set("retry_404", "false")
	params.Set("retry_num", "1")
	if req.Session > 0 {
		params.Set("session_number", strconv.Itoa(req.Session))
	}
	apiURL.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL.String(), nil)
	if err != nil {
		return failure(ProviderScraperAPI, "error", fmt.Errorf("%w: %w", ErrProviderFetch, err))
	}
	setPageHeaders(httpReq)

	return doPageRequest(ctx, s.client, ProviderScraperAPI, httpReq)
}
