package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html/charset"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0 Safari/537.36"
	acceptLanguage   = "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7"
	maxPageBytes     = 16 << 20
)

var blockMarkers = []string{"captcha", "CAPTCHA", "blocked", "Доступ ограничен"}

// LooksBlocked reports whether a page is a captcha or block wall.
func LooksBlocked(body string) bool {
	for _, marker := range blockMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// doPageRequest executes req and turns the response into a Result, decoding
// the body to UTF-8 from whatever charset the page declares.
func doPageRequest(ctx context.Context, client *http.Client, provider string, req *http.Request) Result {
	resp, err := client.Do(req)
	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		return failure(provider, reason, fmt.Errorf("%w: %s: %w", ErrProviderFetch, provider, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPageBytes))
		result := failure(provider, "status", fmt.Errorf("%w: %s: status %d", ErrProviderFetch, provider, resp.StatusCode))
		result.Status = resp.StatusCode
		return result
	}

	body, err := readDecoded(resp)
	if err != nil {
		result := failure(provider, "read", fmt.Errorf("%w: %s: %w", ErrProviderFetch, provider, err))
		result.Status = resp.StatusCode
		return result
	}

	if LooksBlocked(body) {
		result := failure(provider, "captcha_detected", fmt.Errorf("%w: %s: block page", ErrProviderFetch, provider))
		result.Status = resp.StatusCode
		return result
	}

	return Result{OK: true, Status: resp.StatusCode, Body: body, Provider: provider}
}

func readDecoded(resp *http.Response) (string, error) {
	limited := io.LimitReader(resp.Body, maxPageBytes)
	reader, err := charset.NewReader(limited, resp.Header.Get("Content-Type"))
	if err != nil {
		reader = limited
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func setPageHeaders(req *http.Request) {
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", acceptLanguage)
	req.Header.Set("User-Agent", browserUserAgent)
}
