package fetcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

const ProviderBrowser = "browser"

// Browser renders pages in a shared headless Chromium with stealth patches.
// The browser is launched on first use.
type Browser struct {
	bin string

	mu      sync.Mutex
	browser *rod.Browser
}

var launchBrowser = func(bin string) (*rod.Browser, error) {
	l := launcher.New().
		Headless(true).
		NoSandbox(true).
		Set("remote-allow-origins", "*")
	if bin != "" {
		l = l.Bin(bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return browser, nil
}

func NewBrowser(bin string) *Browser {
	return &Browser{bin: bin}
}

func (b *Browser) Name() string {
	return ProviderBrowser
}

func (b *Browser) Fetch(ctx context.Context, req Request) Result {
	browser, err := b.ensure()
	if err != nil {
		return failure(ProviderBrowser, "config_error", fmt.Errorf("%w: %w", ErrProviderFetch, err))
	}

	page, err := stealth.Page(browser)
	if err != nil {
		return failure(ProviderBrowser, "error", fmt.Errorf("%w: open page: %w", ErrProviderFetch, err))
	}
	defer func() { _ = page.Close() }()

	page = page.Context(ctx)
	if err := page.Navigate(req.URL); err != nil {
		return failure(ProviderBrowser, "error", fmt.Errorf("%w: navigate: %w", ErrProviderFetch, err))
	}
	if err := page.WaitLoad(); err != nil {
		return failure(ProviderBrowser, "timeout", fmt.Errorf("%w: wait load: %w", ErrProviderFetch, err))
	}

	html, err := page.HTML()
	if err != nil {
		return failure(ProviderBrowser, "read", fmt.Errorf("%w: html: %w", ErrProviderFetch, err))
	}
	if LooksBlocked(html) {
		return failure(ProviderBrowser, "captcha_detected", fmt.Errorf("%w: browser: block page", ErrProviderFetch))
	}
	return Result{OK: true, Status: 200, Body: html, Provider: ProviderBrowser}
}

func (b *Browser) ensure() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		return b.browser, nil
	}
	browser, err := launchBrowser(b.bin)
	if err != nil {
		return nil, err
	}
	log.Info("headless browser started", "bin", b.bin)
	b.browser = browser
	return browser, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}
