package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

const DefaultTimeout = 10 * time.Second

var ErrProviderFetch = errors.New("provider fetch failed")

// Request describes one page fetch. Primary names the adapter tried first.
type Request struct {
	URL     string
	Timeout time.Duration
	Session int
	Primary string
}

type Result struct {
	OK       bool
	Status   int
	Body     string
	Provider string
	Reason   string
	Err      error
}

// Adapter fetches a page through one provider. Implementations report every
// fault through Result and never return an error.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, req Request) Result
}

// Observer is told about the outcome of every adapter attempt.
type Observer interface {
	ObserveProvider(provider string, ok bool, took time.Duration)
}

type RotatingFetcher struct {
	adapters []Adapter
	observer Observer
}

func NewRotatingFetcher(observer Observer, adapters ...Adapter) *RotatingFetcher {
	kept := make([]Adapter, 0, len(adapters))
	for _, adapter := range adapters {
		if adapter != nil {
			kept = append(kept, adapter)
		}
	}
	return &RotatingFetcher{adapters: kept, observer: observer}
}

func (f *RotatingFetcher) Providers() []string {
	names := make([]string, 0, len(f.adapters))
	for _, adapter := range f.adapters {
		names = append(names, adapter.Name())
	}
	return names
}

// Fetch walks the chain and returns the first successful result. When every
// adapter fails the last adapter's result is returned.
func (f *RotatingFetcher) Fetch(ctx context.Context, req Request) Result {
	chain := f.chain(req.Primary)
	if len(chain) == 0 {
		return failure("", "no_provider", fmt.Errorf("%w: no adapters configured", ErrProviderFetch))
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}

	var last Result
	for _, adapter := range chain {
		if ctx.Err() != nil {
			return failure(adapter.Name(), "cancelled", fmt.Errorf("%w: %w", ErrProviderFetch, ctx.Err()))
		}

		last = f.attempt(ctx, adapter, req)
		if last.OK {
			return last
		}
		log.Debug("provider attempt failed", "provider", adapter.Name(), "url", req.URL, "reason", last.Reason, "status", last.Status)
	}
	return last
}

func (f *RotatingFetcher) attempt(ctx context.Context, adapter Adapter, req Request) (result Result) {
	attemptCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = failure(adapter.Name(), "panic", fmt.Errorf("%w: %v", ErrProviderFetch, r))
		}
		if result.Provider == "" {
			result.Provider = adapter.Name()
		}
		if f.observer != nil {
			f.observer.ObserveProvider(adapter.Name(), result.OK, time.Since(started))
		}
	}()

	return adapter.Fetch(attemptCtx, req)
}

func (f *RotatingFetcher) chain(primary string) []Adapter {
	if primary == "" {
		return f.adapters
	}

	ordered := make([]Adapter, 0, len(f.adapters))
	for _, adapter := range f.adapters {
		if adapter.Name() == primary {
			ordered = append(ordered, adapter)
		}
	}
	for _, adapter := range f.adapters {
		if adapter.Name() != primary {
			ordered = append(ordered, adapter)
		}
	}
	return ordered
}

func failure(provider, reason string, err error) Result {
	return Result{OK: false, Provider: provider, Reason: reason, Err: err}
}
