package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"deepagg/internal/domain"
	"deepagg/internal/fetcher"
	"deepagg/internal/parsers"
)

var ErrEnrichmentLookup = errors.New("enrichment lookup failed")

type PageFetcher interface {
	Fetch(ctx context.Context, req fetcher.Request) fetcher.Result
}

type Converter interface {
	Convert(ctx context.Context, amount float64, from, to string) (float64, bool)
}

type Options struct {
	Target   string
	Timeout  time.Duration
	Primary  string
	Session  int
	BuildURL func(mpn string) string
	Parse    func(html string) []domain.Offer
}

// Resolver looks a part number up on the secondary aggregator and prices the
// cheapest offer in the target currency.
type Resolver struct {
	fetcher   PageFetcher
	converter Converter
	opts      Options
}

type Resolution struct {
	MPN       string
	Offer     domain.Offer
	Converted *float64
	Err       error
}

func (r Resolution) OK() bool {
	return r.Err == nil && r.Converted != nil
}

func NewResolver(pages PageFetcher, converter Converter, opts Options) *Resolver {
	if opts.Target == "" {
		opts.Target = "RUB"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = fetcher.DefaultTimeout
	}
	if opts.Session == 0 {
		opts.Session = 3
	}
	if opts.BuildURL == nil {
		opts.BuildURL = parsers.OemstradeSearchURL
	}
	if opts.Parse == nil {
		opts.Parse = parsers.ParseOemstradeOffers
	}
	return &Resolver{fetcher: pages, converter: converter, opts: opts}
}

func (r *Resolver) Name() string {
	return parsers.SourceOemstrade
}

// Resolve never returns an error value directly; failures are carried in
// Resolution.Err and leave Converted nil.
func (r *Resolver) Resolve(ctx context.Context, mpn string) Resolution {
	resolution := Resolution{MPN: mpn}

	result := r.fetcher.Fetch(ctx, fetcher.Request{
		URL:     r.opts.BuildURL(mpn),
		Timeout: r.opts.Timeout,
		Session: r.opts.Session,
		Primary: r.opts.Primary,
	})
	if !result.OK {
		resolution.Err = fmt.Errorf("%w: %s: fetch via %s: %s", ErrEnrichmentLookup, mpn, result.Provider, result.Reason)
		log.Debug("enrichment fetch failed", "mpn", mpn, "provider", result.Provider, "reason", result.Reason)
		return resolution
	}

	offer, ok := parsers.MinOffer(r.opts.Parse(result.Body))
	if !ok {
		resolution.Err = fmt.Errorf("%w: %s: no priced offers", ErrEnrichmentLookup, mpn)
		return resolution
	}
	resolution.Offer = offer

	currency := offer.Currency
	if currency == "" {
		currency = "USD"
	}
	converted, ok := r.converter.Convert(ctx, offer.Price, currency, r.opts.Target)
	if !ok {
		resolution.Err = fmt.Errorf("%w: %s: no rate for %s", ErrEnrichmentLookup, mpn, currency)
		return resolution
	}
	resolution.Converted = &converted
	return resolution
}
