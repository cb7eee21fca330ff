package search

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"deepagg/internal/domain"
	"deepagg/internal/enrichment"
	"deepagg/internal/fetcher"
	"deepagg/internal/parsers"
)

const (
	DefaultPreviewLimit = 10
	DefaultEnrichCap    = 10
	DefaultMinMPNLength = 5
	resultSinkTimeout   = 3 * time.Second
)

type PageFetcher interface {
	Fetch(ctx context.Context, req fetcher.Request) fetcher.Result
}

type Resolver interface {
	Name() string
	Resolve(ctx context.Context, mpn string) enrichment.Resolution
}

// ResultSink stores the rows of completed searches for the degrade path.
type ResultSink interface {
	PutResults(ctx context.Context, q string, rows []domain.CanonicalRow) error
}

type Observer interface {
	ObserveSource(source string, ok bool)
	ObserveSession(terminal domain.EventType, took time.Duration)
}

type Options struct {
	Timeout      time.Duration
	Primary      string
	PreviewLimit int
	EnrichCap    int
	MinMPNLength int
	Sink         ResultSink
	Observer     Observer
}

type Aggregator struct {
	pages    PageFetcher
	sources  []parsers.Source
	resolver Resolver
	opts     Options
}

// Outcome is what a session ended with.
type Outcome struct {
	Query    string
	Rows     []domain.CanonicalRow
	Sources  []string
	Enriched int
	Warned   bool
}

func NewAggregator(pages PageFetcher, sources []parsers.Source, resolver Resolver, opts Options) *Aggregator {
	if opts.Timeout <= 0 {
		opts.Timeout = fetcher.DefaultTimeout
	}
	if opts.PreviewLimit <= 0 {
		opts.PreviewLimit = DefaultPreviewLimit
	}
	if opts.EnrichCap <= 0 {
		opts.EnrichCap = DefaultEnrichCap
	}
	if opts.MinMPNLength <= 0 {
		opts.MinMPNLength = DefaultMinMPNLength
	}
	return &Aggregator{pages: pages, sources: sources, resolver: resolver, opts: opts}
}

func (a *Aggregator) SourceIDs() []string {
	ids := make([]string, 0, len(a.sources))
	for _, source := range a.sources {
		ids = append(ids, source.ID)
	}
	return ids
}

// Run drives one search session to its terminal event.
func (a *Aggregator) Run(ctx context.Context, rawQuery string, emit Emitter) Outcome {
	started := time.Now()
	q := strings.TrimSpace(rawQuery)

	if q == "" {
		a.emit(emit, warnEvent(ReasonEmptyQ))
		a.observeSession(domain.EventWarn, started)
		return Outcome{Warned: true, Rows: []domain.CanonicalRow{}}
	}

	sourceIDs := a.SourceIDs()
	a.emit(emit, noteEvent(StartPayload{Stage: StageStart, Query: q, Sources: sourceIDs, Enrich: a.resolverName()}))

	perSource := a.fetchSources(ctx, q, emit)

	merged := make([]domain.CanonicalRow, 0)
	for _, rows := range perSource {
		merged = append(merged, rows...)
	}

	targets := SelectTargets(merged, a.opts.MinMPNLength, a.opts.EnrichCap)
	enriched := a.enrich(ctx, merged, targets, emit)

	a.emit(emit, doneEvent(DonePayload{
		Query: q,
		Rows:  merged,
		Meta:  DoneMeta{Sources: sourceIDs, Enriched: enriched},
	}))
	a.observeSession(domain.EventDone, started)

	if len(merged) > 0 {
		a.storeResults(ctx, q, merged)
	}

	log.Info("search session finished", "q", q, "rows", len(merged), "enriched", enriched, "took", time.Since(started))
	return Outcome{Query: q, Rows: merged, Sources: sourceIDs, Enriched: enriched}
}

func (a *Aggregator) fetchSources(ctx context.Context, q string, emit Emitter) [][]domain.CanonicalRow {
	perSource := make([][]domain.CanonicalRow, len(a.sources))

	var wg sync.WaitGroup
	for i, source := range a.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()

			rows, err := a.fetchSource(ctx, source, i+1, q)
			if a.opts.Observer != nil {
				a.opts.Observer.ObserveSource(source.ID, err == nil)
			}
			if err != nil {
				log.Warn("search source degraded", "source", source.ID, "q", q, "error", err)
				a.emit(emit, noteEvent(StagePayload{Stage: source.ID, OK: false}))
				return
			}

			perSource[i] = rows
			a.emit(emit, noteEvent(StagePayload{Stage: source.ID, OK: true}))
			a.emit(emit, enrichEvent(PreviewPayload{Donor: source.ID, Rows: firstN(rows, a.opts.PreviewLimit)}))
		}()
	}
	wg.Wait()

	return perSource
}

func (a *Aggregator) fetchSource(ctx context.Context, source parsers.Source, session int, q string) (rows []domain.CanonicalRow, err error) {
	defer func() {
		if r := recover(); r != nil {
			rows, err = nil, fmt.Errorf("%w: %s: parser panic: %v", fetcher.ErrProviderFetch, source.ID, r)
		}
	}()

	sourceURL := source.SearchURL(q)
	result := a.pages.Fetch(ctx, fetcher.Request{
		URL:     sourceURL,
		Timeout: a.opts.Timeout,
		Session: session,
		Primary: a.opts.Primary,
	})
	if !result.OK {
		if result.Err != nil {
			return nil, result.Err
		}
		return nil, fmt.Errorf("%w: %s: %s", fetcher.ErrProviderFetch, source.ID, result.Reason)
	}

	rows = source.Parse(result.Body, sourceURL)
	if rows == nil {
		rows = []domain.CanonicalRow{}
	}
	return rows, nil
}

// enrich prices the target rows in place and returns how many were attempted.
func (a *Aggregator) enrich(ctx context.Context, rows []domain.CanonicalRow, targets []int, emit Emitter) int {
	if a.resolver == nil || len(targets) == 0 {
		return 0
	}

	var group errgroup.Group
	for _, idx := range targets {
		mpn := rows[idx].MPN
		group.Go(func() error {
			resolution := a.resolveSafely(ctx, mpn)
			if resolution.OK() {
				rows[idx].MinPriceRub = resolution.Converted
			} else {
				log.Debug("enrichment skipped", "mpn", mpn, "error", resolution.Err)
			}
			a.emit(emit, enrichEvent(EnrichPayload{Donor: SecondaryDonor, MPN: mpn, MinRub: resolution.Converted}))
			return nil
		})
	}
	_ = group.Wait()

	return len(targets)
}

func (a *Aggregator) resolveSafely(ctx context.Context, mpn string) (resolution enrichment.Resolution) {
	defer func() {
		if r := recover(); r != nil {
			resolution = enrichment.Resolution{MPN: mpn, Err: fmt.Errorf("%w: %s: panic: %v", enrichment.ErrEnrichmentLookup, mpn, r)}
		}
	}()
	return a.resolver.Resolve(ctx, mpn)
}

// SelectTargets returns the indices of the first limit rows whose MPN has at
// least minLen characters.
func SelectTargets(rows []domain.CanonicalRow, minLen, limit int) []int {
	targets := make([]int, 0, limit)
	for i, row := range rows {
		if len(targets) >= limit {
			break
		}
		if len([]rune(strings.TrimSpace(row.MPN))) >= minLen {
			targets = append(targets, i)
		}
	}
	return targets
}

func (a *Aggregator) storeResults(ctx context.Context, q string, rows []domain.CanonicalRow) {
	if a.opts.Sink == nil {
		return
	}
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resultSinkTimeout)
	defer cancel()
	if err := a.opts.Sink.PutResults(sinkCtx, q, rows); err != nil {
		log.Warn("search results not cached", "q", q, "error", err)
	}
}

func (a *Aggregator) emit(emit Emitter, event domain.StreamEvent) {
	if emit == nil {
		return
	}
	if err := emit.Emit(event); err != nil {
		log.Debug("search event not delivered", "type", event.Type, "error", err)
	}
}

func (a *Aggregator) resolverName() string {
	if a.resolver == nil {
		return ""
	}
	return a.resolver.Name()
}

func (a *Aggregator) observeSession(terminal domain.EventType, started time.Time) {
	if a.opts.Observer != nil {
		a.opts.Observer.ObserveSession(terminal, time.Since(started))
	}
}

func firstN(rows []domain.CanonicalRow, n int) []domain.CanonicalRow {
	if len(rows) > n {
		rows = rows[:n]
	}
	return append(make([]domain.CanonicalRow, 0, len(rows)), rows...)
}
