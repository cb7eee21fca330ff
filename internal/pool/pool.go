package pool

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"deepagg/internal/domain"
)

const (
	DefaultTopN   = 200
	SnapshotLimit = 50
)

type Collector interface {
	CollectRaw(ctx context.Context) []domain.ProxyCandidate
	Loop(ctx context.Context, interval time.Duration, notify func([]domain.ProxyCandidate))
}

type Checker interface {
	CheckMany(ctx context.Context, list []domain.ProxyCandidate) []domain.ProxyHealthResult
}

// RefreshRecorder persists a summary of every refresh.
type RefreshRecorder interface {
	RecordRefresh(ctx context.Context, refresh *domain.PoolRefresh) error
}

// Observer is told about every newly published state.
type Observer interface {
	ObservePool(state *domain.ProxyPoolState, took time.Duration)
}

type Options struct {
	TopN     int
	Interval time.Duration
	Recorder RefreshRecorder
	Observer Observer
}

type Counts struct {
	Raw    int `json:"raw"`
	Tested int `json:"tested"`
	Best   int `json:"best"`
}

// Snapshot is a detached copy of the pool for diagnostics.
type Snapshot struct {
	LastUpdate time.Time                  `json:"lastUpdate"`
	Counts     Counts                     `json:"counts"`
	Best       []domain.ProxyHealthResult `json:"best"`
}

type Pool struct {
	collector Collector
	checker   Checker
	opts      Options

	state   atomic.Pointer[domain.ProxyPoolState]
	writeMu sync.Mutex

	startOnce sync.Once
	done      chan struct{}
}

func New(collector Collector, checker Checker, opts Options) *Pool {
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}

	p := &Pool{
		collector: collector,
		checker:   checker,
		opts:      opts,
		done:      make(chan struct{}),
	}
	p.state.Store(&domain.ProxyPoolState{})
	return p
}

// Start builds the pool once synchronously, then keeps refreshing it in the
// background on every collector harvest until ctx is done.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		raw := p.collector.CollectRaw(ctx)
		p.Refresh(ctx, raw)

		go func() {
			defer close(p.done)

			select {
			case <-ctx.Done():
				return
			case <-time.After(p.opts.Interval):
			}

			p.collector.Loop(ctx, p.opts.Interval, func(list []domain.ProxyCandidate) {
				p.Refresh(ctx, list)
			})
			log.Info("proxy pool refresh loop stopped")
		}()
	})
}

// Done is closed once the background refresh loop has exited.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Refresh checks raw, ranks the survivors and publishes the new state.
func (p *Pool) Refresh(ctx context.Context, raw []domain.ProxyCandidate) *domain.ProxyPoolState {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	started := time.Now()
	tested := make([]domain.ProxyHealthResult, 0)
	for _, result := range p.checker.CheckMany(ctx, raw) {
		if result.Alive {
			tested = append(tested, result)
		}
	}

	next := &domain.ProxyPoolState{
		LastUpdate: time.Now(),
		Raw:        append([]domain.ProxyCandidate(nil), raw...),
		Tested:     tested,
		Best:       Rank(tested, p.opts.TopN),
	}
	p.state.Store(next)
	took := time.Since(started)

	log.Info("proxy pool refreshed", "raw", len(next.Raw), "tested", len(next.Tested), "best", len(next.Best), "took", took)

	if p.opts.Observer != nil {
		p.opts.Observer.ObservePool(next, took)
	}
	if p.opts.Recorder != nil {
		record := refreshRecord(next, took)
		if err := p.opts.Recorder.RecordRefresh(ctx, record); err != nil {
			log.Warn("pool refresh not recorded", "error", err)
		}
	}
	return next
}

// Rank orders by score descending, keeping checker order on ties, and
// truncates to topN. The input is left untouched.
func Rank(tested []domain.ProxyHealthResult, topN int) []domain.ProxyHealthResult {
	ranked := append([]domain.ProxyHealthResult(nil), tested...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if topN >= 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}

// PickOne returns a uniformly random member of the best list. The second
// return value is false when the pool is empty.
func (p *Pool) PickOne() (domain.ProxyHealthResult, bool) {
	best := p.state.Load().Best
	if len(best) == 0 {
		return domain.ProxyHealthResult{}, false
	}
	return best[rand.IntN(len(best))], true
}

// PickCandidate is PickOne reduced to the dialable candidate.
func (p *Pool) PickCandidate() (domain.ProxyCandidate, bool) {
	picked, ok := p.PickOne()
	return picked.ProxyCandidate, ok
}

func (p *Pool) Snapshot() Snapshot {
	state := p.state.Load()
	limit := len(state.Best)
	if limit > SnapshotLimit {
		limit = SnapshotLimit
	}

	return Snapshot{
		LastUpdate: state.LastUpdate,
		Counts: Counts{
			Raw:    len(state.Raw),
			Tested: len(state.Tested),
			Best:   len(state.Best),
		},
		Best: append(make([]domain.ProxyHealthResult, 0, limit), state.Best[:limit]...),
	}
}

func refreshRecord(state *domain.ProxyPoolState, took time.Duration) *domain.PoolRefresh {
	record := &domain.PoolRefresh{
		RawCount:    len(state.Raw),
		TestedCount: len(state.Tested),
		BestCount:   len(state.Best),
		DurationMs:  took.Milliseconds(),
	}
	if len(state.Best) > 0 {
		record.TopScore = state.Best[0].Score
		record.TopProxy = state.Best[0].Key()
	}
	return record
}
