package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"deepagg/internal/domain"
)

type fakeCollector struct {
	mu     sync.Mutex
	raw    []domain.ProxyCandidate
	calls  int
	looped chan struct{}
}

func (f *fakeCollector) CollectRaw(context.Context) []domain.ProxyCandidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.raw
}

func (f *fakeCollector) Loop(ctx context.Context, interval time.Duration, notify func([]domain.ProxyCandidate)) {
	notify(f.CollectRaw(ctx))
	if f.looped != nil {
		close(f.looped)
	}
	<-ctx.Done()
}

type scoreChecker struct {
	scores map[int]int
}

func (s scoreChecker) CheckMany(_ context.Context, list []domain.ProxyCandidate) []domain.ProxyHealthResult {
	out := make([]domain.ProxyHealthResult, 0, len(list))
	for _, candidate := range list {
		score, ok := s.scores[candidate.Port]
		out = append(out, domain.ProxyHealthResult{ProxyCandidate: candidate, Alive: ok, Score: score})
	}
	return out
}

type recorderStub struct {
	mu      sync.Mutex
	records []*domain.PoolRefresh
	err     error
}

func (r *recorderStub) RecordRefresh(_ context.Context, refresh *domain.PoolRefresh) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, refresh)
	return r.err
}

func candidates(ports ...int) []domain.ProxyCandidate {
	out := make([]domain.ProxyCandidate, 0, len(ports))
	for _, port := range ports {
		out = append(out, domain.ProxyCandidate{Host: "10.0.0.1", Port: port, Protocol: domain.ProtocolHTTP})
	}
	return out
}

func TestRank_OrdersByScoreStableAndTruncates(t *testing.T) {
	tested := []domain.ProxyHealthResult{
		{ProxyCandidate: domain.ProxyCandidate{Port: 1}, Score: 5},
		{ProxyCandidate: domain.ProxyCandidate{Port: 2}, Score: 9},
		{ProxyCandidate: domain.ProxyCandidate{Port: 3}, Score: 5},
		{ProxyCandidate: domain.ProxyCandidate{Port: 4}, Score: 20},
		{ProxyCandidate: domain.ProxyCandidate{Port: 5}, Score: -3},
	}

	best := Rank(tested, 4)
	if len(best) != 4 {
		t.Fatalf("len(best) = %d, want 4", len(best))
	}
	for i := 1; i < len(best); i++ {
		if best[i-1].Score < best[i].Score {
			t.Fatalf("best not sorted at %d: %d < %d", i, best[i-1].Score, best[i].Score)
		}
	}
	if best[2].Port != 1 || best[3].Port != 3 {
		t.Fatalf("tie order = %d,%d, want 1,3", best[2].Port, best[3].Port)
	}
	if tested[0].Port != 1 {
		t.Fatal("Rank must not reorder its input")
	}
}

func TestPickOne_EmptyPool(t *testing.T) {
	p := New(&fakeCollector{}, scoreChecker{}, Options{})
	if _, ok := p.PickOne(); ok {
		t.Fatal("PickOne on empty pool should report false")
	}
	snap := p.Snapshot()
	if snap.Counts.Best != 0 || len(snap.Best) != 0 {
		t.Fatalf("snapshot = %+v, want empty", snap)
	}
}

func TestPickOne_ReturnsMemberOfBest(t *testing.T) {
	p := New(&fakeCollector{}, scoreChecker{scores: map[int]int{1: 10, 2: 20, 3: 30}}, Options{TopN: 2})
	p.Refresh(context.Background(), candidates(1, 2, 3, 4))

	members := map[int]bool{3: true, 2: true}
	for i := 0; i < 50; i++ {
		picked, ok := p.PickOne()
		if !ok {
			t.Fatal("expected a pick from populated pool")
		}
		if !members[picked.Port] {
			t.Fatalf("picked port %d is not in best", picked.Port)
		}
	}
}

func TestRefresh_PublishesAliveOnlyAndRecords(t *testing.T) {
	recorder := &recorderStub{err: errors.New("db down")}
	p := New(&fakeCollector{}, scoreChecker{scores: map[int]int{1: 4, 3: 12}}, Options{Recorder: recorder})

	state := p.Refresh(context.Background(), candidates(1, 2, 3))
	if len(state.Raw) != 3 || len(state.Tested) != 2 || len(state.Best) != 2 {
		t.Fatalf("counts raw/tested/best = %d/%d/%d, want 3/2/2", len(state.Raw), len(state.Tested), len(state.Best))
	}
	if state.Best[0].Port != 3 {
		t.Fatalf("best[0] port = %d, want 3", state.Best[0].Port)
	}

	if len(recorder.records) != 1 {
		t.Fatalf("records = %d, want 1", len(recorder.records))
	}
	record := recorder.records[0]
	if record.TopScore != 12 || record.BestCount != 2 || record.RawCount != 3 {
		t.Fatalf("record = %+v, unexpected values", record)
	}
}

func TestSnapshot_IsDetachedAndCapped(t *testing.T) {
	scores := map[int]int{}
	ports := make([]int, 0, 70)
	for i := 1; i <= 70; i++ {
		scores[i] = i
		ports = append(ports, i)
	}
	p := New(&fakeCollector{}, scoreChecker{scores: scores}, Options{})
	p.Refresh(context.Background(), candidates(ports...))

	snap := p.Snapshot()
	if len(snap.Best) != SnapshotLimit {
		t.Fatalf("len(snapshot.best) = %d, want %d", len(snap.Best), SnapshotLimit)
	}
	if snap.Counts.Best != 70 {
		t.Fatalf("counts.best = %d, want 70", snap.Counts.Best)
	}

	snap.Best[0].Score = -1
	if p.Snapshot().Best[0].Score != 70 {
		t.Fatal("mutating a snapshot leaked into pool state")
	}
}

func TestStart_BuildsSynchronouslyThenRefreshes(t *testing.T) {
	collector := &fakeCollector{raw: candidates(1, 2), looped: make(chan struct{})}
	p := New(collector, scoreChecker{scores: map[int]int{1: 1, 2: 2}}, Options{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	if snap := p.Snapshot(); snap.Counts.Best != 2 {
		t.Fatalf("after Start best = %d, want 2", snap.Counts.Best)
	}

	select {
	case <-collector.looped:
	case <-time.After(2 * time.Second):
		t.Fatal("background loop never ran")
	}

	cancel()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("refresh loop did not stop")
	}

	collector.mu.Lock()
	calls := collector.calls
	collector.mu.Unlock()
	if calls < 2 {
		t.Fatalf("collector calls = %d, want >= 2", calls)
	}
}
