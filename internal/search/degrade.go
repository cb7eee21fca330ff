package search

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"deepagg/internal/domain"
)

const (
	DefaultFallbackDeadline = 3000 * time.Millisecond
	SourceLive              = "live"
	SourceFallback          = "fallback"
)

// FallbackSource serves previously stored results for a query.
type FallbackSource interface {
	GetResults(ctx context.Context, q string) ([]domain.CanonicalRow, bool, error)
}

type DegradeMeta struct {
	Source string `json:"source"`
}

type DegradeResult struct {
	OK    bool                  `json:"ok"`
	Query string                `json:"q"`
	Rows  []domain.CanonicalRow `json:"rows"`
	Meta  DegradeMeta           `json:"meta"`
}

// SearchWithDeadline races a live session against deadline. When the deadline
// wins the stored rows for q are served instead. The live session is not
// cancelled: it runs to completion in the background and its rows only land
// in the result sink.
func (a *Aggregator) SearchWithDeadline(ctx context.Context, rawQuery string, deadline time.Duration, fallback FallbackSource) DegradeResult {
	q := strings.TrimSpace(rawQuery)
	if q == "" {
		return DegradeResult{OK: false, Query: q, Rows: []domain.CanonicalRow{}, Meta: DegradeMeta{Source: SourceLive}}
	}
	if deadline <= 0 {
		deadline = DefaultFallbackDeadline
	}

	live := make(chan Outcome, 1)
	go func() {
		live <- a.Run(context.WithoutCancel(ctx), q, Discard())
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case outcome := <-live:
		return DegradeResult{OK: true, Query: q, Rows: outcome.Rows, Meta: DegradeMeta{Source: SourceLive}}
	case <-timer.C:
		log.Info("live search exceeded deadline, serving fallback", "q", q, "deadline", deadline)
	case <-ctx.Done():
	}

	rows := []domain.CanonicalRow{}
	if fallback != nil {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		cached, ok, err := fallback.GetResults(lookupCtx, q)
		cancel()
		if err != nil {
			log.Warn("fallback results unavailable", "q", q, "error", err)
		}
		if ok && cached != nil {
			rows = cached
		}
	}
	return DegradeResult{OK: true, Query: q, Rows: rows, Meta: DegradeMeta{Source: SourceFallback}}
}
