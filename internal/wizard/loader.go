package wizard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

var loaderTracer = otel.Tracer("booking.internal.wizard.loader")

// DefaultLookupTimeout bounds a single lookup call.
const DefaultLookupTimeout = 10 * time.Second

// LoaderConfig tunes a Loader. Zero values select the defaults.
type LoaderConfig struct {
	Timeout time.Duration
	// TTL expires cached lists even when their fingerprint still matches.
	// Zero keeps a list for as long as its fingerprint is current.
	TTL     time.Duration
	Metrics Metrics
	Clock   func() time.Time
}

// Loader fetches and caches candidate lists for the stages of one session.
// Concurrent loads of the same stage and fingerprint share a single lookup,
// and results whose fingerprint was superseded while in flight are dropped.
type Loader struct {
	graph   *Graph
	store   *Store
	lookup  LookupService
	timeout time.Duration
	ttl     time.Duration
	metrics Metrics
	now     func() time.Time

	flights singleflight.Group

	mu    sync.Mutex
	cache map[StageID]*CandidateList
	gen   uint64

	searchMu  sync.Mutex
	searchSeq uint64
	searches  map[StageID]*pendingSearch
}

type pendingSearch struct {
	seq    uint64
	cancel context.CancelFunc
}

type fetchResult struct {
	items []Candidate
	err   error
}

// NewLoader creates a loader bound to store.
func NewLoader(graph *Graph, store *Store, lookup LookupService, cfg LoaderConfig) *Loader {
	if lookup == nil {
		panic("wizard: lookup service required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLookupTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Loader{
		graph:    graph,
		store:    store,
		lookup:   lookup,
		timeout:  cfg.Timeout,
		ttl:      cfg.TTL,
		metrics:  cfg.Metrics,
		now:      cfg.Clock,
		cache:    make(map[StageID]*CandidateList),
		searches: make(map[StageID]*pendingSearch),
	}
}

// Load returns the candidates of stage id for the current upstream selections.
func (l *Loader) Load(ctx context.Context, id StageID) (*CandidateList, error) {
	stage, err := l.loadable(id)
	if err != nil {
		return nil, err
	}

	fp := l.store.Fingerprint(id)
	if list := l.cachedFor(id, fp); list != nil {
		l.metrics.ObserveLookup(stage.Name, "cache_hit", 0)
		return list, nil
	}

	upstream := l.store.Upstream(id)
	l.mu.Lock()
	gen := l.gen
	l.mu.Unlock()

	// loads from before a Clear must not be joined: their results are never cached
	key := fmt.Sprintf("%d|%s|%d", id, fp, gen)
	ch := l.flights.DoChan(key, func() (any, error) {
		return l.fetch(context.WithoutCancel(ctx), stage, fp, gen, upstream)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Shared {
		l.metrics.ObserveDedup(stage.Name)
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if l.store.Fingerprint(id) != fp {
		l.metrics.ObserveStale(stage.Name)
		return nil, ErrStaleCandidates
	}
	return res.Val.(*CandidateList), nil
}

func (l *Loader) fetch(ctx context.Context, stage Stage, fp string, gen uint64, upstream Upstream) (*CandidateList, error) {
	ctx, span := loaderTracer.Start(ctx, "wizard.lookup")
	defer span.End()
	span.SetAttributes(
		attribute.String("wizard.stage", stage.Name),
		attribute.String("wizard.fingerprint", fp),
	)

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan fetchResult, 1)
	go func() {
		items, err := l.lookup.FetchCandidates(ctx, stage, upstream)
		done <- fetchResult{items: items, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	elapsed := time.Since(start).Seconds()
	if res.err != nil {
		span.RecordError(res.err)
		l.metrics.ObserveLookup(stage.Name, "error", elapsed)
		return nil, &LookupError{StageID: stage.ID, Stage: stage.Name, Cause: res.err}
	}
	l.metrics.ObserveLookup(stage.Name, "success", elapsed)

	items := res.items
	if items == nil {
		items = []Candidate{}
	}
	list := &CandidateList{StageID: stage.ID, Fingerprint: fp, Items: items, FetchedAt: l.now()}

	l.mu.Lock()
	if gen == l.gen && l.store.Fingerprint(stage.ID) == fp {
		l.cache[stage.ID] = list
	}
	l.mu.Unlock()
	return list, nil
}

// Search runs a free-text lookup for stage id. Only the most recent search
// per stage is honoured: starting a new one cancels the previous call, whose
// caller then receives ErrStaleCandidates. Results are never cached.
// Lookups without the Searcher capability fall back to filtering Load.
func (l *Loader) Search(ctx context.Context, id StageID, query string) (*CandidateList, error) {
	stage, err := l.loadable(id)
	if err != nil {
		return nil, err
	}
	searcher, ok := l.lookup.(Searcher)
	if !ok || strings.TrimSpace(query) == "" {
		list, err := l.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		return list.Filter(query), nil
	}

	fp := l.store.Fingerprint(id)
	upstream := l.store.Upstream(id)

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	l.searchMu.Lock()
	if prev := l.searches[id]; prev != nil {
		prev.cancel()
	}
	l.searchSeq++
	seq := l.searchSeq
	l.searches[id] = &pendingSearch{seq: seq, cancel: cancel}
	l.searchMu.Unlock()

	start := time.Now()
	items, err := searcher.SearchCandidates(ctx, stage, upstream, query)

	l.searchMu.Lock()
	latest := l.searches[id] != nil && l.searches[id].seq == seq
	if latest {
		delete(l.searches, id)
	}
	l.searchMu.Unlock()

	if !latest || l.store.Fingerprint(id) != fp {
		l.metrics.ObserveStale(stage.Name)
		return nil, ErrStaleCandidates
	}
	if err != nil {
		l.metrics.ObserveLookup(stage.Name, "error", time.Since(start).Seconds())
		return nil, &LookupError{StageID: stage.ID, Stage: stage.Name, Cause: err}
	}
	l.metrics.ObserveLookup(stage.Name, "search", time.Since(start).Seconds())
	if items == nil {
		items = []Candidate{}
	}
	return &CandidateList{StageID: id, Fingerprint: fp, Items: items, FetchedAt: l.now()}, nil
}

// Cached returns the cached list for id if it matches the current fingerprint.
func (l *Loader) Cached(id StageID) *CandidateList {
	return l.cachedFor(id, l.store.Fingerprint(id))
}

func (l *Loader) cachedFor(id StageID, fp string) *CandidateList {
	l.mu.Lock()
	defer l.mu.Unlock()
	list, ok := l.cache[id]
	if !ok || list.Fingerprint != fp {
		return nil
	}
	if l.ttl > 0 && l.now().Sub(list.FetchedAt) > l.ttl {
		delete(l.cache, id)
		return nil
	}
	return list
}

// Evict drops the cached lists of ids.
func (l *Loader) Evict(ids ...StageID) {
	if len(ids) == 0 {
		return
	}
	l.mu.Lock()
	for _, id := range ids {
		delete(l.cache, id)
	}
	l.mu.Unlock()
}

// Clear drops every cached list and abandons pending searches. Lookups
// still in flight complete but are not cached.
func (l *Loader) Clear() {
	l.mu.Lock()
	l.cache = make(map[StageID]*CandidateList)
	l.gen++
	l.mu.Unlock()

	l.searchMu.Lock()
	for id, s := range l.searches {
		s.cancel()
		delete(l.searches, id)
	}
	l.searchMu.Unlock()
}

func (l *Loader) loadable(id StageID) (Stage, error) {
	stage, ok := l.graph.Stage(id)
	if !ok {
		return Stage{}, fmt.Errorf("%w: %d", ErrUnknownStage, id)
	}
	if stage.Terminal {
		return Stage{}, ErrTerminalStage
	}
	if !l.store.IsComplete(id) {
		return Stage{}, fmt.Errorf("%w: %s", ErrPrerequisiteMissing, stage.Name)
	}
	return stage, nil
}
