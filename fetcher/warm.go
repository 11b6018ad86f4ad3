package fetcher

import (
	"context"
	"sync"
	"sync/atomic"

	"Friend_Path/pipeline"
	"Friend_Path/socialgraph/graph"
	"golang.org/x/xerrors"
)

var warmPayloadPool = sync.Pool{
	New: func() interface{} { return new(warmPayload) },
}

type warmPayload struct {
	ID      graph.NodeID
	Fetched bool
}

// MarkAsProcessed implements pipeline.Payload.
func (p *warmPayload) MarkAsProcessed() {
	p.ID = 0
	p.Fetched = false
	warmPayloadPool.Put(p)
}

type idSource struct {
	ids   []graph.NodeID
	index int
}

func (s *idSource) Next(context.Context) bool {
	if s.index >= len(s.ids) {
		return false
	}
	s.index++
	return true
}

func (s *idSource) Payload() pipeline.Payload {
	p := warmPayloadPool.Get().(*warmPayload)
	p.ID = s.ids[s.index-1]
	return p
}

func (s *idSource) Error() error { return nil }

type countingSink struct {
	count int64
}

func (s *countingSink) Consume(_ context.Context, p pipeline.Payload) error {
	if p.(*warmPayload).Fetched {
		atomic.AddInt64(&s.count, 1)
	}
	return nil
}

// Warm pre-fetches the friend lists of ids into the cache, running up to
// MaxInFlight fetches in parallel. Ids that are already cached are skipped.
// It returns the number of lists that had to be fetched. Cancelling ctx
// stops new fetches from being started; those already running complete.
func (f *Fetcher) Warm(ctx context.Context, ids []graph.NodeID) (int, error) {
	warmer := pipeline.ProcessorFunc(func(ctx context.Context, p pipeline.Payload) (pipeline.Payload, error) {
		payload := p.(*warmPayload)
		if _, ok := f.cfg.Cache.Get(payload.ID); ok {
			return nil, nil
		}
		_ = f.FetchNeighbors(ctx, payload.ID)
		payload.Fetched = true
		return payload, nil
	})

	sink := new(countingSink)
	p := pipeline.New(pipeline.DynamicWorkerPool(warmer, f.cfg.MaxInFlight))
	if err := p.Process(ctx, &idSource{ids: ids}, sink); err != nil {
		return int(atomic.LoadInt64(&sink.count)), xerrors.Errorf("warm cache: %w", err)
	}
	return int(atomic.LoadInt64(&sink.count)), nil
}
