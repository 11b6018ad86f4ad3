package pathfinder

import (
	"context"
	"time"

	"Friend_Path/progress"
	"Friend_Path/socialgraph/graph"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// meeting is the best known link between the two sides: member from, on
// side near, lists member to, which side far has already reached.
type meeting struct {
	length int
	near   *frontier
	far    *frontier
	from   graph.NodeID
	to     graph.Friend
}

// session holds the state of a single search. Sessions are not shared
// between goroutines; only the look-ahead prefetch runs in the background
// and it communicates with the session solely through the fetcher's cache.
type session struct {
	id       string
	finder   *Finder
	reporter progress.Reporter
	logger   *logrus.Entry

	start *frontier
	end   *frontier

	checked   int
	best      *meeting
	warmed    map[graph.NodeID]struct{}
	startedAt time.Time
}

func newSession(f *Finder, start, end graph.Friend, reporter progress.Reporter) *session {
	id := uuid.New().String()
	return &session{
		id:       id,
		finder:   f,
		reporter: reporter,
		logger: f.cfg.Logger.WithFields(logrus.Fields{
			"session_id": id,
			"start_id":   start.ID,
			"end_id":     end.ID,
		}),
		start:  newFrontier(progress.SideStart, start),
		end:    newFrontier(progress.SideEnd, end),
		warmed: make(map[graph.NodeID]struct{}),
	}
}

func (s *session) run(ctx context.Context) (*Result, error) {
	s.startedAt = s.finder.cfg.Clock.Now()
	if s.start.origin == s.end.origin {
		return s.result(s.start.trail(s.start.origin)), nil
	}

	// Stops background prefetching once the search is over.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logger.Debug("starting search")
	near, far := s.start, s.end
	for {
		if err := ctx.Err(); err != nil {
			s.logger.WithField("nodes_checked", s.checked).Info("search abandoned")
			return nil, xerrors.Errorf("find path: %w", err)
		}
		if s.settled() {
			break
		}
		if s.checked >= s.finder.cfg.MaxNodes {
			s.logger.WithField("max_nodes", s.finder.cfg.MaxNodes).Info("node budget exhausted")
			break
		}
		s.lookahead(ctx)
		s.expand(ctx, near, far)
		near, far = far, near
	}

	if s.best == nil {
		s.logger.WithFields(logrus.Fields{
			"nodes_checked": s.checked,
			"elapsed":       s.elapsed().String(),
		}).Info("no path found")
		return nil, xerrors.Errorf("find path: %w", graph.ErrNoPath)
	}
	return s.result(s.best.hops(s.start)), nil
}

// settled reports whether the search can stop. Once a meeting is known,
// any shorter path must still pass through an unexpanded member on both
// sides, so the search ends when the depths at the heads of both queues
// add up to the length of the best meeting.
func (s *session) settled() bool {
	if s.start.empty() || s.end.empty() {
		return true
	}
	return s.best != nil && s.start.headDepth()+s.end.headDepth() >= s.best.length
}

// expand fetches the friends of the member at the head of near's queue.
// Friends are considered in the order the fetcher returned them.
func (s *session) expand(ctx context.Context, near, far *frontier) {
	id, cur := near.pop()
	friends := s.finder.cfg.Fetcher.FetchNeighbors(ctx, id)
	s.checked++
	s.report(near, cur)

	depth := cur.depth + 1
	record := s.finder.cfg.MaxDepth == 0 || depth <= s.finder.cfg.MaxDepth
	for _, friend := range friends {
		if reached, ok := far.visited[friend.ID]; ok {
			if length := depth + reached.depth; s.best == nil || length < s.best.length {
				s.best = &meeting{length: length, near: near, far: far, from: id, to: friend}
			}
		}
		if record && near.discover(friend, id, depth) {
			near.enqueue(friend.ID)
		}
	}
}

// lookahead hands the next few queued members of both sides to the
// fetcher so their friend lists are cached by the time they are expanded.
func (s *session) lookahead(ctx context.Context) {
	if s.finder.warmer == nil {
		return
	}
	var ids []graph.NodeID
	for _, f := range []*frontier{s.start, s.end} {
		for i := 0; i < len(f.queue) && i < s.finder.cfg.Lookahead; i++ {
			id := f.queue[i]
			if _, done := s.warmed[id]; done {
				continue
			}
			s.warmed[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}
	go func() {
		if _, err := s.finder.warmer.Warm(ctx, ids); err != nil && ctx.Err() == nil {
			s.logger.WithField("err", err).Warn("look-ahead failed")
		}
	}()
}

func (s *session) report(side *frontier, cur visit) {
	elapsed := s.elapsed()
	s.reporter.Report(progress.Event{
		SessionID:          s.id,
		NodesChecked:       s.checked,
		Current:            cur.friend,
		Side:               side.side,
		Depth:              cur.depth,
		Elapsed:            elapsed,
		EstimatedRemaining: progress.Estimate(elapsed, s.checked, s.finder.cfg.MaxNodes),
	})
}

func (s *session) elapsed() time.Duration {
	return s.finder.cfg.Clock.Now().Sub(s.startedAt)
}

func (s *session) result(hops []graph.Friend) *Result {
	path := make(graph.Path, len(hops))
	for i, hop := range hops {
		path[i] = hop.Handle
	}
	res := &Result{
		SessionID:    s.id,
		Path:         path,
		Hops:         hops,
		NodesChecked: s.checked,
		Elapsed:      s.elapsed(),
	}
	s.logger.WithFields(logrus.Fields{
		"hops":          len(hops) - 1,
		"nodes_checked": res.NodesChecked,
		"elapsed":       res.Elapsed.String(),
	}).Info("path found")
	return res
}

// hops joins the near side's path to from, the member to and the far
// side's path from to back to its origin, oriented from start's origin.
func (m *meeting) hops(start *frontier) []graph.Friend {
	hops := append(m.near.trail(m.from), m.to)
	farTrail := m.far.trail(m.to.ID)
	for i := len(farTrail) - 2; i >= 0; i-- {
		hops = append(hops, farTrail[i])
	}
	if m.near != start {
		for i, j := 0, len(hops)-1; i < j; i, j = i+1, j-1 {
			hops[i], hops[j] = hops[j], hops[i]
		}
	}
	return hops
}
