// Package progress defines the status events a path search emits while it
// runs, and a handful of sinks for consuming them.
package progress

import (
	"sync"
	"time"

	"Friend_Path/socialgraph/graph"
	"github.com/sirupsen/logrus"
)

// Side identifies which end of a bidirectional search produced an event.
type Side string

const (
	SideStart Side = "start"
	SideEnd   Side = "end"
)

// Event is a snapshot of a running search.
type Event struct {
	SessionID string `json:"session_id"`

	// Number of nodes expanded so far, across both sides.
	NodesChecked int `json:"nodes_checked"`

	// The node that was just expanded.
	Current graph.Friend `json:"current"`
	Side    Side         `json:"side"`
	Depth   int          `json:"depth"`

	Elapsed time.Duration `json:"elapsed"`

	// Zero when no estimate is available.
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
}

// Reporter is implemented by sinks that receive search progress. Reporters
// are purely informational; a search behaves the same without one.
type Reporter interface {
	Report(Event)
}

// ReporterFunc is an adapter to allow the use of ordinary functions as
// Reporters.
type ReporterFunc func(Event)

// Report calls f(ev).
func (f ReporterFunc) Report(ev Event) { f(ev) }

// Nop discards every event.
var Nop Reporter = ReporterFunc(func(Event) {})

// Every forwards every nth event to r and drops the rest. Values of n below
// 2 forward everything.
func Every(n int, r Reporter) Reporter {
	if n < 2 {
		return r
	}
	var (
		mu   sync.Mutex
		seen int
	)
	return ReporterFunc(func(ev Event) {
		mu.Lock()
		seen++
		forward := seen%n == 0
		mu.Unlock()
		if forward {
			r.Report(ev)
		}
	})
}

// Chan sends events to ch without blocking; events are dropped while ch is
// full.
func Chan(ch chan<- Event) Reporter {
	return ReporterFunc(func(ev Event) {
		select {
		case ch <- ev:
		default:
		}
	})
}

// Logger writes events to a logrus entry at debug level.
func Logger(logger *logrus.Entry) Reporter {
	return ReporterFunc(func(ev Event) {
		logger.WithFields(logrus.Fields{
			"session_id":    ev.SessionID,
			"nodes_checked": ev.NodesChecked,
			"node_id":       ev.Current.ID,
			"handle":        ev.Current.Handle,
			"side":          ev.Side,
			"depth":         ev.Depth,
			"elapsed":       ev.Elapsed.String(),
			"eta":           ev.EstimatedRemaining.String(),
		}).Debug("search progress")
	})
}

// Multi fans events out to every non-nil reporter in rs.
func Multi(rs ...Reporter) Reporter {
	var live []Reporter
	for _, r := range rs {
		if r != nil {
			live = append(live, r)
		}
	}
	return ReporterFunc(func(ev Event) {
		for _, r := range live {
			r.Report(ev)
		}
	})
}

// Estimate projects the time needed to expand the rest of a node budget
// from the average cost of the expansions done so far.
func Estimate(elapsed time.Duration, checked, budget int) time.Duration {
	if checked <= 0 || budget <= checked {
		return 0
	}
	perNode := elapsed / time.Duration(checked)
	return perNode * time.Duration(budget-checked)
}
