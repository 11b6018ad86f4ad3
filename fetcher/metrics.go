package fetcher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/xerrors"
)

const metricsNamespace = "friendpath"

// Metrics collects fetcher instrumentation. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	requests     *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	backoff      prometheus.Histogram
	inFlight     prometheus.Gauge
}

// NewMetrics creates the fetcher metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "fetcher",
			Name:      "remote_requests_total",
			Help:      "Friend list page requests issued to the remote API, by outcome.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "fetcher",
			Name:      "cache_lookups_total",
			Help:      "Edge cache lookups, by result.",
		}, []string{"result"}),
		backoff: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "fetcher",
			Name:      "backoff_seconds",
			Help:      "Delays spent backing off after throttling responses.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "fetcher",
			Name:      "in_flight_requests",
			Help:      "Remote requests currently holding a concurrency slot.",
		}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.cacheLookups, m.backoff, m.inFlight} {
		if err := reg.Register(c); err != nil {
			return nil, xerrors.Errorf("register fetcher metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observeRequest(outcome string) {
	if m != nil {
		m.requests.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) observeCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) observeBackoff(d time.Duration) {
	if m != nil {
		m.backoff.Observe(d.Seconds())
	}
}

func (m *Metrics) trackInFlight(delta float64) {
	if m != nil {
		m.inFlight.Add(delta)
	}
}
