// Package promhooks counts engine events in Prometheus.
//
//	h, err := promhooks.New(prometheus.DefaultRegisterer, "app")
//	eng, _ := querycache.New(querycache.Options{DataSource: api, Hooks: h})
package promhooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/querycache"
)

// Hooks holds the engine's counters. Query keys are never used as labels;
// kinds and reasons are bounded.
type Hooks struct {
	staleResponses prometheus.Counter
	fetchTimeouts  prometheus.Counter
	fetchWait      prometheus.Histogram
	rollbacks      *prometheus.CounterVec
	entityEvicted  *prometheus.CounterVec
	queryEvicted   *prometheus.CounterVec
	parkRejected   *prometheus.CounterVec
	invalidations  *prometheus.CounterVec
	authRefreshes  prometheus.Counter
}

var _ querycache.Hooks = (*Hooks)(nil)

// New creates the counters and registers them with reg (nil skips
// registration).
func New(reg prometheus.Registerer, namespace string) (*Hooks, error) {
	h := &Hooks{
		staleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "stale_responses_total",
			Help:      "Fetch responses discarded because their query generation moved on",
		}),
		fetchTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "fetch_timeouts_total",
			Help:      "Fetches abandoned after the bounded wait",
		}),
		fetchWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "fetch_timeout_seconds",
			Help:      "Configured wait of fetches that timed out",
			Buckets:   []float64{1, 5, 15, 30, 60},
		}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "rollbacks_total",
			Help:      "Optimistic mutations reverted after a failed write",
		}, []string{"op"}),
		entityEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "entity_evictions_total",
			Help:      "Entities removed from the normalized map",
		}, []string{"reason"}),
		queryEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "query_evictions_total",
			Help:      "Idle queries evicted by the sweep",
		}, []string{"parked"}),
		parkRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "park_rejections_total",
			Help:      "Parked records refused on write or discarded on read",
		}, []string{"reason"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "invalidations_total",
			Help:      "Published invalidations by kind and scope",
		}, []string{"kind", "scope"}),
		authRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "auth_refreshes_total",
			Help:      "Session refreshes after auth failures",
		}),
	}
	if reg != nil {
		for _, c := range h.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return h, nil
}

func (h *Hooks) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		h.staleResponses, h.fetchTimeouts, h.fetchWait, h.rollbacks,
		h.entityEvicted, h.queryEvicted, h.parkRejected, h.invalidations,
		h.authRefreshes,
	}
}

func (h *Hooks) StaleResponse(string, uint64) { h.staleResponses.Inc() }

func (h *Hooks) FetchTimeout(_ string, after time.Duration) {
	h.fetchTimeouts.Inc()
	h.fetchWait.Observe(after.Seconds())
}

func (h *Hooks) RolledBack(_ string, op string, _ error) { h.rollbacks.WithLabelValues(op).Inc() }

func (h *Hooks) EntityEvicted(_ string, reason string) {
	h.entityEvicted.WithLabelValues(reason).Inc()
}

func (h *Hooks) QueryEvicted(_ string, parked bool) {
	l := "false"
	if parked {
		l = "true"
	}
	h.queryEvicted.WithLabelValues(l).Inc()
}

func (h *Hooks) ParkRejected(_ string, reason string) { h.parkRejected.WithLabelValues(reason).Inc() }

func (h *Hooks) Invalidated(kind string, ids int) {
	scope := "kind"
	if ids > 0 {
		scope = "ids"
	}
	h.invalidations.WithLabelValues(kind, scope).Inc()
}

func (h *Hooks) AuthRefreshed(int) { h.authRefreshes.Inc() }
