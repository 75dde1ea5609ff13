// Package metrics exposes Prometheus counters for ledger and analytics activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "resume_tracker"

// Collector owns a registry and the metrics registered on it.
type Collector struct {
	registry *prometheus.Registry

	LinksCreated    prometheus.Counter
	ViewsRecorded   prometheus.Counter
	LinksDeleted    prometheus.Counter
	LedgerWipes     prometheus.Counter
	StorageFailures *prometheus.CounterVec
	ArtifactErrors  *prometheus.CounterVec
	EventsConsumed  *prometheus.CounterVec
}

// New creates a collector with process and runtime metrics included.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		LinksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_created_total",
			Help:      "Tracked links created.",
		}),
		ViewsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "views_recorded_total",
			Help:      "View events appended to the ledger.",
		}),
		LinksDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_deleted_total",
			Help:      "Tracked links deleted individually.",
		}),
		LedgerWipes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_wipes_total",
			Help:      "Confirmed delete-all operations.",
		}),
		StorageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_failures_total",
			Help:      "Ledger operations rejected because the snapshot could not be saved.",
		}, []string{"operation"}),
		ArtifactErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_errors_total",
			Help:      "Artifact store failures by operation.",
		}, []string{"operation"}),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_consumed_total",
			Help:      "Analytics events handled by the consumer, by topic and result.",
		}, []string{"topic", "result"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.LinksCreated,
		c.ViewsRecorded,
		c.LinksDeleted,
		c.LedgerWipes,
		c.StorageFailures,
		c.ArtifactErrors,
		c.EventsConsumed,
	)

	return c
}

// TrackLinks registers a gauge reporting the current number of tracked links.
func (c *Collector) TrackLinks(count func() int) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_links",
		Help:      "Links currently held by the ledger.",
	}, func() float64 { return float64(count()) }))
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
