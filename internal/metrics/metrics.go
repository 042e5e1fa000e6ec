// Package metrics exposes autosave and sync counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/autosync/internal/autosave"
	"github.com/roach88/autosync/internal/reconcile"
)

const namespace = "autosync"

// Metrics holds the collectors on a private registry, so several engines
// (or tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	pending      prometheus.Gauge
	passes       prometheus.Counter
	synced       *prometheus.CounterVec
	failures     *prometheus.CounterVec
	saves        *prometheus.CounterVec
	savesSkipped *prometheus.CounterVec
}

var (
	_ autosave.Observer  = (*Metrics)(nil)
	_ reconcile.Observer = (*Metrics)(nil)
)

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_changes",
			Help:      "Offline changes not yet confirmed by the remote.",
		}),
		passes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_passes_total",
			Help:      "Reconciliation passes run.",
		}),
		synced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_synced_total",
			Help:      "Offline changes accepted by the remote.",
		}, []string{"kind"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_failures_total",
			Help:      "Failed change dispatches by reason (remote, conflict, resolve).",
		}, []string{"kind", "reason"}),
		saves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Completed autosaves by path (remote, remote_only, local).",
		}, []string{"kind", "path"}),
		savesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_skipped_total",
			Help:      "Autosave triggers that wrote nothing, by reason.",
		}, []string{"kind", "reason"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Saved(kind string, path autosave.Path) {
	m.saves.WithLabelValues(kind, string(path)).Inc()
}

func (m *Metrics) Skipped(kind, reason string) {
	m.savesSkipped.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) PassCompleted(reconcile.Result) { m.passes.Inc() }

func (m *Metrics) PendingChanged(n int) { m.pending.Set(float64(n)) }

func (m *Metrics) ChangeSynced(kind string) { m.synced.WithLabelValues(kind).Inc() }

func (m *Metrics) ChangeFailed(kind, reason string) {
	m.failures.WithLabelValues(kind, reason).Inc()
}
