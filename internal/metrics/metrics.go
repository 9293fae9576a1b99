package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the uploader's counters.
type Metrics struct {
	Logins        *prometheus.CounterVec
	Batches       *prometheus.CounterVec
	IssuesCreated prometheus.Counter

	registry *prometheus.Registry
}

// New creates the counters on a private registry.
func New() *Metrics {
	m := &Metrics{
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kanban",
				Name:      "logins_total",
				Help:      "OAuth logins by result.",
			}, []string{"result"}),
		Batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kanban",
				Name:      "batches_total",
				Help:      "Task creation batches by final status.",
			}, []string{"status"}),
		IssuesCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "kanban",
				Name:      "issues_created_total",
				Help:      "Jira issues created.",
			}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.Logins, m.Batches, m.IssuesCreated)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
