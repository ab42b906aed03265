// Package telemetry exports exploration metrics in the Prometheus format.
package telemetry

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kolkov/weakmem/internal/weakmem/api"
	"github.com/kolkov/weakmem/internal/weakmem/buffers"
)

const namespace = "weakmem"

// Path results used as the "result" label.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultAborted = "aborted"
)

// Metrics collects per-path exploration counters on its own registry.
// It implements litmus.PathObserver.
type Metrics struct {
	reg *prometheus.Registry

	paths        *prometheus.CounterVec
	choices      *prometheus.HistogramVec
	stores       *prometheus.CounterVec
	loads        *prometheus.CounterVec
	explorations *prometheus.CounterVec
	evictions    *prometheus.CounterVec
	flushes      *prometheus.CounterVec
	committed    *prometheus.CounterVec
	dropped      *prometheus.CounterVec
}

// New registers the metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &Metrics{
		reg:   reg,
		paths: counter("paths_total", "Explored paths by test and result.", "test", "result"),
		choices: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "path_choices",
			Help:      "Choices made per explored path.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}, []string{"test"}),
		stores:       counter("stores_total", "Intercepted stores.", "test"),
		loads:        counter("loads_total", "Intercepted loads.", "test"),
		explorations: counter("explorations_total", "Loads and commits that reached a choice point.", "test"),
		evictions:    counter("evictions_total", "Store buffer lines forced out by overflow.", "test"),
		flushes:      counter("flushes_total", "Store buffer flushes by kind.", "test", "kind"),
		committed:    counter("committed_lines_total", "Buffered lines written to memory.", "test"),
		dropped:      counter("dropped_lines_total", "Buffered lines discarded by cleanup or resize.", "test"),
	}
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObservePath records one explored path of test.
func (m *Metrics) ObservePath(test string, st buffers.Stats, choices int, err error) {
	m.paths.WithLabelValues(test, result(err)).Inc()
	m.choices.WithLabelValues(test).Observe(float64(choices))

	m.stores.WithLabelValues(test).Add(float64(st.Stores))
	m.loads.WithLabelValues(test).Add(float64(st.Loads))
	m.explorations.WithLabelValues(test).Add(float64(st.Explorations))
	m.evictions.WithLabelValues(test).Add(float64(st.Evictions))
	m.flushes.WithLabelValues(test, "full").Add(float64(st.FullFlushes))
	m.flushes.WithLabelValues(test, "simple").Add(float64(st.SimpleFlushes))
	m.flushes.WithLabelValues(test, "partial").Add(float64(st.PartialFlushes))
	m.committed.WithLabelValues(test).Add(float64(st.CommittedLines))
	m.dropped.WithLabelValues(test).Add(float64(st.DroppedLines))
}

func result(err error) string {
	var flt *api.Fault
	switch {
	case err == nil:
		return ResultOK
	case errors.As(err, &flt):
		return ResultFailed
	}
	return ResultAborted
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
