package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
)

// rebuildMetrics is shared by the API (explicit rebuilds) and the worker.
type rebuildMetrics struct {
	total         *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	indexedChunks prometheus.Gauge
}

func newRebuildMetrics(service string) *rebuildMetrics {
	return &rebuildMetrics{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "rebuild_total",
				Help:      "Total index rebuilds by outcome.",
			},
			[]string{"service", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "rebuild_duration_seconds",
				Help:      "Index rebuild duration in seconds by outcome.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"service", "status"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "index",
				Name:        "rebuild_in_flight",
				Help:        "Number of running index rebuilds.",
				ConstLabels: prometheus.Labels{"service": service},
			},
		),
		indexedChunks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "index",
				Name:        "chunks",
				Help:        "Chunks in the snapshot written by the last successful rebuild.",
				ConstLabels: prometheus.Labels{"service": service},
			},
		),
	}
}

func (m *rebuildMetrics) register(registry *prometheus.Registry) {
	registry.MustRegister(m.total, m.duration, m.inFlight, m.indexedChunks)
}

func (m *rebuildMetrics) start() {
	m.inFlight.Inc()
}

func (m *rebuildMetrics) finish(service string, report *domain.IndexReport, duration time.Duration, err error) {
	m.inFlight.Dec()

	status := "success"
	switch {
	case domain.IsKind(err, domain.ErrEmptyCorpus):
		status = "empty_corpus"
	case err != nil:
		status = "error"
	}

	m.total.WithLabelValues(service, status).Inc()
	m.duration.WithLabelValues(service, status).Observe(duration.Seconds())
	if err == nil && report != nil {
		m.indexedChunks.Set(float64(report.Chunks))
	}
}

type WorkerMetrics struct {
	registry *prometheus.Registry

	rebuild  *rebuildMetrics
	queueLag *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	rebuild := newRebuildMetrics(service)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between upload creation and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	rebuild.register(registry)
	registry.MustRegister(queueLag)

	return &WorkerMetrics{
		registry: registry,
		rebuild:  rebuild,
		queueLag: queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartRebuild() {
	m.rebuild.start()
}

func (m *WorkerMetrics) FinishRebuild(service string, report *domain.IndexReport, duration time.Duration, err error) {
	m.rebuild.finish(service, report, duration, err)
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}
