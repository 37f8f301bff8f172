package metrics

import (
	"net/http"
	"time"

	"fxdesk/internal/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder 实现 engine.Recorder 与 desk.Recorder。
type Recorder struct {
	registry     *prometheus.Registry
	engineCalls  *prometheus.CounterVec
	engineLat    *prometheus.HistogramVec
	analyses     *prometheus.CounterVec
	analysisLat  *prometheus.HistogramVec
	dispositions *prometheus.CounterVec
	pending      prometheus.Gauge
	open         prometheus.Gauge
}

// New creates a recorder on its own registry, including Go runtime collectors.
func New(namespace string) *Recorder {
	if namespace == "" {
		namespace = "fxdesk"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		engineCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_calls_total",
			Help:      "Analysis engine invocations by transport and outcome",
		}, []string{"transport", "outcome"}),
		engineLat: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_call_duration_seconds",
			Help:      "Analysis engine call latency",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"transport"}),
		analyses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Completed analysis requests by outcome",
		}, []string{"outcome"}),
		analysisLat: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "End to end analysis duration",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"outcome"}),
		dispositions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispositions_total",
			Help:      "Signal dispositions by resolver and terminal state",
		}, []string{"by", "state"}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signals_pending",
			Help:      "Signals awaiting disposition",
		}),
		open: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "positions_open",
			Help:      "Open simulated positions",
		}),
	}
}

func (r *Recorder) ObserveEngineCall(transport, outcome string, d time.Duration) {
	r.engineCalls.WithLabelValues(transport, outcome).Inc()
	r.engineLat.WithLabelValues(transport).Observe(d.Seconds())
}

func (r *Recorder) ObserveAnalysis(outcome string, d time.Duration) {
	r.analyses.WithLabelValues(outcome).Inc()
	r.analysisLat.WithLabelValues(outcome).Observe(d.Seconds())
}

func (r *Recorder) ObserveDisposition(by signal.Resolver, state signal.State) {
	r.dispositions.WithLabelValues(string(by), string(state)).Inc()
}

func (r *Recorder) SetGauges(pending, open int) {
	r.pending.Set(float64(pending))
	r.open.Set(float64(open))
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler 暴露 /metrics。
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
