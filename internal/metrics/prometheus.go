package metrics

import (
	"net/http"

	"github.com/cricamfe/vivid/internal/device"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter republishes an Aggregator's accumulators as Prometheus metrics:
// a CounterVec keyed by (stage, device) for frame counts and a companion
// gauge for per-stage mean service time.
type Exporter struct {
	agg *Aggregator

	framesTotal *prometheus.CounterVec
	meanMs      *prometheus.GaugeVec
}

// NewExporter registers the exporter's metrics with the default registry
// under the vivid_pipeline namespace.
func NewExporter(agg *Aggregator) *Exporter {
	return &Exporter{
		agg: agg,
		framesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vivid_pipeline",
			Name:      "frames_processed_total",
			Help:      "Frames processed, by stage and device.",
		}, []string{"stage", "device"}),
		meanMs: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vivid_pipeline",
			Name:      "stage_mean_service_ms",
			Help:      "Mean per-frame service time, by stage and device.",
		}, []string{"stage", "device"}),
	}
}

// Publish takes a fresh snapshot of the aggregator and updates every
// registered series. Intended to be called periodically by the caller
// (e.g. once per dispatch, or on a ticker) rather than on every update.
func (e *Exporter) Publish() {
	for _, s := range e.agg.Snapshot() {
		label := stageLabel(s.Stage)
		e.framesTotal.WithLabelValues(label, device.CPU.String()).Add(0) // ensure series exists
		e.framesTotal.WithLabelValues(label, device.GPU.String()).Add(0)
		e.meanMs.WithLabelValues(label, device.CPU.String()).Set(e.agg.MeanMs(s.Stage, device.CPU))
		e.meanMs.WithLabelValues(label, device.GPU.String()).Set(e.agg.MeanMs(s.Stage, device.GPU))
	}
}

func stageLabel(stage int) string {
	const digits = "0123456789"
	if stage < 10 {
		return digits[stage : stage+1]
	}
	return "N"
}

// ServeHTTP exposes /metrics on addr until ctx-like shutdown is requested
// by the caller closing the returned server.
func ServeHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
