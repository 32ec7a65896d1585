package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pipeline's prometheus instruments.
type Metrics struct {
	Branches       *prometheus.CounterVec // Retired branches by kind
	Mispredictions prometheus.Counter
	Squashes       prometheus.Counter
	BTBMisses      prometheus.Counter
	Window         prometheus.Gauge
}

// NewMetrics builds the instruments and registers them on reg. A nil reg
// builds unregistered instruments.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Branches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "neuropath_branches_retired_total",
			Help: "Branches retired through Update, by kind",
		}, []string{"kind"}),
		Mispredictions: f.NewCounter(prometheus.CounterOpts{
			Name: "neuropath_mispredictions_total",
			Help: "Conditional branches resolved against their prediction",
		}),
		Squashes: f.NewCounter(prometheus.CounterOpts{
			Name: "neuropath_squashed_records_total",
			Help: "Prediction records discarded by Squash",
		}),
		BTBMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "neuropath_btb_misses_total",
			Help: "Taken predictions dropped because the BTB had no entry",
		}),
		Window: f.NewGauge(prometheus.GaugeOpts{
			Name: "neuropath_inflight_branches",
			Help: "Branches currently in the fetch window",
		}),
	}
}
