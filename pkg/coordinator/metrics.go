package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kidcode-ai/kidcode/pkg/models"
)

var (
	outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kidcode_operations_total",
		Help: "Settled submits by slot and status.",
	}, []string{"slot", "status"})

	inflight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kidcode_operations_in_flight",
		Help: "Attempts currently requesting or streaming, by slot.",
	}, []string{"slot"})
)

func busy(s State) bool { return s == Requesting || s == Streaming }

func trackTransition(slot models.Slot, from, to State) {
	switch {
	case !busy(from) && busy(to):
		inflight.WithLabelValues(string(slot)).Inc()
	case busy(from) && !busy(to):
		inflight.WithLabelValues(string(slot)).Dec()
	}
}
