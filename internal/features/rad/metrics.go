package rad

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpnshop",
		Subsystem: "rad",
		Name:      "calls_total",
		Help:      "Вызовы сервера доступа по исходу.",
	}, []string{"backend", "op", "outcome"})

	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vpnshop",
		Subsystem: "rad",
		Name:      "call_duration_seconds",
		Help:      "Длительность одной попытки вызова сервера доступа.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"backend", "op"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpnshop",
		Subsystem: "rad",
		Name:      "retries_total",
		Help:      "Повторы после недоступности сервера.",
	}, []string{"backend", "op"})
)

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case Retryable(err):
		return "unreachable"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	default:
		return "error"
	}
}
