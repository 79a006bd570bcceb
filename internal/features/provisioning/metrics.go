package provisioning

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpnshop",
		Subsystem: "provisioning",
		Name:      "operations_total",
		Help:      "Операции оркестратора по типу и исходу.",
	}, []string{"kind", "outcome"})

	compensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpnshop",
		Subsystem: "provisioning",
		Name:      "compensations_total",
		Help:      "Возвраты средств после неудачного провижининга.",
	}, []string{"kind"})

	reconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpnshop",
		Subsystem: "reconcile",
		Name:      "resolved_total",
		Help:      "Операции, доведённые сверкой, по типу и результату.",
	}, []string{"kind", "result"})

	pendingOperations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vpnshop",
		Subsystem: "reconcile",
		Name:      "pending_operations",
		Help:      "Незавершённые операции, найденные последним проходом сверки.",
	})

	balanceDrifts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vpnshop",
		Subsystem: "reconcile",
		Name:      "balance_drifts",
		Help:      "Счета, у которых кеш баланса расходится с суммой проводок.",
	})
)

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
