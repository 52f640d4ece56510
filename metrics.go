package helmsman

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/helmsman/internal/metrics"
)

// NewPrometheusMetrics returns a MetricsCollector that registers its
// collectors with reg on first use.
//
// Parameters:
//   - reg: Registerer (prometheus.DefaultRegisterer if nil)
//   - namespace: Metric namespace ("helmsman" if empty)
//
// Example:
//
//	mgr, err := helmsman.NewManager(&cfg, store,
//	    helmsman.WithMetrics(helmsman.NewPrometheusMetrics(prometheus.DefaultRegisterer, "")),
//	)
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) MetricsCollector {
	return metrics.NewPrometheus(reg, namespace)
}
