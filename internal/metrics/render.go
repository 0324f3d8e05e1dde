package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsRenderedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billdesk",
			Subsystem: "render",
			Name:      "documents_total",
			Help:      "渲染产出的文档总数。",
		},
		[]string{"template", "kind"},
	)

	documentsDegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billdesk",
			Subsystem: "render",
			Name:      "documents_degraded_total",
			Help:      "降级为兜底文档的渲染次数。",
		},
		[]string{"template", "kind"},
	)

	documentPages = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "billdesk",
			Subsystem: "render",
			Name:      "document_pages",
			Help:      "渲染文档的页数分布。",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"template"},
	)
)

// ObserveRender 记录一次文档渲染的结果。
func ObserveRender(template, kind string, pages int, degraded bool) {
	documentsRenderedTotal.WithLabelValues(template, kind).Inc()
	if degraded {
		documentsDegradedTotal.WithLabelValues(template, kind).Inc()
	}
	documentPages.WithLabelValues(template).Observe(float64(pages))
}
