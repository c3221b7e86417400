package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_deliveries_total",
			Help: "Delivery record lifecycle counter by stage",
		},
		[]string{"stage"}, // created|triggered|dispatch_failed
	)

	ReceiptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_receipts_total",
			Help: "Delivery receipts consumed by outcome",
		},
		[]string{"outcome"}, // applied|duplicate|unrecognized|malformed|store_error
	)

	ReceiptBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crm_receipt_batch_size",
			Help:    "Number of queue messages per flushed receipt batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	CampaignTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_campaign_transitions_total",
			Help: "Campaign status transitions by target status",
		},
		[]string{"status"},
	)

	ReceiptsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_receipts_published_total",
			Help: "Vendor receipts accepted by the HTTP endpoint, by result",
		},
		[]string{"result"}, // ok|invalid|error
	)

	OrdersIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_orders_ingested_total",
			Help: "Orders recorded, by whether the customer was known",
		},
		[]string{"customer_known"}, // true|false
	)
)

var once sync.Once

// MustRegister registers all collectors once; later calls are no-ops so the
// HTTP server and workers can share a process.
func MustRegister(r prometheus.Registerer) {
	once.Do(func() {
		r.MustRegister(
			DeliveriesTotal,
			ReceiptsTotal,
			ReceiptBatchSize,
			CampaignTransitions,
			ReceiptsPublished,
			OrdersIngested,
		)
	})
}
