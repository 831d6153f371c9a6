package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeUpdated    = "updated"
	outcomeParseError = "parse_error"
	outcomeWriteError = "write_error"

	batchOK         = "ok"
	batchFetchError = "fetch_error"
	batchCountError = "count_error"
)

var (
	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "galaxy_reconcile_records_total",
		Help: "Records processed by the coordinate reconciler, by outcome.",
	}, []string{"outcome"})

	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "galaxy_reconcile_batches_total",
		Help: "Reconcile batches run, by result.",
	}, []string{"result"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "galaxy_reconcile_batch_duration_seconds",
		Help:    "Wall time of one reconcile batch including store I/O.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})
)
