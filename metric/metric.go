package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespaceSync        = "synchronizer"
	namespaceTxSelector  = "txselector"
	namespaceCoordinator = "coordinator"
	namespacePriority    = "priorityqueue"
	namespaceExodus      = "exodus"
)

var (
	// Reorgs block reorg count
	Reorgs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceSync,
			Name:      "reorgs",
			Help:      "",
		})

	// LastBlockNum last block synced
	LastBlockNum = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceSync,
			Name:      "synced_last_block_num",
			Help:      "",
		})

	// EthLastBlockNum last eth block synced
	EthLastBlockNum = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceSync,
			Name:      "eth_last_block_num",
			Help:      "",
		})
	// LastBatchNum last batch synced
	LastBatchNum = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceSync,
			Name:      "synced_last_batch_num",
			Help:      "",
		})

	// EthLastBatchNum last eth batch synced
	EthLastBatchNum = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceSync,
			Name:      "eth_last_batch_num",
			Help:      "",
		})

	// LastVerifiedBatchNum last batch verified on L1
	LastVerifiedBatchNum = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceSync,
			Name:      "verified_last_batch_num",
			Help:      "",
		})

	// GetTxSelection tx selection count
	GetTxSelection = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceTxSelector,
			Name:      "get_txselection_total",
			Help:      "",
		})

	// SelectedPriorityRequests selected priority request count
	SelectedPriorityRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceTxSelector,
			Name:      "selected_priority_requests",
			Help:      "",
		})

	// SelectedTxs selected pool tx count
	SelectedTxs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceTxSelector,
			Name:      "selected_txs",
			Help:      "",
		})

	// RejectedTxs rejected pool txs by reason
	RejectedTxs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespaceTxSelector,
			Name:      "rejected_txs_total",
			Help:      "",
		}, []string{"reason"})

	// PendingPriorityRequests priority requests waiting for inclusion
	PendingPriorityRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespacePriority,
			Name:      "pending_requests",
			Help:      "",
		})

	// ExodusMode is 1 once exodus mode is active
	ExodusMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespacePriority,
			Name:      "exodus_mode",
			Help:      "",
		})

	// ExodusExits performed exodus exit count
	ExodusExits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceExodus,
			Name:      "exits_total",
			Help:      "",
		})

	// ForgedBatches forged batch count
	ForgedBatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceCoordinator,
			Name:      "forged_batches_total",
			Help:      "",
		})

	// RevertedBatches batches reverted after a settlement timeout
	RevertedBatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceCoordinator,
			Name:      "reverted_batches_total",
			Help:      "",
		})

	// WaitServerProof duration time to get the calculated
	// proof from the server.
	WaitServerProof = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespaceCoordinator,
			Name:      "wait_server_proof",
			Help:      "",
		}, []string{"batch_number", "pipeline_number"})
)

func init() {
	prometheus.MustRegister(Reorgs)
	prometheus.MustRegister(LastBlockNum)
	prometheus.MustRegister(EthLastBlockNum)
	prometheus.MustRegister(LastBatchNum)
	prometheus.MustRegister(EthLastBatchNum)
	prometheus.MustRegister(LastVerifiedBatchNum)
	prometheus.MustRegister(GetTxSelection)
	prometheus.MustRegister(SelectedPriorityRequests)
	prometheus.MustRegister(SelectedTxs)
	prometheus.MustRegister(RejectedTxs)
	prometheus.MustRegister(PendingPriorityRequests)
	prometheus.MustRegister(ExodusMode)
	prometheus.MustRegister(ExodusExits)
	prometheus.MustRegister(ForgedBatches)
	prometheus.MustRegister(RevertedBatches)
	prometheus.MustRegister(WaitServerProof)
}

// MeasureDuration measure the method execution duration
// and save it into a histogram metric
func MeasureDuration(histogram *prometheus.HistogramVec, start time.Time, lvs ...string) {
	duration := time.Since(start)
	histogram.WithLabelValues(lvs...).Observe(float64(duration.Milliseconds()))
}
