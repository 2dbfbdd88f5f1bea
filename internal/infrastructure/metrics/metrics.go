package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fitlink_ws_connected_clients",
		Help: "Current connected websocket clients.",
	})

	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fitlink_delivery_active_subscriptions",
		Help: "Current live conversation subscriptions.",
	})

	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fitlink_messages_sent_total",
		Help: "Total messages appended through the send pipeline.",
	})
	SendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fitlink_send_failures_total",
		Help: "Total failed sends by error code.",
	}, []string{"code"})

	ReceiptsMerged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fitlink_read_receipts_merged_total",
		Help: "Total read receipts merged (first-read-wins).",
	})
	ReceiptMergeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fitlink_read_receipt_merge_failures_total",
		Help: "Total failed receipt merges (best-effort, self-correcting).",
	})

	SnapshotsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fitlink_delivery_snapshots_total",
		Help: "Total conversation snapshots delivered to subscribers.",
	})
	SnapshotFetchRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fitlink_delivery_snapshot_retries_total",
		Help: "Total snapshot fetches retried after a store error.",
	})
)

func Register() {
	prometheus.MustRegister(
		ConnectedClients,
		ActiveSubscriptions,
		MessagesSent, SendFailures,
		ReceiptsMerged, ReceiptMergeFailures,
		SnapshotsDelivered, SnapshotFetchRetries,
	)
}
