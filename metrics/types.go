// Package metrics defines the types and constants used for metric collection and reporting.
package metrics

// Policy defines how multiple values of the same metric combine over a window.
type Policy int

const (
	Policy_None      Policy = iota // no aggregation, the reporter decides
	Policy_Set                     // the last value wins
	Policy_Sum                     // values add up
	Policy_Avg                     // average of the values
	Policy_Max                     // maximum value
	Policy_Min                     // minimum value
	Policy_Stopwatch               // durations in milliseconds, averaged
)

// Value represents a metric value as a float64.
type Value float64

// Dimension represents metric dimensions as key-value pairs.
type Dimension map[string]string

// Group related constants, prefixed with Group.
const (
	// GroupOncelink is the group of every metric this module reports.
	GroupOncelink = "oncelink"
)

// Metric names. The comment lists the group and dimensions of each.
const (
	// NamePoolCreateTotal: objects created because a pool was empty.
	// group:oncelink dimension:poolname
	NamePoolCreateTotal = "pool_create_total"

	// NameDeliverySendTotal: application messages transmitted for the first time.
	// group:oncelink
	NameDeliverySendTotal = "delivery_send_total"

	// NameDeliveryResendTotal: messages replayed from the resend buffer after a handshake.
	// group:oncelink
	NameDeliveryResendTotal = "delivery_resend_total"

	// NameDeliveryTransmitFailTotal: messages the transport refused.
	// group:oncelink
	NameDeliveryTransmitFailTotal = "delivery_transmit_fail_total"

	// NameDeliveryWindowFullTotal: transitions into SENDWINDOW_FULL.
	// group:oncelink
	NameDeliveryWindowFullTotal = "delivery_window_full_total"

	// NameDeliveryPendingMax: largest pending queue seen.
	// group:oncelink
	NameDeliveryPendingMax = "delivery_pending_max"

	// NameDeliveryResendMax: largest resend buffer seen.
	// group:oncelink
	NameDeliveryResendMax = "delivery_resend_max"

	// NameDeliveryDeliveredTotal: payloads handed to the application.
	// group:oncelink
	NameDeliveryDeliveredTotal = "delivery_delivered_total"

	// NameDeliveryAckSentTotal: cumulative acks emitted by receivers.
	// group:oncelink
	NameDeliveryAckSentTotal = "delivery_ack_sent_total"

	// NameDeliveryAckRecvTotal: acks that advanced a sender window.
	// group:oncelink
	NameDeliveryAckRecvTotal = "delivery_ack_recv_total"

	// NameDeliveryDuplicateTotal: sends dropped as already delivered.
	// group:oncelink
	NameDeliveryDuplicateTotal = "delivery_duplicate_total"

	// NameDeliveryStaleTotal: messages dropped for belonging to another session.
	// group:oncelink dimension:kind
	NameDeliveryStaleTotal = "delivery_stale_total"

	// NameDeliverySeqGapTotal: sequence gaps, each one ends a session.
	// group:oncelink
	NameDeliverySeqGapTotal = "delivery_seq_gap_total"

	// NameLinkHandshakeTotal: handshakes completed.
	// group:oncelink dimension:result,role
	NameLinkHandshakeTotal = "link_handshake_total"

	// NameLinkHandshakeMS: time from sending a handshake to its reply.
	// group:oncelink
	NameLinkHandshakeMS = "link_handshake_ms"

	// NameLinkRestoreFailedTotal: links whose transport did not come back in time.
	// group:oncelink
	NameLinkRestoreFailedTotal = "link_restore_failed_total"

	// NameLinkFatalTotal: sessions reset after a protocol error.
	// group:oncelink dimension:reason
	NameLinkFatalTotal = "link_fatal_total"

	// NameTransportSendFrameTotal: frames written.
	// group:oncelink dimension:transport
	NameTransportSendFrameTotal = "transport_send_frame_total"

	// NameTransportRecvFrameTotal: frames read.
	// group:oncelink dimension:transport
	NameTransportRecvFrameTotal = "transport_recv_frame_total"

	// NameTransportFrameSizeAvgBytes: average frame size.
	// group:oncelink dimension:transport
	NameTransportFrameSizeAvgBytes = "transport_frame_size_avg_bytes"

	// NameTransportFrameSizeMaxBytes: largest frame.
	// group:oncelink dimension:transport
	NameTransportFrameSizeMaxBytes = "transport_frame_size_max_bytes"

	// NameTransportSendBusyTotal: frames refused because the send channel was full.
	// group:oncelink dimension:transport
	NameTransportSendBusyTotal = "transport_send_busy_total"

	// NameDispatcherLimitedTotal: frames dropped by the receive limiter.
	// group:oncelink
	NameDispatcherLimitedTotal = "dispatcher_limited_total"

	// NameDispatcherDecodeFailTotal: frames that did not decode.
	// group:oncelink
	NameDispatcherDecodeFailTotal = "dispatcher_decode_fail_total"
)

// Dimension related definitions, prefixed with Dim.
const (
	// DimPoolName is the dimension for pool name.
	DimPoolName = "poolname"
	// DimKind is the protocol message kind.
	DimKind = "kind"
	// DimResult is ok or fail.
	DimResult = "result"
	// DimRole is client or server.
	DimRole = "role"
	// DimReason names why a session was reset.
	DimReason = "reason"
	// DimTransport names the transport, tcp, kcp or pipe.
	DimTransport = "transport"
)
