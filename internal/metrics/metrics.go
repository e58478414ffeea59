package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Delivery metrics
	MessagesSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hchat_messages_submitted_total",
			Help: "Total messages submitted for delivery",
		},
	)

	MessagesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hchat_messages_failed_total",
			Help: "Messages that exhausted their retry budget",
		},
	)

	TransmitRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hchat_transmit_retries_total",
			Help: "Transmission attempts beyond the first per message",
		},
	)

	PendingMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hchat_pending_messages",
			Help: "Messages currently awaiting delivery resolution",
		},
	)

	// Session metrics
	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hchat_reconnects_total",
			Help: "Connection losses that triggered a reconnect",
		},
	)

	Keepalives = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hchat_keepalives_total",
			Help: "Presence keepalive frames sent",
		},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hchat_frames_dropped_total",
			Help: "Inbound frames dropped",
		},
		[]string{"reason"}, // "malformed", "unknown_type", "echo"
	)

	// Attachment metrics
	AttachmentUploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hchat_attachment_upload_duration_seconds",
			Help:    "Encrypt plus upload duration per attachment",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	AttachmentDownloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hchat_attachment_download_duration_seconds",
			Help:    "Download plus decrypt duration per attachment",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Diagnostics HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hchat_http_requests_total",
			Help: "Total diagnostics HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hchat_http_request_duration_seconds",
			Help:    "Diagnostics HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)
)
