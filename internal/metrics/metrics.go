// Package metrics provides Prometheus metrics collection for the livechat engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SocketConnected tracks whether the persistent connection is currently up (0 or 1)
	SocketConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livechat_socket_connected",
		Help: "Whether the persistent event connection is currently established",
	})

	// Reconnects tracks the total number of reconnect attempts that succeeded
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_reconnects_total",
		Help: "Total number of successful reconnects of the event connection",
	})

	// RoomsRejoined tracks rooms replayed from the desired set after a reconnect
	RoomsRejoined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_rooms_rejoined_total",
		Help: "Total number of room joins replayed after reconnect",
	})

	// MessagesReconciled tracks authoritative messages merged into timelines
	MessagesReconciled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_messages_reconciled_total",
		Help: "Total number of authoritative messages merged into session timelines",
	})

	// DuplicatesDiscarded tracks authoritative messages dropped as idempotent no-ops
	DuplicatesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_duplicates_discarded_total",
		Help: "Total number of duplicate authoritative messages discarded",
	})

	// PlaceholdersReplaced tracks optimistic placeholders superseded by their echo
	PlaceholdersReplaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_placeholders_replaced_total",
		Help: "Total number of optimistic placeholders replaced by authoritative echoes",
	})

	// SendFailures tracks placeholder messages marked failed
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_send_failures_total",
		Help: "Total number of message sends that failed on both transports",
	})

	// RestFallbacks tracks sends routed over REST because the socket was down
	RestFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_rest_fallbacks_total",
		Help: "Total number of operations that fell back to request/response calls",
	})

	// StaleFetchesDiscarded tracks late history fetches dropped after a session switch
	StaleFetchesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_stale_fetches_discarded_total",
		Help: "Total number of late-arriving history fetches discarded",
	})

	// ClaimsWon tracks session claims confirmed for this participant
	ClaimsWon = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_claims_won_total",
		Help: "Total number of session claims the backend confirmed",
	})

	// ClaimsLost tracks claims rejected because another admin won the race
	ClaimsLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_claims_lost_total",
		Help: "Total number of session claims lost to another admin",
	})

	// EventsDropped tracks push events logged and dropped (unknown session, bad shape)
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_events_dropped_total",
		Help: "Total number of push events dropped during normalization or routing",
	})
)
