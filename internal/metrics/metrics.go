package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SessionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagw_session_events_total",
			Help: "Provider session lifecycle events by kind",
		},
		[]string{"event"}, // pairing_updated|connected|disconnected
	)

	CampaignsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagw_campaigns_total",
			Help: "Campaign outcomes per dispatch cycle",
		},
		[]string{"status"}, // sent|failed|requeued
	)

	SendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagw_sends_total",
			Help: "Per-recipient campaign send results",
		},
		[]string{"result"}, // ok|failed
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		SessionEventsTotal,
		CampaignsTotal,
		SendsTotal,
	)
}
