// Package metrics exposes pipeline outcome counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Service struct {
	resolved         prometheus.Counter
	resolutionErrors prometheus.Counter
	signed           *prometheus.CounterVec
	broadcast        *prometheus.CounterVec
	mined            prometheus.Counter
	failed           *prometheus.CounterVec
	canceled         prometheus.Counter
}

func NewService(reg prometheus.Registerer) *Service {
	factory := promauto.With(reg)
	return &Service{
		resolved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "wallet", Subsystem: "requests", Name: "resolved_total",
			Help: "Requests resolved into canonical form.",
		}),
		resolutionErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "wallet", Subsystem: "requests", Name: "resolution_errors_total",
			Help: "Requests that failed resolution.",
		}),
		signed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet", Subsystem: "requests", Name: "signed_total",
			Help: "Requests signed, by signer type.",
		}, []string{"signer_type"}),
		broadcast: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet", Subsystem: "requests", Name: "broadcast_total",
			Help: "Requests broadcast, by route.",
		}, []string{"route"}),
		mined: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "wallet", Subsystem: "requests", Name: "mined_total",
			Help: "Requests confirmed on chain.",
		}),
		failed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet", Subsystem: "requests", Name: "failed_total",
			Help: "Requests that reached a failure state, by stage.",
		}, []string{"stage"}),
		canceled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "wallet", Subsystem: "requests", Name: "canceled_total",
			Help: "Requests canceled before broadcast.",
		}),
	}
}

func (s *Service) Resolved()        { s.resolved.Inc() }
func (s *Service) ResolutionError() { s.resolutionErrors.Inc() }

func (s *Service) Signed(signerType string) { s.signed.WithLabelValues(signerType).Inc() }

func (s *Service) Broadcast(meta bool) {
	route := "direct"
	if meta {
		route = "relay"
	}
	s.broadcast.WithLabelValues(route).Inc()
}

func (s *Service) Mined()              { s.mined.Inc() }
func (s *Service) Failed(stage string) { s.failed.WithLabelValues(stage).Inc() }
func (s *Service) Canceled()           { s.canceled.Inc() }
