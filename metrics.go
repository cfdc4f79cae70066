package meshsub

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/outofforest/meshsub/wire"
)

const metricsNamespace = "meshsub"

type metrics struct {
	Messages     *prometheus.CounterVec
	Duplicates   prometheus.Counter
	SlowPeers    prometheus.Counter
	SeenCache    prometheus.Gauge
	MessageCache prometheus.Gauge
	GossipWindow prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		Messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_total",
				Help:      "Number of unique messages relayed, by message ID domain.",
			},
			[]string{"domain"},
		),
		Duplicates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "duplicate_messages_total",
				Help:      "Number of received messages dropped because their ID has been seen already.",
			},
		),
		SlowPeers: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "slow_peers_total",
				Help:      "Number of peers disconnected because their send queue was full.",
			},
		),
		SeenCache: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "seen_cache_entries",
				Help:      "Number of message IDs in the seen cache.",
			},
		),
		MessageCache: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "message_cache_entries",
				Help:      "Number of full messages in the message cache.",
			},
		),
		GossipWindow: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "gossip_window_entries",
				Help:      "Number of message IDs in the gossiped windows of the message cache.",
			},
		),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{
		m.Messages, m.Duplicates, m.SlowPeers, m.SeenCache, m.MessageCache, m.GossipWindow,
	} {
		if err := reg.Register(c); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return m, nil
}

func domainLabel(domain wire.Domain) string {
	if domain == wire.MessageDomainValidSnappy {
		return "valid_snappy"
	}
	return "invalid_snappy"
}
