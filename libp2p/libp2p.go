// Package libp2p configures go-libp2p-pubsub gossipsub routers with meshsub parameters and message IDs.
package libp2p

import (
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/outofforest/meshsub"
)

// GossipSubParams converts parameters to gossipsub router parameters.
// Fields not covered by parameters keep libp2p defaults, adjusted to stay valid against the mesh degree.
func GossipSubParams(params meshsub.Parameters) pubsub.GossipSubParams {
	gsp := pubsub.DefaultGossipSubParams()
	gsp.D = params.D()
	gsp.Dlo = params.DLow()
	gsp.Dhi = params.DHigh()
	gsp.Dlazy = params.DLazy()
	gsp.HeartbeatInterval = params.HeartbeatInterval()
	gsp.FanoutTTL = params.FanoutTTL()
	gsp.HistoryLength = params.McacheLen()
	gsp.HistoryGossip = params.McacheGossip()

	// Dscore <= Dhi, Dout < Dlo and Dout <= D/2 are required by the router.
	if gsp.Dscore > gsp.Dhi {
		gsp.Dscore = gsp.Dhi
	}
	if gsp.Dout >= gsp.Dlo {
		gsp.Dout = gsp.Dlo - 1
	}
	if gsp.Dout > gsp.D/2 {
		gsp.Dout = gsp.D / 2
	}

	return gsp
}

// MessageIDFn returns function computing IDs of pubsub messages.
func MessageIDFn(decompressor meshsub.Decompressor) pubsub.MsgIdFunction {
	return func(pmsg *pb.Message) string {
		id := meshsub.ComputeMessageID([]byte(pmsg.GetTopic()), pmsg.GetData(), decompressor)
		return string(id[:])
	}
}

// Options returns pubsub options configuring gossipsub router.
func Options(params meshsub.Parameters, decompressor meshsub.Decompressor) []pubsub.Option {
	return []pubsub.Option{
		pubsub.WithGossipSubParams(GossipSubParams(params)),
		pubsub.WithGossipSubProtocols(
			[]protocol.ID{protocol.ID(params.ProtocolID())},
			pubsub.GossipSubDefaultFeatures,
		),
		pubsub.WithMessageIdFn(MessageIDFn(decompressor)),
		pubsub.WithSeenMessagesTTL(params.SeenTTL()),
	}
}
