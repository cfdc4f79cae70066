package meshsub_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/meshsub"
)

func TestDefaultParameters(t *testing.T) {
	requireT := require.New(t)

	params := meshsub.DefaultParameters()
	requireT.Equal("/meshsub/1.0.0", params.ProtocolID())
	requireT.Equal(8, params.D())
	requireT.Equal(6, params.DLow())
	requireT.Equal(12, params.DHigh())
	requireT.Equal(6, params.DLazy())
	requireT.Equal(700*time.Millisecond, params.HeartbeatInterval())
	requireT.Equal(60*time.Second, params.FanoutTTL())
	requireT.Equal(6, params.McacheLen())
	requireT.Equal(3, params.McacheGossip())
	requireT.Equal(24*time.Second, params.SeenTTL())
	requireT.False(params.IsZero())
	requireT.True(meshsub.Parameters{}.IsZero())
}

func TestSeenTTLIsDerivedFromChain(t *testing.T) {
	requireT := require.New(t)

	params, err := meshsub.NewParameters(meshsub.DefaultParametersConfig(meshsub.ChainConfig{
		SecondsPerSlot:             12,
		JustificationLookbackSlots: 5,
	}))
	requireT.NoError(err)
	requireT.Equal(120*time.Second, params.SeenTTL())
}

func TestDegreeBoundsMayBeEqual(t *testing.T) {
	requireT := require.New(t)

	config := meshsub.DefaultParametersConfig(meshsub.DevnetChainConfig)
	config.DLow = 8
	config.DHigh = 8

	params, err := meshsub.NewParameters(config)
	requireT.NoError(err)
	requireT.Equal(8, params.DLow())
	requireT.Equal(8, params.DHigh())
}

func TestInvalidParameters(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *meshsub.ParametersConfig)
	}{
		{name: "empty protocol ID", modify: func(c *meshsub.ParametersConfig) { c.ProtocolID = "" }},
		{name: "d_low above d", modify: func(c *meshsub.ParametersConfig) { c.DLow = 9 }},
		{name: "d above d_high", modify: func(c *meshsub.ParametersConfig) { c.D = 13 }},
		{name: "zero d", modify: func(c *meshsub.ParametersConfig) { c.D = 0 }},
		{name: "negative d_low", modify: func(c *meshsub.ParametersConfig) { c.DLow = -1 }},
		{name: "zero d_high", modify: func(c *meshsub.ParametersConfig) { c.DHigh = 0 }},
		{name: "zero d_lazy", modify: func(c *meshsub.ParametersConfig) { c.DLazy = 0 }},
		{name: "zero heartbeat", modify: func(c *meshsub.ParametersConfig) { c.HeartbeatInterval = 0 }},
		{name: "negative fanout TTL", modify: func(c *meshsub.ParametersConfig) { c.FanoutTTL = -time.Second }},
		{name: "zero mcache_len", modify: func(c *meshsub.ParametersConfig) { c.McacheLen = 0 }},
		{name: "zero mcache_gossip", modify: func(c *meshsub.ParametersConfig) { c.McacheGossip = 0 }},
		{name: "mcache_gossip above mcache_len", modify: func(c *meshsub.ParametersConfig) { c.McacheGossip = 7 }},
		{name: "zero seconds per slot", modify: func(c *meshsub.ParametersConfig) { c.Chain.SecondsPerSlot = 0 }},
		{name: "zero lookback", modify: func(c *meshsub.ParametersConfig) { c.Chain.JustificationLookbackSlots = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			requireT := require.New(t)

			config := meshsub.DefaultParametersConfig(meshsub.DevnetChainConfig)
			tc.modify(&config)

			params, err := meshsub.NewParameters(config)
			requireT.Error(err)
			requireT.True(errors.Is(err, meshsub.ErrConfiguration))
			requireT.True(params.IsZero())
		})
	}
}
