package meshsub

import (
	"time"

	"github.com/pkg/errors"
)

// ErrConfiguration is returned when gossipsub parameters violate their invariants.
var ErrConfiguration = errors.New("invalid gossipsub configuration")

// Defaults of gossipsub parameters.
const (
	DefaultProtocolID        = "/meshsub/1.0.0"
	DefaultD                 = 8
	DefaultDLow              = 6
	DefaultDHigh             = 12
	DefaultDLazy             = 6
	DefaultHeartbeatInterval = 700 * time.Millisecond
	DefaultFanoutTTL         = 60 * time.Second
	DefaultMcacheLen         = 6
	DefaultMcacheGossip      = 3
)

// ChainConfig carries the chain timing constants the seen TTL is derived from.
type ChainConfig struct {
	SecondsPerSlot             uint64
	JustificationLookbackSlots uint64
}

// DevnetChainConfig is the chain timing of the devnet.
var DevnetChainConfig = ChainConfig{
	SecondsPerSlot:             4,
	JustificationLookbackSlots: 3,
}

// SeenTTL returns the expiry time of seen message IDs: two justification lookback windows.
func (c ChainConfig) SeenTTL() time.Duration {
	return time.Duration(2*c.SecondsPerSlot*c.JustificationLookbackSlots) * time.Second
}

// ParametersConfig is the input of NewParameters.
type ParametersConfig struct {
	ProtocolID        string
	D                 int
	DLow              int
	DHigh             int
	DLazy             int
	HeartbeatInterval time.Duration
	FanoutTTL         time.Duration
	McacheLen         int
	McacheGossip      int
	Chain             ChainConfig
}

// DefaultParametersConfig returns config holding canonical gossipsub parameters.
func DefaultParametersConfig(chain ChainConfig) ParametersConfig {
	return ParametersConfig{
		ProtocolID:        DefaultProtocolID,
		D:                 DefaultD,
		DLow:              DefaultDLow,
		DHigh:             DefaultDHigh,
		DLazy:             DefaultDLazy,
		HeartbeatInterval: DefaultHeartbeatInterval,
		FanoutTTL:         DefaultFanoutTTL,
		McacheLen:         DefaultMcacheLen,
		McacheGossip:      DefaultMcacheGossip,
		Chain:             chain,
	}
}

// Parameters is the validated, immutable set of gossipsub parameters.
type Parameters struct {
	protocolID        string
	d                 int
	dLow              int
	dHigh             int
	dLazy             int
	heartbeatInterval time.Duration
	fanoutTTL         time.Duration
	mcacheLen         int
	mcacheGossip      int
	seenTTL           time.Duration
}

// NewParameters validates config and builds parameters from it.
func NewParameters(config ParametersConfig) (Parameters, error) {
	if config.ProtocolID == "" {
		return Parameters{}, errors.Wrap(ErrConfiguration, "protocol ID is empty")
	}

	for _, c := range []struct {
		name  string
		value int64
	}{
		{name: "d", value: int64(config.D)},
		{name: "d_low", value: int64(config.DLow)},
		{name: "d_high", value: int64(config.DHigh)},
		{name: "d_lazy", value: int64(config.DLazy)},
		{name: "heartbeat interval", value: int64(config.HeartbeatInterval)},
		{name: "fanout TTL", value: int64(config.FanoutTTL)},
		{name: "mcache_len", value: int64(config.McacheLen)},
		{name: "mcache_gossip", value: int64(config.McacheGossip)},
	} {
		if c.value <= 0 {
			return Parameters{}, errors.Wrapf(ErrConfiguration, "%s must be positive, got %d", c.name, c.value)
		}
	}

	if config.DLow > config.D {
		return Parameters{}, errors.Wrapf(ErrConfiguration, "d_low %d exceeds d %d", config.DLow, config.D)
	}
	if config.D > config.DHigh {
		return Parameters{}, errors.Wrapf(ErrConfiguration, "d %d exceeds d_high %d", config.D, config.DHigh)
	}
	if config.McacheGossip > config.McacheLen {
		return Parameters{}, errors.Wrapf(ErrConfiguration, "mcache_gossip %d exceeds mcache_len %d",
			config.McacheGossip, config.McacheLen)
	}

	seenTTL := config.Chain.SeenTTL()
	if seenTTL <= 0 {
		return Parameters{}, errors.Wrapf(ErrConfiguration,
			"seen TTL must be positive, got %s (seconds per slot: %d, justification lookback slots: %d)",
			seenTTL, config.Chain.SecondsPerSlot, config.Chain.JustificationLookbackSlots)
	}

	return Parameters{
		protocolID:        config.ProtocolID,
		d:                 config.D,
		dLow:              config.DLow,
		dHigh:             config.DHigh,
		dLazy:             config.DLazy,
		heartbeatInterval: config.HeartbeatInterval,
		fanoutTTL:         config.FanoutTTL,
		mcacheLen:         config.McacheLen,
		mcacheGossip:      config.McacheGossip,
		seenTTL:           seenTTL,
	}, nil
}

// DefaultParameters returns canonical gossipsub parameters of the devnet.
func DefaultParameters() Parameters {
	params, err := NewParameters(DefaultParametersConfig(DevnetChainConfig))
	if err != nil {
		panic(err)
	}
	return params
}

// IsZero reports whether parameters were not built by NewParameters.
func (p Parameters) IsZero() bool {
	return p == Parameters{}
}

// ProtocolID returns the protocol ID of gossip messages.
func (p Parameters) ProtocolID() string {
	return p.protocolID
}

// D returns the target number of peers in a topic mesh.
func (p Parameters) D() int {
	return p.d
}

// DLow returns the low watermark of peers in a topic mesh.
func (p Parameters) DLow() int {
	return p.dLow
}

// DHigh returns the high watermark of peers in a topic mesh.
func (p Parameters) DHigh() int {
	return p.dHigh
}

// DLazy returns the target number of gossip-only peers.
func (p Parameters) DLazy() int {
	return p.dLazy
}

// HeartbeatInterval returns the period of the heartbeat.
func (p Parameters) HeartbeatInterval() time.Duration {
	return p.heartbeatInterval
}

// FanoutTTL returns the expiry time of fanout maps.
func (p Parameters) FanoutTTL() time.Duration {
	return p.fanoutTTL
}

// McacheLen returns the number of history windows retaining full messages.
func (p Parameters) McacheLen() int {
	return p.mcacheLen
}

// McacheGossip returns the number of history windows gossiped about.
func (p Parameters) McacheGossip() int {
	return p.mcacheGossip
}

// SeenTTL returns the expiry time of seen message IDs.
func (p Parameters) SeenTTL() time.Duration {
	return p.seenTTL
}
