package meshsub

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/meshsub/wire"
	"github.com/outofforest/parallel"
	"github.com/outofforest/resonance"
)

// sendBufferSize is the number of messages queued for a peer on top of the replayed ones.
const sendBufferSize = 100

var errSameServer = errors.New("connected to myself")

type chans struct {
	Sender   chan<- *wire.Publish
	Receiver <-chan *wire.Publish
}

type serverConns struct {
	decompressor Decompressor
	metrics      *metrics

	mu     sync.RWMutex
	conns  map[wire.PeerID]chans
	seen   *seenCache
	mcache *messageCache[*wire.Publish]
}

func newServerConns(params Parameters, decompressor Decompressor, metrics *metrics) *serverConns {
	return &serverConns{
		decompressor: decompressor,
		metrics:      metrics,
		conns:        map[wire.PeerID]chans{},
		seen:         newSeenCache(params.SeenTTL()),
		mcache:       newMessageCache[*wire.Publish](params.McacheLen(), params.McacheGossip()),
	}
}

func (c *serverConns) Add(peerID wire.PeerID) <-chan *wire.Publish {
	c.mu.Lock()
	defer c.mu.Unlock()

	recent := c.mcache.Recent()
	ch := make(chan *wire.Publish, len(recent)+sendBufferSize)

	if ch, ok := c.conns[peerID]; ok {
		close(ch.Sender)
	}

	c.conns[peerID] = chans{Sender: ch, Receiver: ch}

	for _, msg := range recent {
		ch <- msg
	}

	return ch
}

func (c *serverConns) Remove(peerID wire.PeerID, ch <-chan *wire.Publish) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if chs, exists := c.conns[peerID]; exists && chs.Receiver == ch {
		delete(c.conns, peerID)
		close(chs.Sender)
	}
}

// Broadcast queues message for every connected peer. Peer whose queue is full is disconnected.
func (c *serverConns) Broadcast(ctx context.Context, msg *wire.Publish) {
	id, domain := messageID([]byte(msg.Topic), msg.Data, c.decompressor)
	log := logger.Get(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.seen.Add(id, time.Now()) {
		c.metrics.Duplicates.Inc()
		log.Debug("Duplicate message dropped",
			zap.Stringer("messageID", id), zap.String("topic", string(msg.Topic)))
		return
	}

	c.metrics.Messages.WithLabelValues(domainLabel(domain)).Inc()
	c.mcache.Put(id, msg)

	for peerID, conn := range c.conns {
		select {
		case conn.Sender <- msg:
		default:
			log.Warn("Peer is too slow, disconnecting", zap.Stringer("peerID", peerID))
			c.metrics.SlowPeers.Inc()
			delete(c.conns, peerID)
			close(conn.Sender)
		}
	}
}

func (c *serverConns) Heartbeat(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mcache.Shift()
	c.seen.Prune(now)

	c.metrics.SeenCache.Set(float64(c.seen.Len()))
	c.metrics.MessageCache.Set(float64(c.mcache.Len()))
	c.metrics.GossipWindow.Set(float64(len(c.mcache.GossipIDs())))
}

// ServerConfig defines server configuration.
type ServerConfig struct {
	Servers        []string
	MaxMessageSize uint64

	// Parameters default to DefaultParameters if not set.
	Parameters Parameters

	// Decompressor used to compute message IDs. If nil, IDs are computed from raw payloads.
	Decompressor Decompressor

	// Registerer receives relay metrics. Metrics are not exported if nil.
	Registerer prometheus.Registerer
}

// RunServer runs server.
func RunServer(ctx context.Context, ls net.Listener, config ServerConfig) error {
	serverID, err := peerID()
	if err != nil {
		return err
	}

	params := config.Parameters
	if params.IsZero() {
		params = DefaultParameters()
	}

	m, err := newMetrics(config.Registerer)
	if err != nil {
		return err
	}

	conns := newServerConns(params, config.Decompressor, m)
	connConfig := resonance.Config{
		MaxMessageSize: config.MaxMessageSize,
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) (err error) {
		spawn("server", parallel.Fail, func(ctx context.Context) error {
			return resonance.RunServer(ctx, ls, connConfig,
				func(ctx context.Context, c *resonance.Connection) error {
					return runServerConn(ctx, serverID, c, conns)
				})
		})
		spawn("heartbeat", parallel.Fail, func(ctx context.Context) error {
			return runHeartbeat(ctx, params.HeartbeatInterval(), conns.Heartbeat)
		})

		for _, s := range config.Servers {
			spawn("client", parallel.Continue, func(ctx context.Context) error {
				log := logger.Get(ctx)

				for {
					err := resonance.RunClient(ctx, s, connConfig,
						func(ctx context.Context, c *resonance.Connection) error {
							return runServerConn(ctx, serverID, c, conns)
						})

					if ctx.Err() != nil {
						return errors.WithStack(ctx.Err())
					}

					if errors.Is(err, errSameServer) {
						return nil
					}

					log.Error("Relay connection failed", zap.String("server", s), zap.Error(err))
					select {
					case <-ctx.Done():
						return errors.WithStack(ctx.Err())
					case <-time.After(time.Second):
					}
				}
			})
		}

		return nil
	})
}

func runServerConn(
	ctx context.Context,
	serverID wire.PeerID,
	c *resonance.Connection,
	conns *serverConns,
) error {
	m := wire.NewMarshaller()

	if err := c.SendProton(&wire.Hello{
		PeerID:   serverID,
		IsServer: true,
	}, m); err != nil {
		return err
	}

	msg, err := c.ReceiveProton(m)
	if err != nil {
		return err
	}

	helloMsg, ok := msg.(*wire.Hello)
	if !ok {
		return errors.New("hello message expected")
	}

	if helloMsg.PeerID == serverID {
		return errSameServer
	}

	topics := map[wire.Topic]struct{}{}
	for _, t := range helloMsg.Topics {
		topics[t] = struct{}{}
	}

	sendCh := conns.Add(helloMsg.PeerID)

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("receiver", parallel.Fail, func(ctx context.Context) error {
			defer conns.Remove(helloMsg.PeerID, sendCh)

			for {
				msg, err := c.ReceiveProton(m)
				if err != nil {
					return err
				}

				publishMsg, ok := msg.(*wire.Publish)
				if !ok {
					return errors.New("publish message expected")
				}

				conns.Broadcast(ctx, publishMsg)
			}
		})
		spawn("sender", parallel.Fail, func(ctx context.Context) error {
			defer func() {
				for range sendCh {
				}
			}()
			defer c.Close()

			for msg := range sendCh {
				if msg.Sender == helloMsg.PeerID {
					continue
				}
				if _, exists := topics[msg.Topic]; !exists && !helloMsg.IsServer {
					continue
				}

				if err := c.SendProton(msg, m); err != nil {
					return err
				}
			}

			return nil
		})

		return nil
	})
}
