package meshsub

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/meshsub/wire"
	"github.com/outofforest/parallel"
	"github.com/outofforest/resonance"
)

// Message is the message received from the gossip network.
type Message struct {
	ID    wire.MessageID
	Topic wire.Topic
	Data  []byte
}

type clientConns struct {
	clientID     wire.PeerID
	decompressor Decompressor
	topics       map[wire.Topic]struct{}
	recvCh       chan<- Message

	mu    sync.RWMutex
	conns map[<-chan *wire.Publish]chan<- *wire.Publish
	seen  *seenCache
	sent  *messageCache[*wire.Publish]
}

func newClientConns(
	clientID wire.PeerID,
	params Parameters,
	decompressor Decompressor,
	topics []wire.Topic,
	recvCh chan<- Message,
) *clientConns {
	topicSet := make(map[wire.Topic]struct{}, len(topics))
	for _, t := range topics {
		topicSet[t] = struct{}{}
	}

	return &clientConns{
		clientID:     clientID,
		decompressor: decompressor,
		topics:       topicSet,
		recvCh:       recvCh,
		conns:        map[<-chan *wire.Publish]chan<- *wire.Publish{},
		seen:         newSeenCache(params.SeenTTL()),
		sent:         newMessageCache[*wire.Publish](params.McacheLen(), params.McacheGossip()),
	}
}

func (c *clientConns) Add() <-chan *wire.Publish {
	c.mu.Lock()
	defer c.mu.Unlock()

	recent := c.sent.Recent()
	ch := make(chan *wire.Publish, len(recent)+sendBufferSize)

	c.conns[ch] = ch

	for _, msg := range recent {
		ch <- msg
	}

	return ch
}

func (c *clientConns) Remove(ch <-chan *wire.Publish) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch2, exists := c.conns[ch]; exists {
		delete(c.conns, ch)
		close(ch2)
	}
}

// Broadcast queues payload for every server connection. Connection whose queue is full is closed
// and redialed, it then receives the recently sent messages again.
func (c *clientConns) Broadcast(topic wire.Topic, payload []byte) wire.MessageID {
	id := ComputeMessageID([]byte(topic), payload, c.decompressor)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.seen.Add(id, time.Now()) {
		return id
	}

	msg := &wire.Publish{
		Sender: c.clientID,
		Topic:  topic,
		Data:   payload,
	}
	c.sent.Put(id, msg)

	for connCh, ch := range c.conns {
		select {
		case ch <- msg:
		default:
			delete(c.conns, connCh)
			close(ch)
		}
	}

	return id
}

// Deliver passes message to the receiver unless it has been seen already.
// It blocks until receiver takes the message but does not block other operations meanwhile.
func (c *clientConns) Deliver(ctx context.Context, msg *wire.Publish) error {
	if _, exists := c.topics[msg.Topic]; !exists {
		return nil
	}

	id := ComputeMessageID([]byte(msg.Topic), msg.Data, c.decompressor)

	c.mu.Lock()
	isNew := c.seen.Add(id, time.Now())
	c.mu.Unlock()

	if !isNew {
		return nil
	}

	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case c.recvCh <- Message{
		ID:    id,
		Topic: msg.Topic,
		Data:  msg.Data,
	}:
	}

	return nil
}

func (c *clientConns) Heartbeat(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sent.Shift()
	c.seen.Prune(now)
}

// ClientConfig is the config of client.
type ClientConfig struct {
	Servers        []string
	MaxMessageSize uint64

	// Topics the client subscribes to.
	Topics []wire.Topic

	// Parameters default to DefaultParameters if not set.
	Parameters Parameters

	// Decompressor used to compute message IDs. If nil, IDs are computed from raw payloads.
	Decompressor Decompressor
}

// Client publishes and receives gossip messages through relay servers.
type Client struct {
	config ClientConfig
	params Parameters
	conns  *clientConns
}

// NewClient creates new client.
func NewClient(config ClientConfig) (*Client, <-chan Message, error) {
	if len(config.Servers) == 0 {
		return nil, nil, errors.New("no servers specified")
	}

	clientID, err := peerID()
	if err != nil {
		return nil, nil, err
	}

	params := config.Parameters
	if params.IsZero() {
		params = DefaultParameters()
	}

	recvCh := make(chan Message, 10)
	return &Client{
		config: config,
		params: params,
		conns:  newClientConns(clientID, params, config.Decompressor, config.Topics, recvCh),
	}, recvCh, nil
}

// Run runs client.
func (client *Client) Run(ctx context.Context) error {
	defer close(client.conns.recvCh)

	connConfig := resonance.Config{
		MaxMessageSize: client.config.MaxMessageSize,
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("heartbeat", parallel.Fail, func(ctx context.Context) error {
			return runHeartbeat(ctx, client.params.HeartbeatInterval(), client.conns.Heartbeat)
		})

		for _, server := range client.config.Servers {
			spawn("conn", parallel.Fail, func(ctx context.Context) error {
				log := logger.Get(ctx)

				for {
					err := resonance.RunClient(ctx, server, connConfig,
						func(ctx context.Context, c *resonance.Connection) error {
							return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
								return client.runConn(ctx, c)
							})
						})

					if ctx.Err() != nil {
						return errors.WithStack(ctx.Err())
					}

					log.Error("Relay connection failed", zap.String("server", server), zap.Error(err))
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

// Send publishes payload on topic and returns its message ID.
// Publishing payload which has been seen already is a no-op.
func (client *Client) Send(topic wire.Topic, payload []byte) wire.MessageID {
	return client.conns.Broadcast(topic, payload)
}

func (client *Client) runConn(ctx context.Context, c *resonance.Connection) error {
	m := wire.NewMarshaller()

	if err := c.SendProton(&wire.Hello{
		PeerID: client.conns.clientID,
		Topics: client.config.Topics,
	}, m); err != nil {
		return err
	}

	msg, err := c.ReceiveProton(m)
	if err != nil {
		return err
	}

	_, ok := msg.(*wire.Hello)
	if !ok {
		return errors.New("hello message expected")
	}

	sendCh := client.conns.Add()

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("receiver", parallel.Fail, func(ctx context.Context) error {
			defer client.conns.Remove(sendCh)

			for {
				msg, err := c.ReceiveProton(m)
				if err != nil {
					return err
				}

				publishMsg, ok := msg.(*wire.Publish)
				if !ok {
					return errors.New("publish message expected")
				}

				if err := client.conns.Deliver(ctx, publishMsg); err != nil {
					return err
				}
			}
		})
		spawn("sender", parallel.Fail, func(ctx context.Context) error {
			defer func() {
				for range sendCh {
				}
			}()
			defer c.Close()

			for msg := range sendCh {
				if err := c.SendProton(msg, m); err != nil {
					return err
				}
			}

			return nil
		})

		return nil
	})
}
