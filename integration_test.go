package meshsub_test

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/meshsub"
	"github.com/outofforest/meshsub/wire"
	"github.com/outofforest/parallel"
	"github.com/outofforest/qa"
)

const (
	maxMsgSize = 1024

	topic1 wire.Topic = "/leanconsensus/devnet0/block/ssz_snappy"
	topic2 wire.Topic = "/leanconsensus/devnet0/vote/ssz_snappy"
)

func TestSingleServerAndClients(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	ls, err := net.Listen("tcp", "localhost:0")
	requireT.NoError(err)

	servers := []string{
		ls.Addr().String(),
	}

	client1, recvCh1, err := meshsub.NewClient(meshsub.ClientConfig{
		Servers:        servers,
		MaxMessageSize: maxMsgSize,
	})
	requireT.NoError(err)

	client2, recvCh2, err := meshsub.NewClient(meshsub.ClientConfig{
		Servers:        servers,
		MaxMessageSize: maxMsgSize,
		Topics:         []wire.Topic{topic1},
	})
	requireT.NoError(err)

	group.Spawn("client1", parallel.Fail, client1.Run)
	group.Spawn("client2", parallel.Fail, client2.Run)
	group.Spawn("server", parallel.Fail, func(ctx context.Context) error {
		return meshsub.RunServer(ctx, ls, meshsub.ServerConfig{
			Servers:        servers,
			MaxMessageSize: maxMsgSize,
		})
	})

	id := client1.Send(topic1, []byte("test1"))
	requireT.Equal(meshsub.ComputeMessageID([]byte(topic1), []byte("test1"), nil), id)

	testMsgs(ctx, requireT, recvCh2,
		message(topic1, "test1"),
	)

	client1.Send(topic1, []byte("test2"))

	testMsgs(ctx, requireT, recvCh2,
		message(topic1, "test2"),
	)
	testMsgs(ctx, requireT, recvCh1)
}

func TestOnlySubscribedTopicsAreReceived(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	ls, err := net.Listen("tcp", "localhost:0")
	requireT.NoError(err)

	servers := []string{
		ls.Addr().String(),
	}

	client1, _, err := meshsub.NewClient(meshsub.ClientConfig{
		Servers:        servers,
		MaxMessageSize: maxMsgSize,
	})
	requireT.NoError(err)

	client2, recvCh2, err := meshsub.NewClient(meshsub.ClientConfig{
		Servers:        servers,
		MaxMessageSize: maxMsgSize,
		Topics:         []wire.Topic{topic2},
	})
	requireT.NoError(err)

	group.Spawn("client1", parallel.Fail, client1.Run)
	group.Spawn("client2", parallel.Fail, client2.Run)
	group.Spawn("server", parallel.Fail, func(ctx context.Context) error {
		return meshsub.RunServer(ctx, ls, meshsub.ServerConfig{
			Servers:        servers,
			MaxMessageSize: maxMsgSize,
		})
	})

	client1.Send(topic1, []byte("test"))
	client1.Send(topic2, []byte("test"))

	testMsgs(ctx, requireT, recvCh2,
		message(topic2, "test"),
	)
}

func TestServerSendsRecentMessagesToNewClient(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	ls, err := net.Listen("tcp", "localhost:0")
	requireT.NoError(err)

	servers := []string{
		ls.Addr().String(),
	}

	clientConfig := meshsub.ClientConfig{
		Servers:        servers,
		MaxMessageSize: maxMsgSize,
		Topics:         []wire.Topic{topic1},
	}

	client1, recvCh1, err := meshsub.NewClient(clientConfig)
	requireT.NoError(err)

	client2, recvCh2, err := meshsub.NewClient(clientConfig)
	requireT.NoError(err)

	client3, recvCh3, err := meshsub.NewClient(clientConfig)
	requireT.NoError(err)

	group.Spawn("client1", parallel.Fail, client1.Run)
	group.Spawn("client2", parallel.Fail, client2.Run)
	group.Spawn("server", parallel.Fail, func(ctx context.Context) error {
		return meshsub.RunServer(ctx, ls, meshsub.ServerConfig{
			Servers:        servers,
			MaxMessageSize: maxMsgSize,
		})
	})

	client1.Send(topic1, []byte("test1"))

	testMsgs(ctx, requireT, recvCh2,
		message(topic1, "test1"),
	)

	group.Spawn("client3", parallel.Fail, client3.Run)

	testMsgs(ctx, requireT, recvCh3,
		message(topic1, "test1"),
	)

	client3.Send(topic1, []byte("test2"))

	testMsgs(ctx, requireT, recvCh1,
		message(topic1, "test2"),
	)
	testMsgs(ctx, requireT, recvCh2,
		message(topic1, "test2"),
	)
	testMsgs(ctx, requireT, recvCh3)
}

func TestServersExchangeMessages(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	ls1, err := net.Listen("tcp", "localhost:0")
	requireT.NoError(err)
	ls2, err := net.Listen("tcp", "localhost:0")
	requireT.NoError(err)

	servers := []string{
		ls1.Addr().String(),
		ls2.Addr().String(),
	}

	client1, recvCh1, err := meshsub.NewClient(meshsub.ClientConfig{
		Servers:        []string{ls1.Addr().String()},
		MaxMessageSize: maxMsgSize,
		Topics:         []wire.Topic{topic2},
	})
	requireT.NoError(err)

	client2, recvCh2, err := meshsub.NewClient(meshsub.ClientConfig{
		Servers:        []string{ls2.Addr().String()},
		MaxMessageSize: maxMsgSize,
		Topics:         []wire.Topic{topic1},
	})
	requireT.NoError(err)

	group.Spawn("client1", parallel.Fail, client1.Run)
	group.Spawn("client2", parallel.Fail, client2.Run)
	group.Spawn("server1", parallel.Fail, func(ctx context.Context) error {
		return meshsub.RunServer(ctx, ls1, meshsub.ServerConfig{
			Servers:        servers,
			MaxMessageSize: maxMsgSize,
		})
	})
	group.Spawn("server2", parallel.Fail, func(ctx context.Context) error {
		return meshsub.RunServer(ctx, ls2, meshsub.ServerConfig{
			Servers:        servers,
			MaxMessageSize: maxMsgSize,
		})
	})

	client1.Send(topic1, []byte("test"))
	client2.Send(topic2, []byte("test"))

	testMsgs(ctx, requireT, recvCh1,
		message(topic2, "test"),
	)
	testMsgs(ctx, requireT, recvCh2,
		message(topic1, "test"),
	)
}

func TestSamePayloadFromTwoSourcesIsDeliveredOnce(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	ls, err := net.Listen("tcp", "localhost:0")
	requireT.NoError(err)

	servers := []string{
		ls.Addr().String(),
	}

	clientConfig := meshsub.ClientConfig{
		Servers:        servers,
		MaxMessageSize: maxMsgSize,
	}

	client1, _, err := meshsub.NewClient(clientConfig)
	requireT.NoError(err)

	client2, _, err := meshsub.NewClient(clientConfig)
	requireT.NoError(err)

	client3, recvCh3, err := meshsub.NewClient(meshsub.ClientConfig{
		Servers:        servers,
		MaxMessageSize: maxMsgSize,
		Topics:         []wire.Topic{topic1},
	})
	requireT.NoError(err)

	registry := prometheus.NewRegistry()

	group.Spawn("client1", parallel.Fail, client1.Run)
	group.Spawn("client2", parallel.Fail, client2.Run)
	group.Spawn("client3", parallel.Fail, client3.Run)
	group.Spawn("server", parallel.Fail, func(ctx context.Context) error {
		return meshsub.RunServer(ctx, ls, meshsub.ServerConfig{
			Servers:        servers,
			MaxMessageSize: maxMsgSize,
			Registerer:     registry,
		})
	})

	client1.Send(topic1, []byte("test"))

	testMsgs(ctx, requireT, recvCh3,
		message(topic1, "test"),
	)

	client2.Send(topic1, []byte("test"))
	client2.Send(topic1, []byte("next"))

	testMsgs(ctx, requireT, recvCh3,
		message(topic1, "next"),
	)

	requireT.NoError(testutil.GatherAndCompare(registry, strings.NewReader(`
# HELP meshsub_duplicate_messages_total Number of received messages dropped because their ID has been seen already.
# TYPE meshsub_duplicate_messages_total counter
meshsub_duplicate_messages_total 1
# HELP meshsub_messages_total Number of unique messages relayed, by message ID domain.
# TYPE meshsub_messages_total counter
meshsub_messages_total{domain="invalid_snappy"} 2
`), "meshsub_duplicate_messages_total", "meshsub_messages_total"))
}

func TestSnappyEncodingsOfSamePayloadAreDeliveredOnce(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	ls, err := net.Listen("tcp", "localhost:0")
	requireT.NoError(err)

	servers := []string{
		ls.Addr().String(),
	}

	decompressor := meshsub.NewSnappyDecompressor(meshsub.DefaultMaxDecodedSize)

	client1, _, err := meshsub.NewClient(meshsub.ClientConfig{
		Servers:        servers,
		MaxMessageSize: maxMsgSize,
		Decompressor:   decompressor,
	})
	requireT.NoError(err)

	client2, recvCh2, err := meshsub.NewClient(meshsub.ClientConfig{
		Servers:        servers,
		MaxMessageSize: maxMsgSize,
		Topics:         []wire.Topic{topic1},
		Decompressor:   decompressor,
	})
	requireT.NoError(err)

	group.Spawn("client1", parallel.Fail, client1.Run)
	group.Spawn("client2", parallel.Fail, client2.Run)
	group.Spawn("server", parallel.Fail, func(ctx context.Context) error {
		return meshsub.RunServer(ctx, ls, meshsub.ServerConfig{
			Servers:        servers,
			MaxMessageSize: maxMsgSize,
			Decompressor:   decompressor,
		})
	})

	payload1 := snappy.Encode(nil, []byte("hello"))
	payload2 := []byte{0x05, 0x00, 'h', 0x0c, 'e', 'l', 'l', 'o'}
	payload3 := snappy.Encode(nil, []byte("world"))

	id1 := client1.Send(topic1, payload1)
	requireT.Equal(id1, client1.Send(topic1, payload2))
	client1.Send(topic1, payload3)

	testMsgs(ctx, requireT, recvCh2,
		meshsub.Message{ID: id1, Topic: topic1, Data: payload1},
		meshsub.Message{
			ID:    meshsub.ComputeMessageID([]byte(topic1), payload3, decompressor),
			Topic: topic1,
			Data:  payload3,
		},
	)
}

func TestEmptyPayloadIsRelayed(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	ls, err := net.Listen("tcp", "localhost:0")
	requireT.NoError(err)

	servers := []string{
		ls.Addr().String(),
	}

	client1, _, err := meshsub.NewClient(meshsub.ClientConfig{
		Servers:        servers,
		MaxMessageSize: maxMsgSize,
	})
	requireT.NoError(err)

	client2, recvCh2, err := meshsub.NewClient(meshsub.ClientConfig{
		Servers:        servers,
		MaxMessageSize: maxMsgSize,
		Topics:         []wire.Topic{topic1},
	})
	requireT.NoError(err)

	group.Spawn("client1", parallel.Fail, client1.Run)
	group.Spawn("client2", parallel.Fail, client2.Run)
	group.Spawn("server", parallel.Fail, func(ctx context.Context) error {
		return meshsub.RunServer(ctx, ls, meshsub.ServerConfig{
			Servers:        servers,
			MaxMessageSize: maxMsgSize,
		})
	})

	id := client1.Send(topic1, []byte{})
	requireT.Equal(meshsub.ComputeMessageID([]byte(topic1), nil, nil), id)

	testMsgs(ctx, requireT, recvCh2,
		meshsub.Message{ID: id, Topic: topic1, Data: []byte{}},
	)

	client1.Send(topic1, []byte("after"))

	testMsgs(ctx, requireT, recvCh2,
		message(topic1, "after"),
	)
}

func TestSnappyPayloadIsRelayedWithValidDomainID(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	ls, err := net.Listen("tcp", "localhost:0")
	requireT.NoError(err)

	servers := []string{
		ls.Addr().String(),
	}

	decompressor := meshsub.NewSnappyDecompressor(meshsub.DefaultMaxDecodedSize)

	client1, _, err := meshsub.NewClient(meshsub.ClientConfig{
		Servers:        servers,
		MaxMessageSize: maxMsgSize,
		Decompressor:   decompressor,
	})
	requireT.NoError(err)

	client2, recvCh2, err := meshsub.NewClient(meshsub.ClientConfig{
		Servers:        servers,
		MaxMessageSize: maxMsgSize,
		Topics:         []wire.Topic{topic1},
		Decompressor:   decompressor,
	})
	requireT.NoError(err)

	registry := prometheus.NewRegistry()

	group.Spawn("client1", parallel.Fail, client1.Run)
	group.Spawn("client2", parallel.Fail, client2.Run)
	group.Spawn("server", parallel.Fail, func(ctx context.Context) error {
		return meshsub.RunServer(ctx, ls, meshsub.ServerConfig{
			Servers:        servers,
			MaxMessageSize: maxMsgSize,
			Decompressor:   decompressor,
			Registerer:     registry,
		})
	})

	payload := snappy.Encode(nil, []byte("hello"))
	validID := expectedID(wire.MessageDomainValidSnappy, []byte(topic1), []byte("hello"))

	requireT.Equal(validID, client1.Send(topic1, payload))

	testMsgs(ctx, requireT, recvCh2,
		meshsub.Message{ID: validID, Topic: topic1, Data: payload},
	)
	requireT.Equal(mustHexID(requireT, "8d25f4a18cd6fa075ff2bcf5b0a103b29bd1d0a6"), validID)

	requireT.NoError(testutil.GatherAndCompare(registry, strings.NewReader(`
# HELP meshsub_messages_total Number of unique messages relayed, by message ID domain.
# TYPE meshsub_messages_total counter
meshsub_messages_total{domain="valid_snappy"} 1
`), "meshsub_messages_total"))
}

func TestClientRequiresServers(t *testing.T) {
	requireT := require.New(t)

	_, _, err := meshsub.NewClient(meshsub.ClientConfig{})
	requireT.Error(err)
}

func message(topic wire.Topic, data string) meshsub.Message {
	return meshsub.Message{
		ID:    meshsub.ComputeMessageID([]byte(topic), []byte(data), nil),
		Topic: topic,
		Data:  []byte(data),
	}
}

func testMsgs(ctx context.Context, requireT *require.Assertions, recvCh <-chan meshsub.Message,
	msgs ...meshsub.Message,
) {
	received := make([]meshsub.Message, 0, len(msgs))
	for range msgs {
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
			requireT.Fail("timeout")
		case msg := <-recvCh:
			received = append(received, msg)
		}
	}

	requireT.ElementsMatch(msgs, received)
	requireT.Empty(recvCh)
}
