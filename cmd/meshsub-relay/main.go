package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/meshsub"
	"github.com/outofforest/parallel"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctx = logger.WithLogger(ctx, logger.New(logger.DefaultConfig))

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		logger.Get(ctx).Error("Relay failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("meshsub-relay", pflag.ContinueOnError)
	listenAddr := flags.String("listen", "localhost:7000", "Address the relay listens on")
	peers := flags.StringSlice("peer", nil, "Addresses of other relay servers")
	maxMessageSize := flags.Uint64("max-message-size", meshsub.DefaultMaxDecodedSize, "Maximum size of relayed message")
	useSnappy := flags.Bool("snappy", true, "Compute message IDs from snappy-decompressed payloads")
	metricsAddr := flags.String("metrics", "", "Address serving prometheus metrics, disabled if empty")
	if err := flags.Parse(args); err != nil {
		return errors.WithStack(err)
	}

	ls, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		return errors.WithStack(err)
	}
	defer ls.Close()

	registry := prometheus.NewRegistry()
	config := meshsub.ServerConfig{
		Servers:        *peers,
		MaxMessageSize: *maxMessageSize,
		Parameters:     meshsub.DefaultParameters(),
		Registerer:     registry,
	}
	if *useSnappy {
		config.Decompressor = meshsub.NewSnappyDecompressor(meshsub.DefaultMaxDecodedSize)
	}

	logger.Get(ctx).Info("Starting relay",
		zap.String("address", ls.Addr().String()), zap.Strings("peers", *peers))

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("relay", parallel.Fail, func(ctx context.Context) error {
			return meshsub.RunServer(ctx, ls, config)
		})

		if *metricsAddr != "" {
			spawn("metrics", parallel.Fail, func(ctx context.Context) error {
				return serveMetrics(ctx, *metricsAddr, registry)
			})
		}

		return nil
	})
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("server", parallel.Fail, func(ctx context.Context) error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.WithStack(err)
			}
			return errors.WithStack(ctx.Err())
		})
		spawn("shutdown", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()
			return errors.WithStack(server.Close())
		})

		return nil
	})
}
