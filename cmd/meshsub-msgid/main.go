package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/outofforest/meshsub"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "meshsub-msgid: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	flags := pflag.NewFlagSet("meshsub-msgid", pflag.ContinueOnError)
	topic := flags.String("topic", "", "Topic the payload is published on")
	useSnappy := flags.Bool("snappy", false, "Try snappy decompression of the payload")
	hexInput := flags.Bool("hex", false, "Payload is hex-encoded")
	maxSize := flags.Uint64("max-decoded-size", meshsub.DefaultMaxDecodedSize, "Maximum size of decompressed payload")
	if err := flags.Parse(args); err != nil {
		return errors.WithStack(err)
	}

	var in io.Reader
	switch flags.NArg() {
	case 0:
		in = stdin
	case 1:
		f, err := os.Open(flags.Arg(0))
		if err != nil {
			return errors.WithStack(err)
		}
		defer f.Close()
		in = f
	default:
		return errors.New("usage: meshsub-msgid --topic <topic> [--snappy] [--hex] [file]")
	}

	payload, err := io.ReadAll(in)
	if err != nil {
		return errors.WithStack(err)
	}
	if *hexInput {
		payload, err = hex.DecodeString(string(bytes.TrimSpace(payload)))
		if err != nil {
			return errors.Wrap(err, "decoding hex payload failed")
		}
	}

	var decompressor meshsub.Decompressor
	if *useSnappy {
		decompressor = meshsub.NewSnappyDecompressor(*maxSize)
	}

	_, err = fmt.Fprintln(stdout, meshsub.ComputeMessageID([]byte(*topic), payload, decompressor))
	return errors.WithStack(err)
}
