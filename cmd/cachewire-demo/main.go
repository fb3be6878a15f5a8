// Copyright 2025 Loom Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// cachewire-demo runs both protocol paths over in-process connection pairs
// against a synthetic cache payload and reports the time each path takes.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	cachewire "github.com/loomlabs-io/gocachewire"
	"github.com/loomlabs-io/gocachewire/message"
	"github.com/loomlabs-io/gocachewire/protocol/cachefetch"
	"github.com/loomlabs-io/gocachewire/protocol/structured"
)

type demoFlags struct {
	flagset  *flag.FlagSet
	partSize int
	numParts int
	debug    bool
}

func newDemoFlags() *demoFlags {
	f := &demoFlags{
		flagset: flag.NewFlagSet(os.Args[0], flag.ExitOnError),
	}
	f.flagset.IntVar(&f.partSize, "part-size", 1<<20, "size of each synthetic file part")
	f.flagset.IntVar(&f.numParts, "num-parts", 2, "number of synthetic file parts")
	f.flagset.BoolVar(&f.debug, "debug", false, "enable debug logging")
	return f
}

func main() {
	f := newDemoFlags()
	if err := f.flagset.Parse(os.Args[1:]); err != nil {
		fmt.Printf("failed to parse command args: %s\n", err)
		os.Exit(1)
	}
	var logger *slog.Logger
	if f.debug {
		logger = slog.New(
			slog.NewTextHandler(
				os.Stderr,
				&slog.HandlerOptions{Level: slog.LevelDebug},
			),
		)
	}
	// Synthetic response payload shared by both paths
	parts := make([]message.PartSpec, 0, f.numParts)
	for i := 0; i < f.numParts; i++ {
		data := make([]byte, f.partSize)
		for j := range data {
			data[j] = byte((i + j) % 251)
		}
		parts = append(parts, message.NewPartSpec(data))
	}
	segments, err := message.EncodeGetCacheResponse(parts)
	if err != nil {
		fmt.Printf("ERROR: %s\n", err)
		os.Exit(1)
	}
	if err := runRawPath(logger, segments); err != nil {
		fmt.Printf("ERROR: %s\n", err)
		os.Exit(1)
	}
	if err := runStructuredPath(logger, segments); err != nil {
		fmt.Printf("ERROR: %s\n", err)
		os.Exit(1)
	}
}

func runRawPath(logger *slog.Logger, segments [][]byte) error {
	clientConn, serverConn := net.Pipe()
	server, err := cachewire.New(
		cachewire.WithConnection(serverConn),
		cachewire.WithServer(true),
		cachewire.WithLogger(logger),
		cachewire.WithCacheFetchConfig(
			cachefetch.NewConfig(
				cachefetch.WithRequestFunc(
					func(cachefetch.CallbackContext, uint64) ([][]byte, error) {
						return segments, nil
					},
				),
			),
		),
	)
	if err != nil {
		return err
	}
	defer server.Close()
	client, err := cachewire.New(
		cachewire.WithConnection(clientConn),
		cachewire.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer client.Close()
	fetcher, err := client.Fetcher()
	if err != nil {
		return err
	}
	start := time.Now()
	body, err := fetcher.Fetch()
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	resp, err := body.GetCacheResponse()
	if err != nil {
		return err
	}
	fmt.Printf(
		"raw path: got %d verified part(s) in %s\n",
		len(resp.Parts()),
		elapsed,
	)
	return nil
}

func runStructuredPath(logger *slog.Logger, segments [][]byte) error {
	clientConn, serverConn := net.Pipe()
	server, err := cachewire.New(
		cachewire.WithConnection(serverConn),
		cachewire.WithServer(true),
		cachewire.WithStructured(true),
		cachewire.WithLogger(logger),
		cachewire.WithStructuredConfig(
			structured.NewConfig(
				structured.WithRequestFunc(
					func(structured.CallbackContext, uint64) ([][]byte, error) {
						return segments, nil
					},
				),
			),
		),
	)
	if err != nil {
		return err
	}
	defer server.Close()
	client, err := cachewire.New(
		cachewire.WithConnection(clientConn),
		cachewire.WithStructured(true),
		cachewire.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer client.Close()
	fetcher, err := client.Fetcher()
	if err != nil {
		return err
	}
	start := time.Now()
	body, err := fetcher.Fetch()
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	resp, err := body.GetCacheResponse()
	if err != nil {
		return err
	}
	fmt.Printf(
		"structured path: got %d verified part(s) in %s\n",
		len(resp.Parts()),
		elapsed,
	)
	return nil
}
