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

// Package cachewire implements a client (and matching test server) for the
// cachewire segmented cache-transfer protocol.
//
// A cache response travels as a multi-segment serialized message. Two paths
// carry it: the raw path reassembles the segments from a stream of blobs via
// an explicit state machine, and the structured path delivers an
// already-decoded message through a completion callback. Both paths verify the
// decoded content against its embedded integrity metadata before returning it,
// and both satisfy the Fetcher interface, so callers can substitute either.
//
// This package is the main entry point into this library. The other packages
// can be used outside of this one, but it's not a primary design goal.
package cachewire

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/loomlabs-io/gocachewire/channel"
	"github.com/loomlabs-io/gocachewire/message"
	"github.com/loomlabs-io/gocachewire/protocol"
	"github.com/loomlabs-io/gocachewire/protocol/cachefetch"
	"github.com/loomlabs-io/gocachewire/protocol/structured"
)

// Fetcher runs one request/response cycle and returns the decoded, verified
// response body, or fails. Both the raw and structured paths implement it.
type Fetcher interface {
	Fetch() (*message.Body, error)
}

// The Connection type wraps a net.Conn object and handles communication using
// the cachewire protocol over that connection
type Connection struct {
	conn             net.Conn
	channel          *channel.Channel
	logger           *slog.Logger
	errorChan        chan error
	protoErrorChan   chan error
	doneChan         chan struct{}
	server           bool
	useStructured    bool
	onceClose        sync.Once
	cacheFetch       *cachefetch.CacheFetch
	cacheFetchConfig *cachefetch.Config
	structured       *structured.Structured
	structuredConfig *structured.Config
}

// NewConnection returns a new Connection object with the specified options.
// A connection must be provided via WithConnection or established later via
// Dial before the protocols are usable.
func NewConnection(options ...ConnectionOptionFunc) (*Connection, error) {
	c := &Connection{}
	// Apply provided options functions
	for _, option := range options {
		option(c)
	}
	if c.errorChan == nil {
		c.errorChan = make(chan error, 10)
	}
	c.protoErrorChan = make(chan error, 10)
	c.doneChan = make(chan struct{})
	if c.conn != nil {
		if err := c.setupConnection(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// New is an alias to NewConnection
func New(options ...ConnectionOptionFunc) (*Connection, error) {
	return NewConnection(options...)
}

// Dial will establish a connection using the specified protocol and address.
// These parameters are passed to the [net.Dial] func. An error will be
// returned if the connection fails or one was already established.
func (c *Connection) Dial(proto string, address string) error {
	if c.conn != nil {
		return errors.New("a connection was already established")
	}
	conn, err := net.Dial(proto, address)
	if err != nil {
		return err
	}
	c.conn = conn
	return c.setupConnection()
}

// Close will shutdown the connection and all protocol handlers
func (c *Connection) Close() error {
	var err error
	c.onceClose.Do(func() {
		close(c.doneChan)
		if c.cacheFetch != nil {
			c.cacheFetch.Client.Stop()
			c.cacheFetch.Server.Stop()
		}
		if c.structured != nil {
			c.structured.Client.Stop()
			c.structured.Server.Stop()
		}
		if c.channel != nil {
			err = c.channel.Close()
		} else if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// ErrorChan returns the channel for asynchronous errors
func (c *Connection) ErrorChan() chan error {
	return c.errorChan
}

// Channel returns the underlying blob channel
func (c *Connection) Channel() *channel.Channel {
	return c.channel
}

// CacheFetch returns the raw-path protocol handler
func (c *Connection) CacheFetch() *cachefetch.CacheFetch {
	return c.cacheFetch
}

// Structured returns the structured-channel protocol handler
func (c *Connection) Structured() *structured.Structured {
	return c.structured
}

// Fetcher returns the fetch implementation matching the configured mode:
// the structured client when WithStructured(true) was provided, otherwise
// the raw-path client
func (c *Connection) Fetcher() (Fetcher, error) {
	if c.server {
		return nil, errors.New("fetcher is not available in server mode")
	}
	if c.useStructured {
		if c.structured == nil {
			return nil, errors.New("no connection established")
		}
		return c.structured.Client, nil
	}
	if c.cacheFetch == nil {
		return nil, errors.New("no connection established")
	}
	return c.cacheFetch.Client, nil
}

// setupConnection wires the blob channel and the protocol handlers for the
// configured mode and role
func (c *Connection) setupConnection() error {
	if c.conn == nil {
		return errors.New("no connection provided")
	}
	// Validate server configuration before spawning the channel read loop
	if c.server {
		if c.useStructured {
			if c.structuredConfig == nil ||
				c.structuredConfig.RequestFunc == nil {
				return fmt.Errorf(
					"%s: server mode requires a request callback",
					structured.ProtocolName,
				)
			}
		} else if c.cacheFetchConfig == nil ||
			c.cacheFetchConfig.RequestFunc == nil {
			return fmt.Errorf(
				"%s: server mode requires a request callback",
				cachefetch.ProtocolName,
			)
		}
	}
	c.channel = channel.New(c.conn)
	protoOptions := protocol.ProtocolOptions{
		Channel:   c.channel,
		Logger:    c.logger,
		ErrorChan: c.protoErrorChan,
		Role:      protocol.ProtocolRoleClient,
	}
	// Watch for protocol failures: pass them along to the public error
	// channel and shut the connection down
	go func() {
		select {
		case <-c.doneChan:
		case err, ok := <-c.protoErrorChan:
			if !ok {
				return
			}
			c.errorChan <- fmt.Errorf("protocol error: %w", err)
			c.Close()
		}
	}()
	if c.server {
		protoOptions.Role = protocol.ProtocolRoleServer
	}
	if c.useStructured {
		c.structured = structured.New(protoOptions, c.structuredConfig)
		if c.server {
			c.structured.Server.Start()
		} else {
			c.structured.Client.Start()
		}
		return nil
	}
	c.cacheFetch = cachefetch.New(protoOptions, c.cacheFetchConfig)
	if c.server {
		c.cacheFetch.Server.Start()
	}
	return nil
}
