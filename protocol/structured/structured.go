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

// Package structured implements the zero-copy path of the cachewire protocol:
// a message-level channel that performs request/response matching and delivers
// an already-decoded message body through a single completion callback, with
// no per-segment reassembly on the receive side.
//
// The exchange is synchronized by an inbound sentinel (MsgReady) from the
// server. Responses carry the full segment buffer set inside one structured
// message; the decoded body is a view over those delivered buffers.
package structured

import (
	"errors"

	"github.com/loomlabs-io/gocachewire/message"
	"github.com/loomlabs-io/gocachewire/protocol"
)

// Protocol identifiers
const (
	ProtocolName = "structured-cache-fetch"
)

// ErrChannelNotZeroCopy is returned when the configured channel can't deliver
// whole blobs without copying
var ErrChannelNotZeroCopy = errors.New(
	"channel does not support zero-copy delivery",
)

// Structured is a wrapper object that holds the client and server instances
type Structured struct {
	Client *Client
	Server *Server
}

// Config is used to configure the Structured protocol instance
type Config struct {
	// Server callback providing the response segments for a request
	RequestFunc RequestFunc
}

// Callback context
type CallbackContext struct {
	Client *Client
	Server *Server
}

// Callback function types
type (
	RequestFunc  func(CallbackContext, uint64) ([][]byte, error)
	ResponseFunc func(*message.Body, error)
)

// New returns a new Structured object
func New(protoOptions protocol.ProtocolOptions, cfg *Config) *Structured {
	s := &Structured{
		Client: NewClient(protoOptions, cfg),
		Server: NewServer(protoOptions, cfg),
	}
	return s
}

// StructuredOptionFunc represents a function used to modify the Structured
// protocol config
type StructuredOptionFunc func(*Config)

// NewConfig returns a new Structured config object with the provided options
func NewConfig(options ...StructuredOptionFunc) Config {
	c := Config{}
	// Apply provided options functions
	for _, option := range options {
		option(&c)
	}
	return c
}

// WithRequestFunc specifies the server callback providing response segments
func WithRequestFunc(requestFunc RequestFunc) StructuredOptionFunc {
	return func(c *Config) {
		c.RequestFunc = requestFunc
	}
}
