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

// Package cachefetch implements the raw path of the cachewire protocol: a
// length-framed, multi-segment response received over a blob channel and
// reassembled into a segment buffer set.
//
// Wire framing, in order: one content-free handshake blob (server to client),
// one request blob carrying a little-endian uint64 request ID (client to
// server), then the response: a little-endian uint64 segment count N (N >= 1),
// followed by N repetitions of a little-endian uint64 segment byte length and
// one or more non-empty blobs totaling exactly that many content bytes. The
// fixed wire width is a deliberate departure from platform-native integers;
// both peers agree on it regardless of architecture.
package cachefetch

import (
	"github.com/loomlabs-io/gocachewire/protocol"
)

// Protocol identifiers
const (
	ProtocolName = "cache-fetch"
)

// Width of the segment count and segment size headers on the wire
const headerWidth = 8

// Upper bounds on peer-declared header values. Both are checked before any
// reassembly buffer is allocated, so a corrupt or hostile header surfaces as
// a protocol violation rather than an oversized allocation.
const (
	// MaxSegmentCount is the largest segment count accepted in a response
	MaxSegmentCount = 0x10000

	// MaxSegmentSize is the largest single segment accepted in a response
	MaxSegmentSize = 0x10000000
)

// State machine events
const (
	EventHandshake       protocol.EventType = 1
	EventSegmentCount    protocol.EventType = 2
	EventSegmentHeader   protocol.EventType = 3
	EventSegmentPartial  protocol.EventType = 4
	EventSegmentComplete protocol.EventType = 5
	EventResponseDone    protocol.EventType = 6
)

// State machine states
var (
	StateAwaitHandshake     = protocol.NewState(1, "AwaitHandshake")
	StateAwaitSegmentCount  = protocol.NewState(2, "AwaitSegmentCount")
	StateAwaitSegmentHeader = protocol.NewState(3, "AwaitSegmentHeader")
	StateAwaitSegmentBody   = protocol.NewState(4, "AwaitSegmentBody")
	StateComplete           = protocol.NewState(5, "Complete")
)

// StateMap describes the client-side reassembly state machine
var StateMap = protocol.StateMap{
	StateAwaitHandshake: protocol.StateMapEntry{
		Agency: protocol.AgencyServer,
		Transitions: []protocol.StateTransition{
			{
				Event:    EventHandshake,
				NewState: StateAwaitSegmentCount,
			},
		},
	},
	StateAwaitSegmentCount: protocol.StateMapEntry{
		Agency: protocol.AgencyServer,
		Transitions: []protocol.StateTransition{
			{
				Event:    EventSegmentCount,
				NewState: StateAwaitSegmentHeader,
			},
		},
	},
	StateAwaitSegmentHeader: protocol.StateMapEntry{
		Agency: protocol.AgencyServer,
		Transitions: []protocol.StateTransition{
			{
				Event:    EventSegmentHeader,
				NewState: StateAwaitSegmentBody,
			},
		},
	},
	StateAwaitSegmentBody: protocol.StateMapEntry{
		Agency: protocol.AgencyServer,
		Transitions: []protocol.StateTransition{
			{
				Event:    EventSegmentPartial,
				NewState: StateAwaitSegmentBody,
			},
			{
				Event:    EventSegmentComplete,
				NewState: StateAwaitSegmentHeader,
			},
			{
				Event:    EventResponseDone,
				NewState: StateComplete,
			},
		},
	},
	StateComplete: protocol.StateMapEntry{
		Agency: protocol.AgencyNone,
	},
}

// CacheFetch is a wrapper object that holds the client and server instances
type CacheFetch struct {
	Client *Client
	Server *Server
}

// Config is used to configure the CacheFetch protocol instance
type Config struct {
	// Server callback providing the response segments for a request
	RequestFunc RequestFunc

	// Maximum content bytes per blob when the server sends segment bodies.
	// Segments larger than this are fragmented across multiple blobs.
	FragmentSize int
}

// Callback context
type CallbackContext struct {
	Client *Client
	Server *Server
}

// Callback function types
type RequestFunc func(CallbackContext, uint64) ([][]byte, error)

// New returns a new CacheFetch object
func New(protoOptions protocol.ProtocolOptions, cfg *Config) *CacheFetch {
	c := &CacheFetch{
		Client: NewClient(protoOptions, cfg),
		Server: NewServer(protoOptions, cfg),
	}
	return c
}

// CacheFetchOptionFunc represents a function used to modify the CacheFetch
// protocol config
type CacheFetchOptionFunc func(*Config)

// NewConfig returns a new CacheFetch config object with the provided options
func NewConfig(options ...CacheFetchOptionFunc) Config {
	c := Config{
		FragmentSize: DefaultFragmentSize,
	}
	// Apply provided options functions
	for _, option := range options {
		option(&c)
	}
	return c
}

// DefaultFragmentSize is the default maximum content bytes per blob
const DefaultFragmentSize = 16384

// WithRequestFunc specifies the server callback providing response segments
func WithRequestFunc(requestFunc RequestFunc) CacheFetchOptionFunc {
	return func(c *Config) {
		c.RequestFunc = requestFunc
	}
}

// WithFragmentSize specifies the maximum content bytes per blob when sending
// segment bodies
func WithFragmentSize(fragmentSize int) CacheFetchOptionFunc {
	return func(c *Config) {
		c.FragmentSize = fragmentSize
	}
}
