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

package cachefetch

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/loomlabs-io/gocachewire/message"
	"github.com/loomlabs-io/gocachewire/protocol"
)

// Client implements the cache-fetch protocol client, which requests a cache
// response from a server and reassembles it from the raw segment stream.
type Client struct {
	*protocol.Protocol
	config        *Config
	busyMutex     sync.Mutex
	nextRequestId atomic.Uint64
	onceStop      sync.Once
}

// NewClient creates a new cache-fetch protocol client with the given options
// and configuration.
func NewClient(protoOptions protocol.ProtocolOptions, cfg *Config) *Client {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	c := &Client{
		config: cfg,
	}
	// Configure underlying Protocol
	protoConfig := protocol.ProtocolConfig{
		Name:         ProtocolName,
		Channel:      protoOptions.Channel,
		Logger:       protoOptions.Logger,
		ErrorChan:    protoOptions.ErrorChan,
		Role:         protocol.ProtocolRoleClient,
		StateMap:     StateMap,
		InitialState: StateAwaitHandshake,
	}
	c.Protocol = protocol.New(protoConfig)
	return c
}

// Stop shuts down the client. A blocked Fetch returns
// ErrProtocolShuttingDown. Safe to call multiple times.
func (c *Client) Stop() error {
	c.onceStop.Do(func() {
		c.Protocol.Logger().
			Debug("stopping client protocol",
				"component", "cachewire",
				"protocol", ProtocolName,
			)
		c.Protocol.Stop()
	})
	return nil
}

// Fetch runs one full request/response cycle: it waits for the server's
// handshake, issues the request, reassembles the multi-segment response,
// decodes it, and verifies the decoded content against its embedded integrity
// metadata. A cycle either fully completes and verifies or fails; no partial
// result is returned.
func (c *Client) Fetch() (*message.Body, error) {
	// Only one request/response cycle runs at a time
	c.busyMutex.Lock()
	defer c.busyMutex.Unlock()
	if c.IsDone() {
		return nil, protocol.ErrProtocolShuttingDown
	}
	requestId := c.nextRequestId.Add(1)
	c.Protocol.Logger().
		Debug("calling Fetch()",
			"component", "cachewire",
			"protocol", ProtocolName,
			"role", "client",
			"request_id", requestId,
		)
	r := newReassembler(c.Protocol, func() error {
		return c.sendRequest(requestId)
	})
	segments, err := r.run()
	if err != nil {
		return nil, err
	}
	body, err := message.Decode(segments)
	if err != nil {
		return nil, err
	}
	if err := message.Verify(body); err != nil {
		return nil, err
	}
	return body, nil
}

// sendRequest issues the request blob carrying the request ID
func (c *Client) sendRequest(requestId uint64) error {
	buf := make([]byte, headerWidth)
	binary.LittleEndian.PutUint64(buf, requestId)
	if err := c.Channel().Send(buf); err != nil {
		return protocol.NewTransportError("send_request", err)
	}
	return nil
}
