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

package structured

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/loomlabs-io/gocachewire/cbor"
	"github.com/loomlabs-io/gocachewire/channel"
	"github.com/loomlabs-io/gocachewire/message"
	"github.com/loomlabs-io/gocachewire/protocol"
)

// Request is a handle for one outstanding request on the structured channel
type Request struct {
	requestId uint64
}

// Id returns the request's ID
func (r *Request) Id() uint64 {
	return r.requestId
}

// Client implements the structured-channel client. Each request is matched to
// its response by ID, and the response is delivered decoded and verified
// through the callback provided to SendRequest.
type Client struct {
	*protocol.Protocol
	config        *Config
	zchan         channel.ZeroCopyChannel
	nextRequestId atomic.Uint64
	pendingMutex  sync.Mutex
	pending       map[uint64]ResponseFunc
	readyChan     chan struct{}
	onceReady     sync.Once
	onceStart     sync.Once
	onceStop      sync.Once
}

// NewClient creates a new structured-channel client with the given options
// and configuration.
func NewClient(protoOptions protocol.ProtocolOptions, cfg *Config) *Client {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	c := &Client{
		config:    cfg,
		pending:   map[uint64]ResponseFunc{},
		readyChan: make(chan struct{}),
	}
	// The zero-copy path needs whole-blob delivery
	c.zchan, _ = protoOptions.Channel.(channel.ZeroCopyChannel)
	protoConfig := protocol.ProtocolConfig{
		Name:      ProtocolName,
		Channel:   protoOptions.Channel,
		Logger:    protoOptions.Logger,
		ErrorChan: protoOptions.ErrorChan,
		Role:      protocol.ProtocolRoleClient,
	}
	c.Protocol = protocol.New(protoConfig)
	return c
}

// Start begins the structured-channel client. Safe to call multiple times.
func (c *Client) Start() {
	c.onceStart.Do(func() {
		c.Protocol.Logger().
			Debug("starting client protocol",
				"component", "cachewire",
				"protocol", ProtocolName,
			)
		if c.zchan == nil {
			return
		}
		go c.recvLoop()
	})
}

// Stop shuts down the client. Outstanding callbacks are completed with
// ErrProtocolShuttingDown. Safe to call multiple times.
func (c *Client) Stop() error {
	c.onceStop.Do(func() {
		c.Protocol.Logger().
			Debug("stopping client protocol",
				"component", "cachewire",
				"protocol", ProtocolName,
			)
		c.Protocol.Stop()
		c.failPending(protocol.ErrProtocolShuttingDown)
	})
	return nil
}

// CreateRequest returns a handle for a new request
func (c *Client) CreateRequest() *Request {
	return &Request{
		requestId: c.nextRequestId.Add(1),
	}
}

// SendRequest dispatches the request and registers onResponse to be invoked
// exactly once with the decoded, verified response body or an error. The call
// waits for the server's ready sentinel before dispatching.
func (c *Client) SendRequest(req *Request, onResponse ResponseFunc) error {
	if c.zchan == nil {
		return ErrChannelNotZeroCopy
	}
	if c.IsDone() {
		return protocol.ErrProtocolShuttingDown
	}
	select {
	case <-c.readyChan:
	case <-c.DoneChan():
		return protocol.ErrProtocolShuttingDown
	}
	c.pendingMutex.Lock()
	c.pending[req.requestId] = onResponse
	c.pendingMutex.Unlock()
	data, err := cbor.Encode(NewMsgRequest(req.requestId))
	if err != nil {
		c.unregister(req.requestId)
		return err
	}
	if err := c.zchan.Send(data); err != nil {
		c.unregister(req.requestId)
		return protocol.NewTransportError("send_request", err)
	}
	c.Protocol.Logger().
		Debug("sent request",
			"component", "cachewire",
			"protocol", ProtocolName,
			"role", "client",
			"request_id", req.requestId,
		)
	return nil
}

// Fetch is a synchronous wrapper over CreateRequest/SendRequest: it runs one
// request/response cycle and returns the decoded, verified response body
func (c *Client) Fetch() (*message.Body, error) {
	type result struct {
		body *message.Body
		err  error
	}
	resultChan := make(chan result, 1)
	req := c.CreateRequest()
	err := c.SendRequest(req, func(body *message.Body, err error) {
		resultChan <- result{body: body, err: err}
	})
	if err != nil {
		return nil, err
	}
	select {
	case res := <-resultChan:
		return res.body, res.err
	case <-c.DoneChan():
		return nil, protocol.ErrProtocolShuttingDown
	}
}

func (c *Client) recvLoop() {
	for {
		blob, err := channel.ReceiveNext(c.zchan)
		if err != nil {
			if !errors.Is(err, channel.ErrAborted) && !c.IsDone() {
				c.SendError(
					protocol.NewTransportError("receive_message", err),
				)
			}
			c.failPending(protocol.ErrProtocolShuttingDown)
			return
		}
		if err := c.handleMessage(blob); err != nil {
			c.SendError(err)
			c.failPending(protocol.ErrProtocolShuttingDown)
			return
		}
	}
}

// handleMessage decodes and dispatches one inbound structured message
func (c *Client) handleMessage(blob []byte) error {
	// Decode message into generic list to determine the message type
	var tmpMsg []any
	if _, err := cbor.Decode(blob, &tmpMsg); err != nil {
		return fmt.Errorf("%s: decode error: %w", ProtocolName, err)
	}
	if len(tmpMsg) == 0 {
		return fmt.Errorf("%s: received empty message", ProtocolName)
	}
	msgType, ok := tmpMsg[0].(uint64)
	if !ok {
		return fmt.Errorf(
			"%s: received message with non-numeric type: %#v",
			ProtocolName,
			tmpMsg,
		)
	}
	msg, err := NewMsgFromCbor(uint(msgType), blob)
	if err != nil {
		return err
	}
	switch msg.Type() {
	case MessageTypeReady:
		c.onceReady.Do(func() {
			close(c.readyChan)
		})
		return nil
	case MessageTypeResponse:
		return c.handleResponse(msg.(*MsgResponse))
	default:
		return fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
}

// handleResponse matches a response to its request and delivers the decoded,
// verified body through the registered callback
func (c *Client) handleResponse(msg *MsgResponse) error {
	c.pendingMutex.Lock()
	onResponse, ok := c.pending[msg.RequestId]
	delete(c.pending, msg.RequestId)
	c.pendingMutex.Unlock()
	if !ok {
		return fmt.Errorf(
			"%s: received response for unknown request ID %d",
			ProtocolName,
			msg.RequestId,
		)
	}
	// The body is a view over the delivered segment buffers; nothing is
	// copied between here and the callback
	body, err := message.Decode(msg.Segments)
	if err != nil {
		onResponse(nil, err)
		return nil
	}
	if err := message.Verify(body); err != nil {
		onResponse(nil, err)
		return nil
	}
	onResponse(body, nil)
	return nil
}

func (c *Client) unregister(requestId uint64) {
	c.pendingMutex.Lock()
	delete(c.pending, requestId)
	c.pendingMutex.Unlock()
}

// failPending completes all outstanding callbacks with the provided error
func (c *Client) failPending(err error) {
	c.pendingMutex.Lock()
	pending := c.pending
	c.pending = map[uint64]ResponseFunc{}
	c.pendingMutex.Unlock()
	for _, onResponse := range pending {
		onResponse(nil, err)
	}
}
