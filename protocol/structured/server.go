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

	"github.com/loomlabs-io/gocachewire/cbor"
	"github.com/loomlabs-io/gocachewire/channel"
	"github.com/loomlabs-io/gocachewire/protocol"
)

// Server implements the responding side of the structured channel: it sends
// the ready sentinel, then answers each request with a response message built
// from the configured RequestFunc callback.
type Server struct {
	*protocol.Protocol
	config          *Config
	zchan           channel.ZeroCopyChannel
	callbackContext CallbackContext
	onceStart       sync.Once
	onceStop        sync.Once
}

// NewServer creates a new structured-channel server with the given options
// and configuration.
func NewServer(protoOptions protocol.ProtocolOptions, cfg *Config) *Server {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	s := &Server{
		config: cfg,
	}
	s.callbackContext = CallbackContext{
		Server: s,
	}
	s.zchan, _ = protoOptions.Channel.(channel.ZeroCopyChannel)
	protoConfig := protocol.ProtocolConfig{
		Name:      ProtocolName,
		Channel:   protoOptions.Channel,
		Logger:    protoOptions.Logger,
		ErrorChan: protoOptions.ErrorChan,
		Role:      protocol.ProtocolRoleServer,
	}
	s.Protocol = protocol.New(protoConfig)
	return s
}

// Start begins serving. The ready sentinel is sent immediately. Safe to call
// multiple times.
func (s *Server) Start() {
	s.onceStart.Do(func() {
		s.Protocol.Logger().
			Debug("starting server protocol",
				"component", "cachewire",
				"protocol", ProtocolName,
			)
		if s.zchan == nil {
			s.SendError(ErrChannelNotZeroCopy)
			return
		}
		go s.serveLoop()
	})
}

// Stop shuts down the server. Safe to call multiple times.
func (s *Server) Stop() error {
	s.onceStop.Do(func() {
		s.Protocol.Logger().
			Debug("stopping server protocol",
				"component", "cachewire",
				"protocol", ProtocolName,
			)
		s.Protocol.Stop()
	})
	return nil
}

func (s *Server) serveLoop() {
	if err := s.sendMessage(NewMsgReady()); err != nil {
		s.SendError(err)
		return
	}
	for {
		blob, err := channel.ReceiveNext(s.zchan)
		if err != nil {
			if !errors.Is(err, channel.ErrAborted) && !s.IsDone() {
				s.SendError(
					protocol.NewTransportError("receive_request", err),
				)
			}
			return
		}
		if err := s.handleMessage(blob); err != nil {
			s.SendError(err)
			return
		}
	}
}

// handleMessage decodes and answers one inbound request message
func (s *Server) handleMessage(blob []byte) error {
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
	msgReq, ok := msg.(*MsgRequest)
	if !ok {
		return fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	s.Protocol.Logger().
		Debug("received request",
			"component", "cachewire",
			"protocol", ProtocolName,
			"role", "server",
			"request_id", msgReq.RequestId,
		)
	if s.config.RequestFunc == nil {
		return errors.New(
			"received structured request but no callback function is defined",
		)
	}
	segments, err := s.config.RequestFunc(s.callbackContext, msgReq.RequestId)
	if err != nil {
		return err
	}
	return s.sendMessage(NewMsgResponse(msgReq.RequestId, segments))
}

func (s *Server) sendMessage(msg protocol.Message) error {
	data, err := cbor.Encode(msg)
	if err != nil {
		return err
	}
	if err := s.zchan.Send(data); err != nil {
		return protocol.NewTransportError("send_message", err)
	}
	return nil
}
