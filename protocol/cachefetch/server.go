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
	"errors"
	"fmt"
	"sync"

	"github.com/loomlabs-io/gocachewire/channel"
	"github.com/loomlabs-io/gocachewire/protocol"
)

// Server implements the sending side of the cache-fetch framing: handshake,
// request receipt, and segment fragmentation. The response content itself is
// provided by the configured RequestFunc callback.
type Server struct {
	*protocol.Protocol
	config          *Config
	callbackContext CallbackContext
	onceStart       sync.Once
	onceStop        sync.Once
}

// NewServer creates a new cache-fetch protocol server with the given options
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

// Start begins serving request/response cycles. Safe to call multiple times.
func (s *Server) Start() {
	s.onceStart.Do(func() {
		s.Protocol.Logger().
			Debug("starting server protocol",
				"component", "cachewire",
				"protocol", ProtocolName,
			)
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
	for {
		if s.IsDone() {
			return
		}
		if err := s.serveCycle(); err != nil {
			if s.IsDone() || errors.Is(err, channel.ErrAborted) {
				return
			}
			s.SendError(err)
			s.Stop()
			return
		}
	}
}

// serveCycle runs one full cycle: send the handshake, wait for a request,
// and send the framed response
func (s *Server) serveCycle() error {
	if err := s.Channel().Send([]byte{}); err != nil {
		return protocol.NewTransportError("send_handshake", err)
	}
	reqBuf := make([]byte, headerWidth)
	n, err := channel.Receive(s.Channel(), reqBuf)
	if err != nil {
		return protocol.NewTransportError("receive_request", err)
	}
	if n != headerWidth {
		return fmt.Errorf(
			"%w: expected %d bytes, got %d",
			protocol.ErrProtocolViolationHeaderWidth,
			headerWidth,
			n,
		)
	}
	requestId := binary.LittleEndian.Uint64(reqBuf)
	s.Protocol.Logger().
		Debug("received request",
			"component", "cachewire",
			"protocol", ProtocolName,
			"role", "server",
			"request_id", requestId,
		)
	if s.config.RequestFunc == nil {
		return errors.New(
			"received cache-fetch request but no callback function is defined",
		)
	}
	segments, err := s.config.RequestFunc(s.callbackContext, requestId)
	if err != nil {
		return err
	}
	return s.sendResponse(segments)
}

// sendResponse frames the segment buffer set onto the channel: segment count,
// then a size header and fragmented content per segment
func (s *Server) sendResponse(segments [][]byte) error {
	hdr := make([]byte, headerWidth)
	binary.LittleEndian.PutUint64(hdr, uint64(len(segments)))
	if err := s.Channel().Send(hdr); err != nil {
		return protocol.NewTransportError("send_segment_count", err)
	}
	fragmentSize := s.config.FragmentSize
	if fragmentSize <= 0 {
		fragmentSize = DefaultFragmentSize
	}
	for _, seg := range segments {
		hdr = make([]byte, headerWidth)
		binary.LittleEndian.PutUint64(hdr, uint64(len(seg)))
		if err := s.Channel().Send(hdr); err != nil {
			return protocol.NewTransportError("send_segment_header", err)
		}
		for offset := 0; offset < len(seg); offset += fragmentSize {
			end := min(offset+fragmentSize, len(seg))
			if err := s.Channel().Send(seg[offset:end]); err != nil {
				return protocol.NewTransportError("send_segment_body", err)
			}
		}
	}
	return nil
}
