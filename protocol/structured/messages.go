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
	"fmt"

	"github.com/loomlabs-io/gocachewire/cbor"
	"github.com/loomlabs-io/gocachewire/protocol"
)

// Message types
const (
	MessageTypeReady    = 0
	MessageTypeRequest  = 1
	MessageTypeResponse = 2
)

// NewMsgFromCbor parses a structured-channel message from CBOR
func NewMsgFromCbor(msgType uint, data []byte) (protocol.Message, error) {
	var ret protocol.Message
	switch msgType {
	case MessageTypeReady:
		ret = &MsgReady{}
	case MessageTypeRequest:
		ret = &MsgRequest{}
	case MessageTypeResponse:
		ret = &MsgResponse{}
	}
	if ret == nil {
		return nil, fmt.Errorf(
			"%s: received unknown message type: %d",
			ProtocolName,
			msgType,
		)
	}
	if _, err := cbor.Decode(data, ret); err != nil {
		return nil, fmt.Errorf("%s: decode error: %w", ProtocolName, err)
	}
	// Store the raw message CBOR
	ret.SetCbor(data)
	return ret, nil
}

// MsgReady is the sentinel message the server sends to synchronize the start
// of the exchange
type MsgReady struct {
	protocol.MessageBase
}

func NewMsgReady() *MsgReady {
	msg := &MsgReady{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeReady,
		},
	}
	return msg
}

// MsgRequest carries a cache request identified by a request ID
type MsgRequest struct {
	protocol.MessageBase
	RequestId uint64
}

func NewMsgRequest(requestId uint64) *MsgRequest {
	msg := &MsgRequest{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeRequest,
		},
		RequestId: requestId,
	}
	return msg
}

// MsgResponse carries a full response: the request ID it answers and the
// message's segment buffer set
type MsgResponse struct {
	protocol.MessageBase
	RequestId uint64
	Segments  [][]byte
}

func NewMsgResponse(requestId uint64, segments [][]byte) *MsgResponse {
	msg := &MsgResponse{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeResponse,
		},
		RequestId: requestId,
		Segments:  segments,
	}
	return msg
}
