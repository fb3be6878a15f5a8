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

package protocol

// Message is implemented by every wire message carried over the structured
// channel. Implementations embed MessageBase for the common behavior.
type Message interface {
	SetCbor([]byte)
	Cbor() []byte
	Type() uint8
}

// MessageBase carries what all structured-channel messages share: the numeric
// type that leads the encoded array, and the original wire bytes captured at
// decode time
type MessageBase struct {
	// Encode the struct as a CBOR array rather than a map
	_           struct{} `cbor:",toarray"`
	wireCbor    []byte
	MessageType uint8
}

// SetCbor records a private copy of the message's wire encoding. Retaining
// the exact inbound bytes lets callers inspect or re-emit a message without
// a re-encode, which is not guaranteed to be byte-identical.
func (m *MessageBase) SetCbor(data []byte) {
	m.wireCbor = make([]byte, len(data))
	copy(m.wireCbor, data)
}

// Cbor returns the wire encoding captured by SetCbor. Nil for a message
// built locally rather than decoded.
func (m *MessageBase) Cbor() []byte {
	return m.wireCbor
}

func (m *MessageBase) Type() uint8 {
	return m.MessageType
}
