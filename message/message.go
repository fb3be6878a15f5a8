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

// Package message implements the multi-segment cachewire message container.
//
// A message is an ordered set of segments. Segment 0 carries a CBOR envelope
// describing a tagged-union body; the remaining segments carry raw content.
// Decoding produces a read-only view whose file-part data fields alias the
// segment buffers directly, so the decoded Body must not outlive the segment
// buffer set it was decoded from.
package message

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/loomlabs-io/gocachewire/cbor"
)

// WordSize is the alignment boundary for the envelope segment. The envelope
// decoder tolerates trailing zero padding up to any length beyond the encoded
// item, so senders may over-allocate the envelope segment freely.
const WordSize = 8

// PartHashSize is the size of a file part integrity hash
const PartHashSize = 32

// Body type values for the envelope tagged union
const (
	BodyTypeUnknown          uint8 = 0
	BodyTypeGetCacheResponse uint8 = 1
)

var (
	// ErrInvalidEnvelope is returned when the envelope segment cannot be
	// decoded or references content outside the segment buffer set
	ErrInvalidEnvelope = errors.New("invalid message envelope")

	// ErrUnexpectedBodyType is returned when accessing a body variant other
	// than the one the envelope declares
	ErrUnexpectedBodyType = errors.New("unexpected body type")
)

// partDescriptor is the wire form of a file part: a location within the
// segment buffer set plus the sender-declared integrity metadata
type partDescriptor struct {
	Segment uint64
	Offset  uint64
	Length  uint64
	Size    uint64
	Hash    []byte
}

// envelope is the wire form of the message body carried in segment 0
type envelope struct {
	cbor.DecodeStoreCbor
	Type  uint8
	Parts []partDescriptor
}

// FilePart is one element of a cache response. Data aliases the underlying
// segment buffer and must be treated as read-only.
type FilePart struct {
	data []byte
	size uint64
	hash []byte
}

// Data returns the raw part content without copying
func (p FilePart) Data() []byte {
	return p.data
}

// Size returns the sender-declared content size
func (p FilePart) Size() uint64 {
	return p.size
}

// Hash returns the sender-declared content hash
func (p FilePart) Hash() []byte {
	return p.hash
}

// GetCacheResponse is the cache-response variant of the message body
type GetCacheResponse struct {
	parts []FilePart
}

// Parts returns the ordered list of file parts
func (r *GetCacheResponse) Parts() []FilePart {
	return r.parts
}

// Body is a read-only view over a decoded message. It holds a reference to the
// segment buffer set it was decoded from, keeping the underlying memory alive
// for as long as the view is reachable.
type Body struct {
	bodyType         uint8
	getCacheResponse *GetCacheResponse
	segments         [][]byte
}

// Type returns the body type declared by the envelope
func (b *Body) Type() uint8 {
	return b.bodyType
}

// GetCacheResponse returns the cache-response variant of the body
func (b *Body) GetCacheResponse() (*GetCacheResponse, error) {
	if b.bodyType != BodyTypeGetCacheResponse {
		return nil, fmt.Errorf(
			"%w: expected %d, got %d",
			ErrUnexpectedBodyType,
			BodyTypeGetCacheResponse,
			b.bodyType,
		)
	}
	return b.getCacheResponse, nil
}

// Decode constructs a Body view over the provided segment buffer set. Part
// data is not copied; ownership of the segments transfers to the returned
// Body, and the segments must not be mutated afterward.
func Decode(segments [][]byte) (*Body, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no segments", ErrInvalidEnvelope)
	}
	var env envelope
	if err := cbor.DecodeGeneric(segments[0], &env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvelope, err)
	}
	body := &Body{
		bodyType: env.Type,
		segments: segments,
	}
	if env.Type != BodyTypeGetCacheResponse {
		return body, nil
	}
	parts := make([]FilePart, 0, len(env.Parts))
	for i, desc := range env.Parts {
		if desc.Segment == 0 || desc.Segment >= uint64(len(segments)) {
			return nil, fmt.Errorf(
				"%w: part %d references segment %d of %d",
				ErrInvalidEnvelope,
				i,
				desc.Segment,
				len(segments),
			)
		}
		seg := segments[desc.Segment]
		end := desc.Offset + desc.Length
		if end < desc.Offset || end > uint64(len(seg)) {
			return nil, fmt.Errorf(
				"%w: part %d content range [%d,%d) outside segment %d (%d bytes)",
				ErrInvalidEnvelope,
				i,
				desc.Offset,
				end,
				desc.Segment,
				len(seg),
			)
		}
		parts = append(parts, FilePart{
			data: seg[desc.Offset:end],
			size: desc.Size,
			hash: desc.Hash,
		})
	}
	body.getCacheResponse = &GetCacheResponse{parts: parts}
	return body, nil
}

// PartHash computes the integrity hash over the provided content bytes
func PartHash(data []byte) []byte {
	tmpHash, err := blake2b.New256(nil)
	if err != nil {
		panic(
			fmt.Sprintf("unexpected error creating blake2b hash: %s", err),
		)
	}
	tmpHash.Write(data)
	return tmpHash.Sum(nil)
}
