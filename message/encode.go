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

package message

import (
	"fmt"

	"github.com/loomlabs-io/gocachewire/cbor"
)

// PartSpec describes one file part to include in an encoded response. The
// declared size and hash are carried verbatim, which lets tests construct
// responses whose metadata doesn't match the content.
type PartSpec struct {
	Data []byte
	Size uint64
	Hash []byte
}

// NewPartSpec returns a PartSpec with the declared size and hash computed
// from the provided content
func NewPartSpec(data []byte) PartSpec {
	return PartSpec{
		Data: data,
		Size: uint64(len(data)),
		Hash: PartHash(data),
	}
}

// EncodeGetCacheResponse encodes a cache response into a segment buffer set:
// a CBOR envelope in segment 0 followed by one content segment per part. The
// envelope segment is zero-padded to WordSize alignment; content segments are
// sized exactly to their part's content.
func EncodeGetCacheResponse(parts []PartSpec) ([][]byte, error) {
	env := envelope{
		Type:  BodyTypeGetCacheResponse,
		Parts: make([]partDescriptor, 0, len(parts)),
	}
	segments := make([][]byte, 1, len(parts)+1)
	for i, part := range parts {
		env.Parts = append(env.Parts, partDescriptor{
			Segment: uint64(i + 1),
			Offset:  0,
			Length:  uint64(len(part.Data)),
			Size:    part.Size,
			Hash:    part.Hash,
		})
		seg := make([]byte, len(part.Data))
		copy(seg, part.Data)
		segments = append(segments, seg)
	}
	envData, err := cbor.Encode(
		struct {
			Type  uint8
			Parts []partDescriptor
		}{
			Type:  env.Type,
			Parts: env.Parts,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	segments[0] = alignSegment(envData)
	return segments, nil
}

// alignSegment pads the provided content to WordSize alignment. The content
// is copied so the returned segment owns its memory.
func alignSegment(data []byte) []byte {
	alignedLen := len(data)
	if rem := alignedLen % WordSize; rem != 0 {
		alignedLen += WordSize - rem
	}
	seg := make([]byte, alignedLen)
	copy(seg, data)
	return seg
}
