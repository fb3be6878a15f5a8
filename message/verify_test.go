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

package message_test

import (
	"testing"

	"github.com/loomlabs-io/gocachewire/internal/test"
	"github.com/loomlabs-io/gocachewire/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeParts(t *testing.T, parts ...message.PartSpec) *message.Body {
	t.Helper()
	segments, err := message.EncodeGetCacheResponse(parts)
	require.NoError(t, err)
	body, err := message.Decode(segments)
	require.NoError(t, err)
	return body
}

func TestVerify(t *testing.T) {
	body := decodeParts(
		t,
		message.NewPartSpec(test.PatternBytes(4096)),
		message.NewPartSpec([]byte{0x2a}),
	)
	assert.NoError(t, message.Verify(body))
}

func TestVerifyEmptyResponse(t *testing.T) {
	body := decodeParts(t)
	assert.ErrorIs(t, message.Verify(body), message.ErrEmptyResponse)
}

func TestVerifySizeMismatch(t *testing.T) {
	badPart := message.NewPartSpec(test.PatternBytes(256))
	badPart.Size = 255
	body := decodeParts(t, badPart)
	err := message.Verify(body)
	require.Error(t, err)
	assert.ErrorIs(t, err, message.ErrSizeMismatch)
}

func TestVerifyHashMismatch(t *testing.T) {
	badPart := message.NewPartSpec(test.PatternBytes(256))
	badPart.Hash = message.PartHash([]byte("other content"))
	body := decodeParts(t, badPart)
	err := message.Verify(body)
	require.Error(t, err)
	assert.ErrorIs(t, err, message.ErrHashMismatch)
}

// Size is checked before hash, so a part that is wrong in both ways reports
// the size mismatch
func TestVerifySizeCheckedFirst(t *testing.T) {
	badPart := message.NewPartSpec(test.PatternBytes(256))
	badPart.Size = 1
	badPart.Hash = message.PartHash([]byte("other content"))
	body := decodeParts(t, badPart)
	assert.ErrorIs(t, message.Verify(body), message.ErrSizeMismatch)
}

// A mismatch in a later part is still detected after valid earlier parts
func TestVerifyLaterPartMismatch(t *testing.T) {
	badPart := message.NewPartSpec(test.PatternBytes(64))
	badPart.Hash = message.PartHash([]byte("other content"))
	body := decodeParts(
		t,
		message.NewPartSpec(test.PatternBytes(128)),
		badPart,
	)
	assert.ErrorIs(t, message.Verify(body), message.ErrHashMismatch)
}

func TestVerifyWrongBodyType(t *testing.T) {
	body, err := message.Decode([][]byte{
		mustEncodeEnvelope(t, message.BodyTypeUnknown),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, message.Verify(body), message.ErrUnexpectedBodyType)
}
