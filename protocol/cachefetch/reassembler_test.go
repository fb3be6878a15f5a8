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
	"testing"

	"github.com/loomlabs-io/gocachewire/channel"
	"github.com/loomlabs-io/gocachewire/internal/test"
	"github.com/loomlabs-io/gocachewire/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedChannel replays a fixed sequence of inbound blobs. The deferBlob
// hook decides per blob whether delivery completes synchronously or through
// the registered continuation, which lets one script exercise both completion
// paths of the drain loop.
type scriptedChannel struct {
	script    [][]byte
	idx       int
	deferBlob func(idx int) bool
	sent      [][]byte
}

func (c *scriptedChannel) Send(payload []byte) error {
	c.sent = append(c.sent, payload)
	return nil
}

func (c *scriptedChannel) AsyncReceive(
	buf []byte,
	complete channel.CompletionFunc,
) (int, error) {
	if c.idx >= len(c.script) {
		return 0, errors.New("script exhausted")
	}
	blob := c.script[c.idx]
	idx := c.idx
	c.idx++
	if c.deferBlob != nil && c.deferBlob(idx) {
		go func() {
			if len(blob) > len(buf) {
				complete(0, channel.ErrBlobTooLarge)
				return
			}
			complete(copy(buf, blob), nil)
		}()
		return 0, channel.ErrWouldBlock
	}
	if len(blob) > len(buf) {
		return 0, channel.ErrBlobTooLarge
	}
	return copy(buf, blob), nil
}

func headerBlob(value uint64) []byte {
	buf := make([]byte, headerWidth)
	binary.LittleEndian.PutUint64(buf, value)
	return buf
}

// responseScript builds the full inbound blob sequence for one response
// cycle: handshake, segment count, then per segment a size header and the
// content fragmented into blobs of at most fragmentSize bytes
func responseScript(segments [][]byte, fragmentSize int) [][]byte {
	script := [][]byte{{}}
	script = append(script, headerBlob(uint64(len(segments))))
	for _, seg := range segments {
		script = append(script, headerBlob(uint64(len(seg))))
		for offset := 0; offset < len(seg); offset += fragmentSize {
			end := min(offset+fragmentSize, len(seg))
			script = append(script, seg[offset:end])
		}
	}
	return script
}

func newTestProtocol(ch channel.BlobChannel) *protocol.Protocol {
	return protocol.New(protocol.ProtocolConfig{
		Name:         ProtocolName,
		Channel:      ch,
		Role:         protocol.ProtocolRoleClient,
		StateMap:     StateMap,
		InitialState: StateAwaitHandshake,
	})
}

func runScript(
	t *testing.T,
	script [][]byte,
	deferBlob func(idx int) bool,
) ([][]byte, error) {
	t.Helper()
	ch := &scriptedChannel{
		script:    script,
		deferBlob: deferBlob,
	}
	proto := newTestProtocol(ch)
	requested := false
	r := newReassembler(proto, func() error {
		requested = true
		return nil
	})
	segments, err := r.run()
	if err == nil {
		assert.True(t, requested, "request callback was not invoked")
		assert.Equal(t, len(script), ch.idx, "script not fully consumed")
	}
	return segments, err
}

var testSegments = [][]byte{
	test.PatternBytes(4096),
	{0x2a},
	test.PatternBytes(65536),
}

func TestReassembleSynchronous(t *testing.T) {
	script := responseScript(testSegments, DefaultFragmentSize)
	segments, err := runScript(t, script, nil)
	require.NoError(t, err)
	assert.Equal(t, testSegments, segments)
}

func TestReassembleDeferred(t *testing.T) {
	script := responseScript(testSegments, DefaultFragmentSize)
	segments, err := runScript(t, script, func(int) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, testSegments, segments)
}

func TestReassembleMixedCompletion(t *testing.T) {
	script := responseScript(testSegments, DefaultFragmentSize)
	segments, err := runScript(t, script, func(idx int) bool { return idx%2 == 0 })
	require.NoError(t, err)
	assert.Equal(t, testSegments, segments)
}

// The reassembled segments must not depend on how the sender split segment
// bodies across blobs
func TestReassembleFragmentationInvariance(t *testing.T) {
	segments := [][]byte{
		test.PatternBytes(100),
		{0x01},
		test.PatternBytes(473),
	}
	for _, fragmentSize := range []int{1, 7, 64, 100, 4096} {
		script := responseScript(segments, fragmentSize)
		result, err := runScript(t, script, nil)
		require.NoError(t, err, "fragment size %d", fragmentSize)
		assert.Equal(
			t,
			segments,
			result,
			"fragment size %d",
			fragmentSize,
		)
	}
}

func TestReassembleZeroSegmentCount(t *testing.T) {
	script := [][]byte{
		{},
		headerBlob(0),
	}
	_, err := runScript(t, script, nil)
	assert.ErrorIs(t, err, protocol.ErrProtocolViolationZeroSegmentCount)
}

func TestReassembleZeroSegmentSize(t *testing.T) {
	script := [][]byte{
		{},
		headerBlob(1),
		headerBlob(0),
	}
	_, err := runScript(t, script, nil)
	assert.ErrorIs(t, err, protocol.ErrProtocolViolationZeroSegmentSize)
}

func TestReassembleShortHeader(t *testing.T) {
	script := [][]byte{
		{},
		{0x01, 0x00, 0x00, 0x00},
	}
	_, err := runScript(t, script, nil)
	assert.ErrorIs(t, err, protocol.ErrProtocolViolationHeaderWidth)
}

func TestReassembleOversizedHeader(t *testing.T) {
	script := [][]byte{
		{},
		make([]byte, headerWidth*2),
	}
	_, err := runScript(t, script, nil)
	assert.ErrorIs(t, err, protocol.ErrProtocolViolationHeaderWidth)
}

func TestReassembleSegmentOverrun(t *testing.T) {
	script := [][]byte{
		{},
		headerBlob(1),
		headerBlob(4),
		make([]byte, 8),
	}
	_, err := runScript(t, script, nil)
	assert.ErrorIs(t, err, protocol.ErrProtocolViolationSegmentOverrun)
}

// A hostile segment count must be rejected before any per-segment buffers
// are allocated
func TestReassembleHugeSegmentCount(t *testing.T) {
	script := [][]byte{
		{},
		headerBlob(1 << 62),
	}
	_, err := runScript(t, script, nil)
	assert.ErrorIs(t, err, protocol.ErrProtocolViolationTooManySegments)
}

// A hostile segment size must be rejected before the segment buffer is
// allocated
func TestReassembleHugeSegmentSize(t *testing.T) {
	script := [][]byte{
		{},
		headerBlob(1),
		headerBlob(1 << 62),
	}
	_, err := runScript(t, script, nil)
	assert.ErrorIs(t, err, protocol.ErrProtocolViolationSegmentTooLarge)
}

// An empty body blob makes no reassembly progress and must fail rather than
// loop
func TestReassembleEmptyBodyBlob(t *testing.T) {
	script := [][]byte{
		{},
		headerBlob(1),
		headerBlob(4),
		{},
	}
	_, err := runScript(t, script, nil)
	assert.ErrorIs(t, err, protocol.ErrProtocolViolationEmptyBodyBlob)
}

func TestReassembleRequestError(t *testing.T) {
	ch := &scriptedChannel{
		script: [][]byte{{}},
	}
	proto := newTestProtocol(ch)
	requestErr := errors.New("request failed")
	r := newReassembler(proto, func() error {
		return requestErr
	})
	_, err := r.run()
	assert.ErrorIs(t, err, requestErr)
}

func TestReassembleTransportError(t *testing.T) {
	ch := &scriptedChannel{
		script: [][]byte{},
	}
	proto := newTestProtocol(ch)
	r := newReassembler(proto, func() error { return nil })
	_, err := r.run()
	require.Error(t, err)
	var transportErr *protocol.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "receive_handshake", transportErr.Op)
}

// blockedChannel never delivers a blob: every receive stays pending with its
// continuation handed to the test for manual completion
type blockedChannel struct {
	completeChan chan channel.CompletionFunc
}

func (c *blockedChannel) Send([]byte) error {
	return nil
}

func (c *blockedChannel) AsyncReceive(
	_ []byte,
	complete channel.CompletionFunc,
) (int, error) {
	c.completeChan <- complete
	return 0, channel.ErrWouldBlock
}

func TestReassembleShutdownWhilePending(t *testing.T) {
	ch := &blockedChannel{
		completeChan: make(chan channel.CompletionFunc, 1),
	}
	proto := newTestProtocol(ch)
	r := newReassembler(proto, func() error { return nil })
	resultChan := make(chan error, 1)
	go func() {
		_, err := r.run()
		resultChan <- err
	}()
	// Wait for the deferred receive to register its continuation
	complete := <-ch.completeChan
	proto.Stop()
	err := <-resultChan
	assert.ErrorIs(t, err, protocol.ErrProtocolShuttingDown)
	// The aborted continuation must not advance the state machine
	complete(0, channel.ErrAborted)
	assert.Equal(t, StateAwaitHandshake, proto.State())
}
