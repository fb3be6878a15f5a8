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

	"github.com/loomlabs-io/gocachewire/channel"
	"github.com/loomlabs-io/gocachewire/protocol"
)

// reassembler reconstructs one multi-segment response from a stream of blobs.
// It owns the segment buffer set and the transient cursor state for a single
// response cycle and is discarded once the cycle completes or fails.
//
// Each receive is attempted synchronously first; when the channel reports it
// would block, the drain loop breaks out and the registered continuation
// re-enters it once the blob arrives. The loop itself is iterative, so a long
// run of synchronous completions never grows the stack.
type reassembler struct {
	proto       *protocol.Protocol
	requestFunc func() error
	hdrBuf      [headerWidth]byte
	numSegments uint64
	segments    [][]byte
	cur         []byte
	fill        int
	resultChan  chan reassemblyResult
}

type reassemblyResult struct {
	segments [][]byte
	err      error
}

func newReassembler(
	proto *protocol.Protocol,
	requestFunc func() error,
) *reassembler {
	return &reassembler{
		proto:       proto,
		requestFunc: requestFunc,
		resultChan:  make(chan reassemblyResult, 1),
	}
}

// run drives one full response cycle and blocks until it completes or fails.
// Returns the completed segment buffer set.
func (r *reassembler) run() ([][]byte, error) {
	r.proto.SetState(StateAwaitHandshake)
	r.drive()
	select {
	case res := <-r.resultChan:
		return res.segments, res.err
	case <-r.proto.DoneChan():
		return nil, protocol.ErrProtocolShuttingDown
	}
}

// drive is the synchronous-completion fast path: it keeps issuing receives
// and handling their results inline until one would block or the cycle ends
func (r *reassembler) drive() {
	for {
		n, err := r.receiveNext()
		if errors.Is(err, channel.ErrWouldBlock) {
			// The continuation re-enters via onBlob when the blob arrives
			return
		}
		if err != nil {
			r.fail(r.receiveError(err))
			return
		}
		done := r.handleBlob(n)
		if done {
			return
		}
	}
}

// onBlob is the continuation entry point for deferred receives
func (r *reassembler) onBlob(n int, err error) {
	if errors.Is(err, channel.ErrAborted) {
		// The transport is shutting down; the pending operation is abandoned
		// without advancing the state machine
		return
	}
	if err != nil {
		r.fail(r.receiveError(err))
		return
	}
	if !r.handleBlob(n) {
		r.drive()
	}
}

// receiveNext issues the receive appropriate to the current state
func (r *reassembler) receiveNext() (int, error) {
	switch r.proto.State() {
	case StateAwaitHandshake:
		// The handshake blob is content-free
		return r.proto.Channel().AsyncReceive(r.hdrBuf[:0], r.onBlob)
	case StateAwaitSegmentCount, StateAwaitSegmentHeader:
		return r.proto.Channel().AsyncReceive(r.hdrBuf[:], r.onBlob)
	case StateAwaitSegmentBody:
		return r.proto.Channel().AsyncReceive(r.cur[r.fill:], r.onBlob)
	default:
		return 0, fmt.Errorf(
			"%w: %s: receive in state %s",
			protocol.ErrProtocolViolationInvalidTransition,
			ProtocolName,
			r.proto.State(),
		)
	}
}

// receiveError classifies a failed receive: a blob that overflows the
// caller's buffer violates the framing contract, anything else is a channel
// failure annotated with the originating operation
func (r *reassembler) receiveError(err error) error {
	if errors.Is(err, channel.ErrBlobTooLarge) {
		if r.proto.State() == StateAwaitSegmentBody {
			return protocol.ErrProtocolViolationSegmentOverrun
		}
		return fmt.Errorf(
			"%w: blob exceeds header width",
			protocol.ErrProtocolViolationHeaderWidth,
		)
	}
	return protocol.NewTransportError(r.receiveOp(), err)
}

// receiveOp names the in-flight receive operation for error diagnostics
func (r *reassembler) receiveOp() string {
	switch r.proto.State() {
	case StateAwaitHandshake:
		return "receive_handshake"
	case StateAwaitSegmentCount:
		return "receive_segment_count"
	case StateAwaitSegmentHeader:
		return "receive_segment_header"
	case StateAwaitSegmentBody:
		return "receive_segment_body"
	default:
		return "receive"
	}
}

// handleBlob processes one completed receive of n bytes and advances the
// state machine. Returns true when the cycle is finished (either the response
// is complete or a failure was delivered).
func (r *reassembler) handleBlob(n int) bool {
	switch r.proto.State() {
	case StateAwaitHandshake:
		if _, err := r.proto.Transition(EventHandshake); err != nil {
			r.fail(err)
			return true
		}
		if err := r.requestFunc(); err != nil {
			r.fail(err)
			return true
		}
	case StateAwaitSegmentCount:
		count, err := r.decodeHeader(n)
		if err != nil {
			r.fail(err)
			return true
		}
		if count == 0 {
			r.fail(protocol.ErrProtocolViolationZeroSegmentCount)
			return true
		}
		if count > MaxSegmentCount {
			r.fail(fmt.Errorf(
				"%w: %d segments",
				protocol.ErrProtocolViolationTooManySegments,
				count,
			))
			return true
		}
		r.numSegments = count
		r.segments = make([][]byte, 0, count)
		if _, err := r.proto.Transition(EventSegmentCount); err != nil {
			r.fail(err)
			return true
		}
		r.proto.Logger().
			Debug("received segment count",
				"component", "cachewire",
				"protocol", ProtocolName,
				"role", "client",
				"num_segments", count,
			)
	case StateAwaitSegmentHeader:
		size, err := r.decodeHeader(n)
		if err != nil {
			r.fail(err)
			return true
		}
		if size == 0 {
			r.fail(protocol.ErrProtocolViolationZeroSegmentSize)
			return true
		}
		if size > MaxSegmentSize {
			r.fail(fmt.Errorf(
				"%w: %d bytes",
				protocol.ErrProtocolViolationSegmentTooLarge,
				size,
			))
			return true
		}
		r.cur = make([]byte, size)
		r.fill = 0
		if _, err := r.proto.Transition(EventSegmentHeader); err != nil {
			r.fail(err)
			return true
		}
	case StateAwaitSegmentBody:
		if n == 0 {
			r.fail(protocol.ErrProtocolViolationEmptyBodyBlob)
			return true
		}
		r.fill += n
		if r.fill < len(r.cur) {
			// Partial fill: stay in the same state and keep receiving
			if _, err := r.proto.Transition(EventSegmentPartial); err != nil {
				r.fail(err)
				return true
			}
			return false
		}
		r.segments = append(r.segments, r.cur)
		r.cur = nil
		r.fill = 0
		if uint64(len(r.segments)) == r.numSegments {
			if _, err := r.proto.Transition(EventResponseDone); err != nil {
				r.fail(err)
				return true
			}
			r.proto.Logger().
				Debug("response complete",
					"component", "cachewire",
					"protocol", ProtocolName,
					"role", "client",
					"num_segments", len(r.segments),
				)
			r.resultChan <- reassemblyResult{segments: r.segments}
			return true
		}
		if _, err := r.proto.Transition(EventSegmentComplete); err != nil {
			r.fail(err)
			return true
		}
	default:
		r.fail(fmt.Errorf(
			"%w: %s: blob in state %s",
			protocol.ErrProtocolViolationInvalidTransition,
			ProtocolName,
			r.proto.State(),
		))
		return true
	}
	return false
}

// decodeHeader interprets a count/size header blob, requiring the exact
// header width
func (r *reassembler) decodeHeader(n int) (uint64, error) {
	if n != headerWidth {
		return 0, fmt.Errorf(
			"%w: expected %d bytes, got %d",
			protocol.ErrProtocolViolationHeaderWidth,
			headerWidth,
			n,
		)
	}
	return binary.LittleEndian.Uint64(r.hdrBuf[:]), nil
}

func (r *reassembler) fail(err error) {
	r.resultChan <- reassemblyResult{err: err}
}
