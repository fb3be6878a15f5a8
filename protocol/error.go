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

import (
	"errors"
	"fmt"
)

var ErrProtocolShuttingDown = errors.New("protocol is shutting down")

// Protocol violation errors terminate the current cycle and are never retried
var (
	ErrProtocolViolationZeroSegmentCount = errors.New(
		"protocol violation: zero segment count",
	)
	ErrProtocolViolationZeroSegmentSize = errors.New(
		"protocol violation: zero segment size",
	)
	ErrProtocolViolationHeaderWidth = errors.New(
		"protocol violation: unexpected header width",
	)
	ErrProtocolViolationSegmentOverrun = errors.New(
		"protocol violation: segment content exceeds declared size",
	)
	ErrProtocolViolationSegmentTooLarge = errors.New(
		"protocol violation: segment size exceeds maximum",
	)
	ErrProtocolViolationTooManySegments = errors.New(
		"protocol violation: segment count exceeds maximum",
	)
	ErrProtocolViolationEmptyBodyBlob = errors.New(
		"protocol violation: empty segment body blob",
	)
	ErrProtocolViolationInvalidTransition = errors.New(
		"protocol violation: invalid state transition",
	)
)

// TransportError wraps a channel-level failure with the name of the operation
// that reported it. Transport errors are fatal to the current cycle.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s: %s", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError returns a TransportError annotated with the originating
// operation name
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{
		Op:  op,
		Err: err,
	}
}
