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

// Package channel implements an asynchronous, non-blocking blob channel over a
// stream connection.
//
// Each blob is delivered atomically and framed on the wire with a little-endian
// uint32 length prefix. A receive either completes inline (the fast path) or
// reports ErrWouldBlock and registers a one-shot continuation that fires once
// a blob arrives. At most one receive may be outstanding at a time.
package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

const (
	// Size of the length prefix framing each blob
	frameHeaderSize = 4

	// Maximum payload length accepted for a single blob
	MaxBlobLength = 0x4000000
)

var (
	// ErrWouldBlock is returned by AsyncReceive when no blob is available yet.
	// The registered continuation will be invoked exactly once when one is.
	ErrWouldBlock = errors.New("receive would block")

	// ErrAborted is passed to a pending continuation when the channel shuts
	// down before the receive completes
	ErrAborted = errors.New("operation aborted")

	// ErrBlobTooLarge is reported when an inbound blob does not fit the buffer
	// provided to the receive call
	ErrBlobTooLarge = errors.New("blob exceeds receive buffer")

	// ErrReceivePending is returned when a receive is attempted while another
	// is still outstanding
	ErrReceivePending = errors.New("receive already pending")
)

// CompletionFunc is a one-shot continuation invoked when a deferred receive
// completes. It receives the number of bytes copied into the caller's buffer,
// or ErrAborted when the channel shut down first.
type CompletionFunc func(n int, err error)

// BlobFunc is a one-shot continuation invoked when a deferred whole-blob
// receive completes. The blob's backing buffer is handed over to the caller
// without copying.
type BlobFunc func(blob []byte, err error)

// BlobChannel is the interface consumed by the protocol layer. Channel is the
// production implementation; tests substitute scripted fakes.
type BlobChannel interface {
	Send(payload []byte) error
	AsyncReceive(buf []byte, complete CompletionFunc) (int, error)
}

// ZeroCopyChannel extends BlobChannel with whole-blob delivery that transfers
// ownership of the inbound buffer instead of copying into one supplied by the
// caller
type ZeroCopyChannel interface {
	BlobChannel
	AsyncReceiveNext(complete BlobFunc) ([]byte, error)
}

// Channel provides non-blocking send/receive of opaque blobs over a net.Conn
type Channel struct {
	conn        net.Conn
	sendMutex   sync.Mutex
	recvMutex   sync.Mutex
	recvQueue   [][]byte
	pending     CompletionFunc
	pendingBuf  []byte
	pendingNext BlobFunc
	readErr     error
	doneChan    chan struct{}
	onceClose   sync.Once
}

// New creates a Channel over the provided connection and starts its read loop
func New(conn net.Conn) *Channel {
	c := &Channel{
		conn:     conn,
		doneChan: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close shuts down the channel. A pending continuation is invoked with
// ErrAborted, and any queued blobs are discarded
func (c *Channel) Close() error {
	var err error
	c.onceClose.Do(func() {
		close(c.doneChan)
		err = c.conn.Close()
		c.recvMutex.Lock()
		pending := c.pending
		pendingNext := c.pendingNext
		c.pending = nil
		c.pendingBuf = nil
		c.pendingNext = nil
		c.recvQueue = nil
		c.recvMutex.Unlock()
		if pending != nil {
			pending(0, ErrAborted)
		}
		if pendingNext != nil {
			pendingNext(nil, ErrAborted)
		}
	})
	return err
}

// DoneChan returns a channel that is closed when the Channel shuts down
func (c *Channel) DoneChan() <-chan struct{} {
	return c.doneChan
}

// Send writes a single blob to the connection. A zero-length payload is valid
// and is delivered to the peer as an empty blob
func (c *Channel) Send(payload []byte) error {
	if len(payload) > MaxBlobLength {
		return fmt.Errorf("send of %d bytes exceeds max blob length", len(payload))
	}
	// We use a mutex to make sure only one blob is written at a time
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()
	hdr := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint32(hdr, uint32(len(payload)))
	if _, err := c.conn.Write(hdr); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := c.conn.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// AsyncReceive attempts to receive the next blob into buf. If a blob is
// already queued it is copied into buf and its length returned immediately
// with a nil error; the continuation is not used. Otherwise ErrWouldBlock is
// returned and complete is registered to fire exactly once, later, from the
// channel's read context.
func (c *Channel) AsyncReceive(buf []byte, complete CompletionFunc) (int, error) {
	c.recvMutex.Lock()
	select {
	case <-c.doneChan:
		c.recvMutex.Unlock()
		return 0, ErrAborted
	default:
	}
	if len(c.recvQueue) > 0 {
		blob := c.recvQueue[0]
		c.recvQueue = c.recvQueue[1:]
		c.recvMutex.Unlock()
		if len(blob) > len(buf) {
			return 0, ErrBlobTooLarge
		}
		return copy(buf, blob), nil
	}
	if c.readErr != nil {
		err := c.readErr
		c.recvMutex.Unlock()
		return 0, err
	}
	if c.pending != nil || c.pendingNext != nil {
		c.recvMutex.Unlock()
		return 0, ErrReceivePending
	}
	c.pending = complete
	c.pendingBuf = buf
	c.recvMutex.Unlock()
	return 0, ErrWouldBlock
}

// AsyncReceiveNext attempts to receive the next blob without copying. If a
// blob is already queued its backing buffer is returned immediately with a
// nil error; otherwise ErrWouldBlock is returned and complete is registered
// to fire exactly once when one arrives. Ownership of the returned buffer
// transfers to the caller.
func (c *Channel) AsyncReceiveNext(complete BlobFunc) ([]byte, error) {
	c.recvMutex.Lock()
	select {
	case <-c.doneChan:
		c.recvMutex.Unlock()
		return nil, ErrAborted
	default:
	}
	if len(c.recvQueue) > 0 {
		blob := c.recvQueue[0]
		c.recvQueue = c.recvQueue[1:]
		c.recvMutex.Unlock()
		return blob, nil
	}
	if c.readErr != nil {
		err := c.readErr
		c.recvMutex.Unlock()
		return nil, err
	}
	if c.pending != nil || c.pendingNext != nil {
		c.recvMutex.Unlock()
		return nil, ErrReceivePending
	}
	c.pendingNext = complete
	c.recvMutex.Unlock()
	return nil, ErrWouldBlock
}

// readLoop reads framed blobs off the connection, completing a pending receive
// directly or queueing the blob for the next one
func (c *Channel) readLoop() {
	for {
		select {
		case <-c.doneChan:
			return
		default:
		}
		hdr := make([]byte, frameHeaderSize)
		if _, err := io.ReadFull(c.conn, hdr); err != nil {
			c.failPending(err)
			return
		}
		payloadLength := binary.LittleEndian.Uint32(hdr)
		if payloadLength > MaxBlobLength {
			c.failPending(
				fmt.Errorf("received blob of %d bytes exceeds max blob length", payloadLength),
			)
			return
		}
		blob := make([]byte, payloadLength)
		// ReadFull guarantees to read the expected number of bytes or return
		// an error
		if _, err := io.ReadFull(c.conn, blob); err != nil {
			c.failPending(err)
			return
		}
		c.recvMutex.Lock()
		if c.pending != nil {
			pending := c.pending
			pendingBuf := c.pendingBuf
			c.pending = nil
			c.pendingBuf = nil
			c.recvMutex.Unlock()
			if len(blob) > len(pendingBuf) {
				pending(0, ErrBlobTooLarge)
			} else {
				pending(copy(pendingBuf, blob), nil)
			}
			continue
		}
		if c.pendingNext != nil {
			pendingNext := c.pendingNext
			c.pendingNext = nil
			c.recvMutex.Unlock()
			pendingNext(blob, nil)
			continue
		}
		c.recvQueue = append(c.recvQueue, blob)
		c.recvMutex.Unlock()
	}
}

// failPending records a terminal read error and delivers it to any pending
// continuation. After shutdown the error is reported as ErrAborted instead
func (c *Channel) failPending(err error) {
	select {
	case <-c.doneChan:
		// Close() already delivered ErrAborted to any pending continuation
		return
	default:
	}
	c.recvMutex.Lock()
	c.readErr = err
	pending := c.pending
	pendingNext := c.pendingNext
	c.pending = nil
	c.pendingBuf = nil
	c.pendingNext = nil
	c.recvMutex.Unlock()
	if pending != nil {
		pending(0, err)
	}
	if pendingNext != nil {
		pendingNext(nil, err)
	}
}

// Receive is a blocking convenience wrapper around AsyncReceive. It attempts
// synchronous completion first and otherwise waits for the continuation.
func Receive(ch BlobChannel, buf []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	resultChan := make(chan result, 1)
	n, err := ch.AsyncReceive(buf, func(n int, err error) {
		resultChan <- result{n: n, err: err}
	})
	if !errors.Is(err, ErrWouldBlock) {
		return n, err
	}
	res := <-resultChan
	return res.n, res.err
}

// ReceiveNext is a blocking convenience wrapper around AsyncReceiveNext
func ReceiveNext(ch ZeroCopyChannel) ([]byte, error) {
	type result struct {
		blob []byte
		err  error
	}
	resultChan := make(chan result, 1)
	blob, err := ch.AsyncReceiveNext(func(blob []byte, err error) {
		resultChan <- result{blob: blob, err: err}
	})
	if !errors.Is(err, ErrWouldBlock) {
		return blob, err
	}
	res := <-resultChan
	return res.blob, res.err
}
