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

// Package protocol provides the common runtime for cachewire protocol state
// machines: named states with explicit transition maps, a shared error
// taxonomy, and lifecycle plumbing shared between the client and server sides.
package protocol

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/loomlabs-io/gocachewire/channel"
)

// ProtocolRole identifies the role of the protocol instance
type ProtocolRole uint

const (
	ProtocolRoleNone   ProtocolRole = 0
	ProtocolRoleClient ProtocolRole = 1
	ProtocolRoleServer ProtocolRole = 2
)

// ProtocolOptions contains the common arguments passed to a protocol instance
type ProtocolOptions struct {
	Channel   channel.BlobChannel
	Logger    *slog.Logger
	ErrorChan chan error
	Role      ProtocolRole
}

// ProtocolConfig defines the configuration for a protocol instance
type ProtocolConfig struct {
	Name         string
	Channel      channel.BlobChannel
	Logger       *slog.Logger
	ErrorChan    chan error
	Role         ProtocolRole
	StateMap     StateMap
	InitialState State
}

// Protocol implements the shared functionality of a protocol state machine
type Protocol struct {
	config     ProtocolConfig
	state      State
	stateMutex sync.Mutex
	doneChan   chan struct{}
	onceStart  sync.Once
	onceStop   sync.Once
}

// New returns a new Protocol object
func New(config ProtocolConfig) *Protocol {
	p := &Protocol{
		config:   config,
		doneChan: make(chan struct{}),
	}
	p.state = config.InitialState
	return p
}

// Name returns the protocol name
func (p *Protocol) Name() string {
	return p.config.Name
}

// Logger returns the protocol logger, or a discarding logger if none was
// configured
func (p *Protocol) Logger() *slog.Logger {
	if p.config.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p.config.Logger
}

// Channel returns the blob channel used by the protocol
func (p *Protocol) Channel() channel.BlobChannel {
	return p.config.Channel
}

// State returns the current protocol state
func (p *Protocol) State() State {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	return p.state
}

// SetState forces the protocol into the provided state without consulting the
// state map. It's used to reset the machine at the start of a cycle.
func (p *Protocol) SetState(state State) {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	p.state = state
}

// Transition advances the state machine based on the provided event. It
// returns the new state, or an error if the event is not valid in the current
// state.
func (p *Protocol) Transition(event EventType) (State, error) {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	entry, ok := p.config.StateMap[p.state]
	if !ok {
		return p.state, fmt.Errorf(
			"%w: %s: unknown state %s",
			ErrProtocolViolationInvalidTransition,
			p.config.Name,
			p.state,
		)
	}
	for _, transition := range entry.Transitions {
		if transition.Event == event {
			p.state = transition.NewState
			return p.state, nil
		}
	}
	return p.state, fmt.Errorf(
		"%w: %s: event %d in state %s",
		ErrProtocolViolationInvalidTransition,
		p.config.Name,
		event,
		p.state,
	)
}

// DoneChan returns a channel that is closed when the protocol shuts down
func (p *Protocol) DoneChan() <-chan struct{} {
	return p.doneChan
}

// IsDone returns whether the protocol has shut down
func (p *Protocol) IsDone() bool {
	select {
	case <-p.doneChan:
		return true
	default:
		return false
	}
}

// Stop shuts the protocol down. Safe to call multiple times.
func (p *Protocol) Stop() {
	p.onceStop.Do(func() {
		close(p.doneChan)
	})
}

// SendError delivers an error to the configured error channel, if any
func (p *Protocol) SendError(err error) {
	if p.config.ErrorChan == nil {
		return
	}
	select {
	case <-p.doneChan:
	case p.config.ErrorChan <- err:
	}
}
