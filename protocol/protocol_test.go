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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventAdvance EventType = 1
	testEventFinish  EventType = 2
)

var (
	testStateIdle = NewState(1, "Idle")
	testStateBusy = NewState(2, "Busy")
	testStateDone = NewState(3, "Done")
)

var testStateMap = StateMap{
	testStateIdle: StateMapEntry{
		Agency: AgencyClient,
		Transitions: []StateTransition{
			{
				Event:    testEventAdvance,
				NewState: testStateBusy,
			},
		},
	},
	testStateBusy: StateMapEntry{
		Agency: AgencyServer,
		Transitions: []StateTransition{
			{
				Event:    testEventAdvance,
				NewState: testStateBusy,
			},
			{
				Event:    testEventFinish,
				NewState: testStateDone,
			},
		},
	},
	testStateDone: StateMapEntry{
		Agency: AgencyNone,
	},
}

func newTestProtocol() *Protocol {
	return New(ProtocolConfig{
		Name:         "test",
		Role:         ProtocolRoleClient,
		StateMap:     testStateMap,
		InitialState: testStateIdle,
	})
}

func TestTransition(t *testing.T) {
	p := newTestProtocol()
	assert.Equal(t, testStateIdle, p.State())
	newState, err := p.Transition(testEventAdvance)
	require.NoError(t, err)
	assert.Equal(t, testStateBusy, newState)
	// Self-transition
	newState, err = p.Transition(testEventAdvance)
	require.NoError(t, err)
	assert.Equal(t, testStateBusy, newState)
	newState, err = p.Transition(testEventFinish)
	require.NoError(t, err)
	assert.Equal(t, testStateDone, newState)
}

func TestTransitionInvalidEvent(t *testing.T) {
	p := newTestProtocol()
	_, err := p.Transition(testEventFinish)
	require.ErrorIs(t, err, ErrProtocolViolationInvalidTransition)
	// A failed transition must not change the state
	assert.Equal(t, testStateIdle, p.State())
}

func TestTransitionUnknownState(t *testing.T) {
	p := newTestProtocol()
	p.SetState(NewState(99, "Unknown"))
	_, err := p.Transition(testEventAdvance)
	assert.ErrorIs(t, err, ErrProtocolViolationInvalidTransition)
}

func TestSetState(t *testing.T) {
	p := newTestProtocol()
	p.SetState(testStateBusy)
	assert.Equal(t, testStateBusy, p.State())
}

func TestStop(t *testing.T) {
	p := newTestProtocol()
	assert.False(t, p.IsDone())
	p.Stop()
	assert.True(t, p.IsDone())
	select {
	case <-p.DoneChan():
	default:
		t.Fatal("done channel not closed after Stop()")
	}
	// Safe to call again
	p.Stop()
}

func TestSendError(t *testing.T) {
	errorChan := make(chan error, 1)
	p := New(ProtocolConfig{
		Name:         "test",
		ErrorChan:    errorChan,
		StateMap:     testStateMap,
		InitialState: testStateIdle,
	})
	p.SendError(ErrProtocolShuttingDown)
	select {
	case err := <-errorChan:
		assert.ErrorIs(t, err, ErrProtocolShuttingDown)
	default:
		t.Fatal("did not receive expected error")
	}
	// Without an error channel this is a no-op
	p2 := newTestProtocol()
	p2.SendError(ErrProtocolShuttingDown)
}

func TestStateMapCopy(t *testing.T) {
	mapCopy := testStateMap.Copy()
	require.Len(t, mapCopy, len(testStateMap))
	// Mutating the copy must not affect the original
	entry := mapCopy[testStateIdle]
	entry.Transitions[0].NewState = testStateDone
	mapCopy[testStateIdle] = entry
	assert.Equal(
		t,
		testStateBusy,
		testStateMap[testStateIdle].Transitions[0].NewState,
	)
}
