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

// Agency values describe which peer drives the next event in a given state
const (
	AgencyNone   uint = 0
	AgencyClient uint = 1
	AgencyServer uint = 2
)

// State represents a single named state within a protocol state machine
type State struct {
	Id   uint
	Name string
}

// NewState returns a new State with the provided ID and name
func NewState(id uint, name string) State {
	return State{
		Id:   id,
		Name: name,
	}
}

func (s State) String() string {
	return s.Name
}

// EventType identifies a protocol event that can drive a state transition
type EventType uint8

// StateTransition describes a transition between two states triggered by a
// particular event
type StateTransition struct {
	Event    EventType
	NewState State
}

// StateMapEntry describes a protocol state and its possible transitions
type StateMapEntry struct {
	Agency      uint
	Transitions []StateTransition
}

// StateMap describes the states and transitions of a protocol state machine
type StateMap map[State]StateMapEntry

// Copy returns a deep copy of the state map
func (s StateMap) Copy() StateMap {
	ret := StateMap{}
	for state, entry := range s {
		tmpEntry := StateMapEntry{
			Agency:      entry.Agency,
			Transitions: make([]StateTransition, len(entry.Transitions)),
		}
		copy(tmpEntry.Transitions, entry.Transitions)
		ret[state] = tmpEntry
	}
	return ret
}
