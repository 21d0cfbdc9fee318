// Copyright 2024 openterms
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package contract

import (
	"fmt"

	"github.com/openterms/converge/dsp/constants"
)

// State is a contract negotiation state. Settled states are the ones the
// protocol knows about; the -ing states are local intermediates that exist
// while an outbound message has not been acknowledged yet.
type State string

const (
	StateInitial    State = "INITIAL"
	StateRequested  State = "REQUESTED"
	StateOffered    State = "OFFERED"
	StateAccepted   State = "ACCEPTED"
	StateAgreed     State = "AGREED"
	StateVerified   State = "VERIFIED"
	StateFinalized  State = "FINALIZED"
	StateTerminated State = "TERMINATED"

	StateRequesting  State = "REQUESTING"
	StateOffering    State = "OFFERING"
	StateAccepting   State = "ACCEPTING"
	StateAgreeing    State = "AGREEING"
	StateVerifying   State = "VERIFYING"
	StateFinalizing  State = "FINALIZING"
	StateTerminating State = "TERMINATING"
)

var allStates = []State{
	StateInitial, StateRequested, StateOffered, StateAccepted, StateAgreed,
	StateVerified, StateFinalized, StateTerminated,
	StateRequesting, StateOffering, StateAccepting, StateAgreeing,
	StateVerifying, StateFinalizing, StateTerminating,
}

// settled maps intermediates to the state the pending message moves toward.
var settled = map[State]State{
	StateRequesting:  StateRequested,
	StateOffering:    StateOffered,
	StateAccepting:   StateAccepted,
	StateAgreeing:    StateAgreed,
	StateVerifying:   StateVerified,
	StateFinalizing:  StateFinalized,
	StateTerminating: StateTerminated,
}

func ParseState(s string) (State, error) {
	for _, state := range allStates {
		if string(state) == s {
			return state, nil
		}
	}
	return StateInitial, fmt.Errorf("invalid contract negotiation state: %s", s)
}

func (s State) String() string { return string(s) }

// Settled resolves an intermediate to its target state. Settled states map
// to themselves.
func (s State) Settled() State {
	if target, ok := settled[s]; ok {
		return target
	}
	return s
}

// Intermediate reports whether this state has a message in flight.
func (s State) Intermediate() bool {
	_, ok := settled[s]
	return ok
}

// Terminal reports whether the negotiation can't move anymore.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateTerminated
}

// Wire returns the state as it appears in protocol messages. Intermediates
// never cross the wire and report as the state they move toward.
func (s State) Wire() string {
	return "dspace:" + string(s.Settled())
}

// The negotiation state machine is asymmetric: what is a legal move depends
// on which side of the exchange this record is. Termination is handled
// separately as it is legal from every non-terminal state.
var validTransitions = map[constants.DataspaceRole]map[State][]State{
	constants.DataspaceConsumer: {
		StateInitial:    {StateRequesting, StateOffered},
		StateRequesting: {StateRequested},
		StateRequested:  {StateOffered, StateAgreed},
		StateOffered:    {StateRequesting, StateAccepting},
		StateAccepting:  {StateAccepted},
		StateAccepted:   {StateAgreed},
		StateAgreed:     {StateVerifying},
		StateVerifying:  {StateVerified},
		StateVerified:   {StateFinalized},
	},
	constants.DataspaceProvider: {
		StateInitial:    {StateOffering, StateRequested},
		StateRequested:  {StateOffering, StateAgreeing},
		StateOffering:   {StateOffered},
		StateOffered:    {StateRequested, StateAccepted},
		StateAccepted:   {StateAgreeing},
		StateAgreeing:   {StateAgreed},
		StateAgreed:     {StateVerified},
		StateVerified:   {StateFinalizing},
		StateFinalizing: {StateFinalized},
	},
}
