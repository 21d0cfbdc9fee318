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

package transfer

import "fmt"

// State is a transfer process state. Like the negotiation states, the
// settled ones are protocol states. The -ing ones mark an outbound message
// in flight, and the provisioning tier tracks data plane work that happens
// between protocol states without ever showing up on the wire.
type State string

const (
	StateInitial    State = "INITIAL"
	StateRequested  State = "REQUESTED"
	StateStarted    State = "STARTED"
	StateSuspended  State = "SUSPENDED"
	StateCompleted  State = "COMPLETED"
	StateTerminated State = "TERMINATED"

	StateRequesting  State = "REQUESTING"
	StateStarting    State = "STARTING"
	StateSuspending  State = "SUSPENDING"
	StateCompleting  State = "COMPLETING"
	StateTerminating State = "TERMINATING"

	StateProvisioning            State = "PROVISIONING"
	StateProvisioningRequested   State = "PROVISIONING_REQUESTED"
	StateProvisioned             State = "PROVISIONED"
	StateResuming                State = "RESUMING"
	StateResumed                 State = "RESUMED"
	StateDeprovisioning          State = "DEPROVISIONING"
	StateDeprovisioningRequested State = "DEPROVISIONING_REQUESTED"
	StateDeprovisioned           State = "DEPROVISIONED"
)

var allStates = []State{
	StateInitial, StateRequested, StateStarted, StateSuspended,
	StateCompleted, StateTerminated,
	StateRequesting, StateStarting, StateSuspending, StateCompleting,
	StateTerminating,
	StateProvisioning, StateProvisioningRequested, StateProvisioned,
	StateResuming, StateResumed,
	StateDeprovisioning, StateDeprovisioningRequested, StateDeprovisioned,
}

// settled maps every internal state to the protocol state the counterparty
// sees while we are in it.
var settled = map[State]State{
	StateRequesting:  StateRequested,
	StateStarting:    StateStarted,
	StateSuspending:  StateSuspended,
	StateCompleting:  StateCompleted,
	StateTerminating: StateTerminated,

	StateProvisioning:            StateRequested,
	StateProvisioningRequested:   StateRequested,
	StateProvisioned:             StateRequested,
	StateResuming:                StateSuspended,
	StateResumed:                 StateSuspended,
	StateDeprovisioning:          StateCompleted,
	StateDeprovisioningRequested: StateCompleted,
	StateDeprovisioned:           StateCompleted,
}

var validTransferTransitions = map[State][]State{
	StateInitial:    {StateRequesting, StateRequested},
	StateRequesting: {StateRequested},
	StateRequested:  {StateProvisioning, StateStarting, StateStarted},
	StateStarted:    {StateSuspending, StateSuspended, StateCompleting, StateCompleted},
	StateSuspending: {StateSuspended},
	StateSuspended:  {StateResuming, StateStarting, StateStarted},
	StateStarting:   {StateStarted},
	StateCompleting: {StateCompleted},
	StateCompleted:  {StateDeprovisioning, StateDeprovisioned},

	StateProvisioning:            {StateProvisioningRequested, StateProvisioned},
	StateProvisioningRequested:   {StateProvisioned},
	StateProvisioned:             {StateStarting, StateStarted},
	StateResuming:                {StateResumed},
	StateResumed:                 {StateStarting, StateStarted},
	StateDeprovisioning:          {StateDeprovisioningRequested, StateDeprovisioned},
	StateDeprovisioningRequested: {StateDeprovisioned},
}

func ParseState(s string) (State, error) {
	for _, state := range allStates {
		if string(state) == s {
			return state, nil
		}
	}
	return StateInitial, fmt.Errorf("invalid transfer state: %s", s)
}

func (s State) String() string { return string(s) }

func (s State) Settled() State {
	if target, ok := settled[s]; ok {
		return target
	}
	return s
}

func (s State) Intermediate() bool {
	_, ok := settled[s]
	return ok
}

func (s State) Terminal() bool {
	return s == StateDeprovisioned || s == StateTerminated
}

// Wire returns the state as carried in protocol messages.
func (s State) Wire() string {
	return "dspace:" + string(s.Settled())
}

func (s State) GobEncode() ([]byte, error) {
	return []byte(s), nil
}

func (s *State) GobDecode(b []byte) error {
	parsed, err := ParseState(string(b))
	if err != nil {
		return err
	}

	*s = parsed
	return nil
}
