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

// Package transfer manages transfer process records.
package transfer

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/openterms/converge/dsp/constants"
	"github.com/openterms/converge/dsp/shared"
	"github.com/openterms/converge/odrl"
)

// ErrIllegalTransition is returned when a state change is not legal in the
// current state.
var ErrIllegalTransition = errors.New("illegal transfer state transition")

type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionPull
	DirectionPush
)

// Request represents a transfer process and its state.
type Request struct {
	state       State
	providerPID uuid.UUID
	consumerPID uuid.UUID
	agreementID uuid.UUID
	target      string
	format      string
	callback    *url.URL
	self        *url.URL
	role        constants.DataspaceRole
	dataAddress *shared.DataAddress
	direction   Direction
	createdAt   time.Time

	ro       bool
	modified bool
}

type storableRequest struct {
	State       State
	ProviderPID uuid.UUID
	ConsumerPID uuid.UUID
	AgreementID uuid.UUID
	Target      string
	Format      string
	Callback    *url.URL
	Self        *url.URL
	Role        constants.DataspaceRole
	DataAddress *shared.DataAddress
	Direction   Direction
	CreatedAt   time.Time
}

func New(
	consumerPID uuid.UUID,
	agreement *odrl.Agreement,
	format string,
	callback, self *url.URL,
	role constants.DataspaceRole,
	state State,
	dataAddress *shared.DataAddress,
) (*Request, error) {
	targetID, err := shared.URNtoRawID(agreement.Target)
	if err != nil {
		return nil, fmt.Errorf("malformed agreement target: %w", err)
	}
	agreementID, err := shared.ParseUUIDURN(agreement.ID)
	if err != nil {
		return nil, fmt.Errorf("malformed agreement ID: %w", err)
	}
	t := &Request{
		state:       state,
		consumerPID: consumerPID,
		agreementID: agreementID,
		target:      targetID,
		format:      format,
		callback:    callback,
		self:        self,
		role:        role,
		dataAddress: dataAddress,
		direction:   DirectionPull,
		createdAt:   time.Now().UTC(),
		modified:    true,
	}
	// A consumer-supplied data address means we push to it.
	if dataAddress != nil {
		t.direction = DirectionPush
	}
	return t, nil
}

func FromBytes(b []byte) (*Request, error) {
	var sr storableRequest
	r := bytes.NewReader(b)
	dec := gob.NewDecoder(r)
	if err := dec.Decode(&sr); err != nil {
		return nil, fmt.Errorf("could not decode bytes into storableRequest: %w", err)
	}
	return &Request{
		state:       sr.State,
		providerPID: sr.ProviderPID,
		consumerPID: sr.ConsumerPID,
		agreementID: sr.AgreementID,
		target:      sr.Target,
		format:      sr.Format,
		callback:    sr.Callback,
		self:        sr.Self,
		role:        sr.Role,
		dataAddress: sr.DataAddress,
		direction:   sr.Direction,
		createdAt:   sr.CreatedAt,
	}, nil
}

func GenerateKey(id uuid.UUID, role constants.DataspaceRole) []byte {
	return []byte("transfer-" + id.String() + "-" + strconv.Itoa(int(role)))
}

// Request getters.
func (tr *Request) GetProviderPID() uuid.UUID          { return tr.providerPID }
func (tr *Request) GetConsumerPID() uuid.UUID          { return tr.consumerPID }
func (tr *Request) GetAgreementID() uuid.UUID          { return tr.agreementID }
func (tr *Request) GetTarget() string                  { return tr.target }
func (tr *Request) GetFormat() string                  { return tr.format }
func (tr *Request) GetCallback() *url.URL              { return tr.callback }
func (tr *Request) GetSelf() *url.URL                  { return tr.self }
func (tr *Request) GetState() State                    { return tr.state }
func (tr *Request) GetRole() constants.DataspaceRole   { return tr.role }
func (tr *Request) GetCreatedAt() time.Time            { return tr.createdAt }
func (tr *Request) GetTransferRequest() *Request       { return tr }
func (tr *Request) GetDataAddress() *shared.DataAddress { return tr.dataAddress }
func (tr *Request) GetDirection() Direction            { return tr.direction }

func (tr *Request) GetLocalPID() uuid.UUID {
	if tr.role == constants.DataspaceProvider {
		return tr.providerPID
	}
	return tr.consumerPID
}

// GetLogFields will return relevant log fields for the transfer.
func (tr *Request) GetLogFields(suffix string) []any {
	return []any{
		"role" + suffix, tr.role.String(),
		"consumerPID" + suffix, tr.consumerPID.String(),
		"providerPID" + suffix, tr.providerPID.String(),
		"state" + suffix, tr.state.String(),
		"agreementID" + suffix, tr.agreementID.String(),
	}
}

// Request setters, these will panic when the transfer is RO.
func (tr *Request) SetDataAddress(da *shared.DataAddress) {
	tr.panicRO()
	tr.dataAddress = da
	tr.modify()
}

func (tr *Request) SetProviderPID(id uuid.UUID) error {
	tr.panicRO()
	if tr.providerPID != (uuid.UUID{}) && tr.providerPID != id {
		return fmt.Errorf("provider PID already set to %s", tr.providerPID)
	}
	tr.providerPID = id
	tr.modify()
	return nil
}

func (tr *Request) SetState(state State) error {
	tr.panicRO()
	if err := tr.checkTransition(state); err != nil {
		return err
	}
	tr.state = state
	tr.modify()
	return nil
}

func (tr *Request) checkTransition(state State) error {
	if tr.state.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrIllegalTransition, tr.state)
	}
	if state == StateTerminating || state == StateTerminated {
		return nil
	}
	if tr.state == StateTerminating && state != StateTerminated {
		return fmt.Errorf("%w: can't leave %s except to %s",
			ErrIllegalTransition, tr.state, StateTerminated)
	}
	if !slices.Contains(validTransferTransitions[tr.state], state) {
		return fmt.Errorf("%w: can't transition from %s to %s",
			ErrIllegalTransition, tr.state, state)
	}
	return nil
}

// Properties that decisions are based on.
func (tr *Request) ReadOnly() bool { return tr.ro }
func (tr *Request) Modified() bool { return tr.modified }
func (tr *Request) StorageKey() []byte {
	id := tr.consumerPID
	if tr.role == constants.DataspaceProvider {
		id = tr.providerPID
	}
	return GenerateKey(id, tr.role)
}

// Property setters.
func (tr *Request) SetReadOnly() { tr.ro = true }

func (tr *Request) ToBytes() ([]byte, error) {
	s := storableRequest{
		State:       tr.state,
		ProviderPID: tr.providerPID,
		ConsumerPID: tr.consumerPID,
		AgreementID: tr.agreementID,
		Target:      tr.target,
		Format:      tr.format,
		Callback:    tr.callback,
		Self:        tr.self,
		Role:        tr.role,
		DataAddress: tr.dataAddress,
		Direction:   tr.direction,
		CreatedAt:   tr.createdAt,
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("could not encode transfer request: %w", err)
	}
	return buf.Bytes(), nil
}

func (tr *Request) GetTransferProcess() shared.TransferProcess {
	return shared.TransferProcess{
		Context:     shared.GetDSPContext(),
		Type:        "dspace:TransferProcess",
		ProviderPID: tr.providerPID.URN(),
		ConsumerPID: tr.consumerPID.URN(),
		State:       tr.state.Wire(),
	}
}

// QueryFields exposes the filterable fields for management queries.
func (tr *Request) QueryFields() map[string]any {
	counterPartyAddress := ""
	if tr.callback != nil {
		counterPartyAddress = tr.callback.String()
	}
	return map[string]any{
		"@id":                 tr.GetLocalPID().URN(),
		"@type":               "TransferProcess",
		"contractAgreementId": tr.agreementID.URN(),
		"counterPartyAddress": counterPartyAddress,
		"protocol":            constants.DefaultProtocol,
		"state":               tr.state.String(),
		"type":                tr.role.String(),
		"createdAt":           tr.createdAt.Format(time.RFC3339),
	}
}

func (tr *Request) panicRO() {
	if tr.ro {
		panic("Trying to write to a read-only request, this is certainly a bug.")
	}
}

func (tr *Request) modify() {
	tr.modified = true
}
