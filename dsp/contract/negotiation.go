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

// Package contract manages contract negotiation records and their state
// machine.
package contract

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

// ErrIllegalTransition is returned when a state change is not legal for
// this role in the current state.
var ErrIllegalTransition = errors.New("illegal state transition")

// HistoryEntry records a single state change.
type HistoryEntry struct {
	From  State
	To    State
	Cause string
	At    time.Time
}

// Negotiation represents a contract negotiation.
type Negotiation struct {
	providerPID uuid.UUID
	consumerPID uuid.UUID
	state       State
	offer       odrl.Offer
	agreement   *odrl.Agreement
	callback    *url.URL
	self        *url.URL
	role        constants.DataspaceRole
	protocol    string
	autoAccept  bool
	createdAt   time.Time
	history     []HistoryEntry
	errorDetail string
	lastAcks    map[string][]byte

	initial  bool
	ro       bool
	modified bool
}

type storableNegotiation struct {
	ProviderPID uuid.UUID
	ConsumerPID uuid.UUID
	State       State
	Offer       odrl.Offer
	Agreement   *odrl.Agreement
	Callback    *url.URL
	Self        *url.URL
	Role        constants.DataspaceRole
	Protocol    string
	AutoAccept  bool
	CreatedAt   time.Time
	History     []HistoryEntry
	ErrorDetail string
	LastAcks    map[string][]byte
}

func New(
	providerPID, consumerPID uuid.UUID,
	state State,
	offer odrl.Offer,
	callback, self *url.URL,
	role constants.DataspaceRole,
	autoAccept bool,
) *Negotiation {
	return &Negotiation{
		providerPID: providerPID,
		consumerPID: consumerPID,
		state:       state,
		offer:       offer,
		callback:    callback,
		self:        self,
		role:        role,
		protocol:    constants.DefaultProtocol,
		autoAccept:  autoAccept,
		createdAt:   time.Now().UTC(),
		lastAcks:    map[string][]byte{},
		modified:    true,
	}
}

// GenerateStorageKey generates a key for a contract negotiation.
func GenerateStorageKey(id uuid.UUID, role constants.DataspaceRole) []byte {
	return []byte("negotiation-" + id.String() + "-" + strconv.Itoa(int(role)))
}

func FromBytes(b []byte) (*Negotiation, error) {
	var sn storableNegotiation
	r := bytes.NewReader(b)
	dec := gob.NewDecoder(r)
	if err := dec.Decode(&sn); err != nil {
		return nil, fmt.Errorf("could not decode bytes into storableNegotiation: %w", err)
	}
	acks := sn.LastAcks
	if acks == nil {
		acks = map[string][]byte{}
	}
	return &Negotiation{
		providerPID: sn.ProviderPID,
		consumerPID: sn.ConsumerPID,
		state:       sn.State,
		offer:       sn.Offer,
		agreement:   sn.Agreement,
		callback:    sn.Callback,
		self:        sn.Self,
		role:        sn.Role,
		protocol:    sn.Protocol,
		autoAccept:  sn.AutoAccept,
		createdAt:   sn.CreatedAt,
		history:     sn.History,
		errorDetail: sn.ErrorDetail,
		lastAcks:    acks,
	}, nil
}

func (cn *Negotiation) ToBytes() ([]byte, error) {
	s := storableNegotiation{
		ProviderPID: cn.providerPID,
		ConsumerPID: cn.consumerPID,
		State:       cn.state,
		Offer:       cn.offer,
		Agreement:   cn.agreement,
		Callback:    cn.callback,
		Self:        cn.self,
		Role:        cn.role,
		Protocol:    cn.protocol,
		AutoAccept:  cn.autoAccept,
		CreatedAt:   cn.createdAt,
		History:     cn.history,
		ErrorDetail: cn.errorDetail,
		LastAcks:    cn.lastAcks,
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("could not encode negotiation: %w", err)
	}
	return buf.Bytes(), nil
}

// Negotiation getters.
func (cn *Negotiation) GetProviderPID() uuid.UUID        { return cn.providerPID }
func (cn *Negotiation) GetConsumerPID() uuid.UUID        { return cn.consumerPID }
func (cn *Negotiation) GetState() State                  { return cn.state }
func (cn *Negotiation) GetOffer() odrl.Offer             { return cn.offer }
func (cn *Negotiation) GetAgreement() *odrl.Agreement    { return cn.agreement }
func (cn *Negotiation) GetRole() constants.DataspaceRole { return cn.role }
func (cn *Negotiation) GetCallback() *url.URL            { return cn.callback }
func (cn *Negotiation) GetSelf() *url.URL                { return cn.self }
func (cn *Negotiation) GetProtocol() string              { return cn.protocol }
func (cn *Negotiation) GetCreatedAt() time.Time          { return cn.createdAt }
func (cn *Negotiation) GetErrorDetail() string           { return cn.errorDetail }
func (cn *Negotiation) GetContract() *Negotiation        { return cn }

// GetHistory returns a copy of the state change log.
func (cn *Negotiation) GetHistory() []HistoryEntry {
	return slices.Clone(cn.history)
}

func (cn *Negotiation) GetLocalPID() uuid.UUID {
	switch cn.role {
	case constants.DataspaceConsumer:
		return cn.GetConsumerPID()
	case constants.DataspaceProvider:
		return cn.GetProviderPID()
	default:
		panic("not a valid role")
	}
}

func (cn *Negotiation) GetRemotePID() uuid.UUID {
	switch cn.role {
	case constants.DataspaceConsumer:
		return cn.GetProviderPID()
	case constants.DataspaceProvider:
		return cn.GetConsumerPID()
	default:
		panic("not a valid role")
	}
}

// GetLogFields will return relevant log fields for the negotiation.
// The suffix argument will append a suffix to the keys.
func (cn *Negotiation) GetLogFields(suffix string) []any {
	callback := ""
	if cn.callback != nil {
		callback = cn.callback.String()
	}
	self := ""
	if cn.self != nil {
		self = cn.self.String()
	}
	return []any{
		"role" + suffix, cn.role.String(),
		"consumerPID" + suffix, cn.GetConsumerPID().String(),
		"providerPID" + suffix, cn.GetProviderPID().String(),
		"state" + suffix, cn.GetState().String(),
		"callBack" + suffix, callback,
		"selfURL" + suffix, self,
		"autoAccept" + suffix, cn.AutoAccept(),
	}
}

// Negotiation setters, these will panic when the negotiation is RO.
// The process IDs are immutable once set, setting them again is a bug.
func (cn *Negotiation) SetProviderPID(u uuid.UUID) error {
	cn.panicRO()
	if cn.providerPID != (uuid.UUID{}) && cn.providerPID != u {
		return fmt.Errorf("provider PID already set to %s", cn.providerPID)
	}
	cn.providerPID = u
	cn.modify()
	return nil
}

func (cn *Negotiation) SetConsumerPID(u uuid.UUID) error {
	cn.panicRO()
	if cn.consumerPID != (uuid.UUID{}) && cn.consumerPID != u {
		return fmt.Errorf("consumer PID already set to %s", cn.consumerPID)
	}
	cn.consumerPID = u
	cn.modify()
	return nil
}

func (cn *Negotiation) SetAgreement(a *odrl.Agreement) {
	cn.panicRO()
	cn.agreement = a
	cn.modify()
}

// SetState transitions the negotiation. Termination is legal from every
// non-terminal state, everything else has to be in the role's transition
// table. Every successful change is recorded in the history log.
func (cn *Negotiation) SetState(state State, cause string) error {
	cn.panicRO()
	if err := cn.checkTransition(state); err != nil {
		return err
	}
	cn.history = append(cn.history, HistoryEntry{
		From:  cn.state,
		To:    state,
		Cause: cause,
		At:    time.Now().UTC(),
	})
	cn.state = state
	cn.modify()
	return nil
}

func (cn *Negotiation) checkTransition(state State) error {
	if cn.state.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrIllegalTransition, cn.state)
	}
	if state == StateTerminating || state == StateTerminated {
		return nil
	}
	if cn.state == StateTerminating && state != StateTerminated {
		return fmt.Errorf("%w: can't leave %s except to %s",
			ErrIllegalTransition, cn.state, StateTerminated)
	}
	if !slices.Contains(validTransitions[cn.role][cn.state], state) {
		return fmt.Errorf("%w: can't transition from %s to %s as %s",
			ErrIllegalTransition, cn.state, state, cn.role)
	}
	return nil
}

// SetErrorDetail records why a negotiation went to a terminated state.
func (cn *Negotiation) SetErrorDetail(detail string) {
	cn.panicRO()
	cn.errorDetail = detail
	cn.modify()
}

// SetCallback sets the remote callback root.
func (cn *Negotiation) SetCallback(u string) error {
	cn.panicRO()
	nu, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	cn.callback = nu
	cn.modify()
	return nil
}

// SetAck stores the acknowledgement body that was returned for a message
// type, so replays of the same message get the same answer.
func (cn *Negotiation) SetAck(messageType string, body []byte) {
	cn.panicRO()
	if cn.lastAcks == nil {
		cn.lastAcks = map[string][]byte{}
	}
	cn.lastAcks[messageType] = body
	cn.modify()
}

// GetAck returns the stored acknowledgement for a message type.
func (cn *Negotiation) GetAck(messageType string) ([]byte, bool) {
	body, ok := cn.lastAcks[messageType]
	return body, ok
}

// AutoAccept is a property that decides if we're going to accept all operations to do with
// this contract negotiation.
func (cn *Negotiation) AutoAccept() bool { return cn.autoAccept }
func (cn *Negotiation) SetAutoAccept()   { cn.autoAccept = true }

// Properties that decisions are based on.
func (cn *Negotiation) ReadOnly() bool { return cn.ro }
func (cn *Negotiation) Initial() bool  { return cn.initial }
func (cn *Negotiation) Modified() bool { return cn.modified }
func (cn *Negotiation) StorageKey() []byte {
	id := cn.consumerPID
	if cn.role == constants.DataspaceProvider {
		id = cn.providerPID
	}
	return GenerateStorageKey(id, cn.role)
}

// Property setters.
func (cn *Negotiation) SetReadOnly()  { cn.ro = true }
func (cn *Negotiation) SetInitial()   { cn.initial = true }
func (cn *Negotiation) UnsetInitial() { cn.initial = false }

// GetContractNegotiation returns a ContractNegotiation message.
func (cn *Negotiation) GetContractNegotiation() shared.ContractNegotiation {
	return shared.ContractNegotiation{
		Context:     shared.GetDSPContext(),
		Type:        "dspace:ContractNegotiation",
		ConsumerPID: cn.GetConsumerPID().URN(),
		ProviderPID: cn.GetProviderPID().URN(),
		State:       cn.GetState().Wire(),
	}
}

// QueryFields exposes the filterable fields for management queries.
func (cn *Negotiation) QueryFields() map[string]any {
	agreementID := ""
	if cn.agreement != nil {
		agreementID = cn.agreement.ID
	}
	counterPartyAddress := ""
	if cn.callback != nil {
		counterPartyAddress = cn.callback.String()
	}
	counterPartyID := cn.offer.Assigner
	if cn.role == constants.DataspaceProvider {
		counterPartyID = cn.offer.Assignee
	}
	return map[string]any{
		"@id":                 cn.GetLocalPID().URN(),
		"@type":               "ContractNegotiation",
		"contractAgreementId": agreementID,
		"counterPartyAddress": counterPartyAddress,
		"counterPartyId":      counterPartyID,
		"protocol":            cn.protocol,
		"state":               cn.state.String(),
		"type":                cn.role.String(),
		"createdAt":           cn.createdAt.Format(time.RFC3339),
	}
}

func (cn *Negotiation) panicRO() {
	if cn.ro {
		panic("Trying to write to a read-only negotiation, this is certainly a bug.")
	}
}

func (cn *Negotiation) modify() {
	cn.modified = true
}
