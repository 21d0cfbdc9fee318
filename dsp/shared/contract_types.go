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

package shared

import (
	"github.com/openterms/converge/jsonld"
	"github.com/openterms/converge/odrl"
)

// ContractRequestMessage is a dsp contract request. The callback address is
// checked by the handler instead of the validator, as its absence maps to a
// different status code than other missing fields.
type ContractRequestMessage struct {
	jsonld.ExtraFields

	Context         jsonld.Context    `json:"@context" validate:"required"`
	Type            string            `json:"@type" validate:"required,curie=dspace:ContractRequestMessage"`
	ProviderPID     string            `json:"dspace:providerPid,omitempty"`
	ConsumerPID     string            `json:"dspace:consumerPid" validate:"required"`
	Offer           odrl.MessageOffer `json:"dspace:offer" validate:"required"`
	CallbackAddress string            `json:"dspace:callbackAddress"`
}

// ContractOfferMessage is a DSP contract offer.
type ContractOfferMessage struct {
	jsonld.ExtraFields

	Context         jsonld.Context    `json:"@context" validate:"required"`
	Type            string            `json:"@type" validate:"required,curie=dspace:ContractOfferMessage"`
	ProviderPID     string            `json:"dspace:providerPid" validate:"required"`
	ConsumerPID     string            `json:"dspace:consumerPid"`
	Offer           odrl.MessageOffer `json:"dspace:offer" validate:"required"`
	CallbackAddress string            `json:"dspace:callbackAddress" validate:"required"`
}

// ContractAgreementMessage is a DSP contract agreement.
type ContractAgreementMessage struct {
	jsonld.ExtraFields

	Context         jsonld.Context `json:"@context" validate:"required"`
	Type            string         `json:"@type" validate:"required,curie=dspace:ContractAgreementMessage"`
	ProviderPID     string         `json:"dspace:providerPid" validate:"required"`
	ConsumerPID     string         `json:"dspace:consumerPid"`
	Agreement       odrl.Agreement `json:"dspace:agreement" validate:"required"`
	CallbackAddress string         `json:"dspace:callbackAddress" validate:"required"`
}

// ContractAgreementVerificationMessage verifies the contract agreement.
type ContractAgreementVerificationMessage struct {
	jsonld.ExtraFields

	Context     jsonld.Context `json:"@context" validate:"required"`
	Type        string         `json:"@type" validate:"required,curie=dspace:ContractAgreementVerificationMessage"`
	ProviderPID string         `json:"dspace:providerPid" validate:"required"`
	ConsumerPID string         `json:"dspace:consumerPid" validate:"required"`
}

// ContractNegotiationEventMessage notifies of a contract event.
type ContractNegotiationEventMessage struct {
	jsonld.ExtraFields

	Context     jsonld.Context `json:"@context" validate:"required"`
	Type        string         `json:"@type" validate:"required,curie=dspace:ContractNegotiationEventMessage"`
	ProviderPID string         `json:"dspace:providerPid" validate:"required"`
	ConsumerPID string         `json:"dspace:consumerPid" validate:"required"`
	EventType   string         `json:"dspace:eventType" validate:"required,contract_event"`
}

// ContractNegotiationTerminationMessage terminates the negotiation.
type ContractNegotiationTerminationMessage struct {
	jsonld.ExtraFields

	Context     jsonld.Context  `json:"@context" validate:"required"`
	Type        string          `json:"@type" validate:"required,curie=dspace:ContractNegotiationTerminationMessage"`
	ProviderPID string          `json:"dspace:providerPid" validate:"required"`
	ConsumerPID string          `json:"dspace:consumerPid" validate:"required"`
	Code        string          `json:"dspace:code"`
	Reason      []Multilanguage `json:"dspace:reason"`
}

// ContractNegotiation is a response to show the state of the contract negotiation.
type ContractNegotiation struct {
	jsonld.ExtraFields

	Context     jsonld.Context `json:"@context" validate:"required"`
	Type        string         `json:"@type" validate:"required,curie=dspace:ContractNegotiation"`
	ProviderPID string         `json:"dspace:providerPid" validate:"required"`
	ConsumerPID string         `json:"dspace:consumerPid" validate:"required"`
	State       string         `json:"dspace:state" validate:"required,contract_state"`
}

// ContractNegotiationError is the error body returned on rejected
// negotiation messages.
type ContractNegotiationError struct {
	jsonld.ExtraFields

	Context     jsonld.Context  `json:"@context" validate:"required"`
	Type        string          `json:"@type" validate:"required,curie=dspace:ContractNegotiationError"`
	ProviderPID string          `json:"dspace:providerPid,omitempty"`
	ConsumerPID string          `json:"dspace:consumerPid,omitempty"`
	Code        string          `json:"dspace:code,omitempty"`
	Reason      []Multilanguage `json:"dspace:reason,omitempty"`
	Description []Multilanguage `json:"dct:description,omitempty"`
}
