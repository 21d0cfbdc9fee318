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

import "github.com/openterms/converge/jsonld"

// TransferRequestMessage requests a data transfer.
type TransferRequestMessage struct {
	jsonld.ExtraFields

	Context         jsonld.Context `json:"@context" validate:"required"`
	Type            string         `json:"@type,omitempty" validate:"required,curie=dspace:TransferRequestMessage"`
	AgreementID     string         `json:"dspace:agreementId" validate:"required"`
	Format          string         `json:"dct:format" validate:"required"`
	DataAddress     *DataAddress   `json:"dspace:dataAddress,omitempty"`
	CallbackAddress string         `json:"dspace:callbackAddress" validate:"required"`
	ConsumerPID     string         `json:"dspace:consumerPid" validate:"required"`
}

// TransferStartMessage signals a transfer start.
type TransferStartMessage struct {
	jsonld.ExtraFields

	Context     jsonld.Context `json:"@context" validate:"required"`
	Type        string         `json:"@type,omitempty" validate:"required,curie=dspace:TransferStartMessage"`
	ProviderPID string         `json:"dspace:providerPid" validate:"required"`
	ConsumerPID string         `json:"dspace:consumerPid" validate:"required"`
	DataAddress *DataAddress   `json:"dspace:dataAddress,omitempty"`
}

// TransferSuspensionMessage signals the suspension of a datatransfer.
type TransferSuspensionMessage struct {
	jsonld.ExtraFields

	Context     jsonld.Context  `json:"@context" validate:"required"`
	Type        string          `json:"@type,omitempty" validate:"required,curie=dspace:TransferSuspensionMessage"`
	ProviderPID string          `json:"dspace:providerPid" validate:"required"`
	ConsumerPID string          `json:"dspace:consumerPid" validate:"required"`
	Code        string          `json:"dspace:code,omitempty"`
	Reason      []Multilanguage `json:"dspace:reason,omitempty"`
}

// TransferCompletionMessage signals the completion of a datatransfer.
type TransferCompletionMessage struct {
	jsonld.ExtraFields

	Context     jsonld.Context `json:"@context" validate:"required"`
	Type        string         `json:"@type,omitempty" validate:"required,curie=dspace:TransferCompletionMessage"`
	ProviderPID string         `json:"dspace:providerPid" validate:"required"`
	ConsumerPID string         `json:"dspace:consumerPid" validate:"required"`
}

// TransferTerminationMessage terminates the datatransfer.
type TransferTerminationMessage struct {
	jsonld.ExtraFields

	Context     jsonld.Context  `json:"@context" validate:"required"`
	Type        string          `json:"@type,omitempty" validate:"required,curie=dspace:TransferTerminationMessage"`
	ProviderPID string          `json:"dspace:providerPid" validate:"required"`
	ConsumerPID string          `json:"dspace:consumerPid" validate:"required"`
	Code        string          `json:"dspace:code,omitempty"`
	Reason      []Multilanguage `json:"dspace:reason,omitempty"`
}

// TransferProcess are state change responses.
type TransferProcess struct {
	jsonld.ExtraFields

	Context     jsonld.Context `json:"@context" validate:"required"`
	Type        string         `json:"@type,omitempty" validate:"required,curie=dspace:TransferProcess"`
	ProviderPID string         `json:"dspace:providerPid" validate:"required"`
	ConsumerPID string         `json:"dspace:consumerPid" validate:"required"`
	State       string         `json:"dspace:state" validate:"required,transfer_state"`
}

// TransferError is the error body returned on rejected transfer messages.
type TransferError struct {
	jsonld.ExtraFields

	Context     jsonld.Context  `json:"@context" validate:"required"`
	Type        string          `json:"@type,omitempty" validate:"required,curie=dspace:TransferError"`
	ProviderPID string          `json:"dspace:providerPid,omitempty"`
	ConsumerPID string          `json:"dspace:consumerPid,omitempty"`
	Code        string          `json:"dspace:code,omitempty"`
	Reason      []Multilanguage `json:"dspace:reason,omitempty"`
}

// DataAddress represents a dataspace data address.
type DataAddress struct {
	Type               string             `json:"@type,omitempty" validate:"required,curie=dspace:DataAddress"`
	EndpointType       string             `json:"dspace:endpointType" validate:"required"`
	Endpoint           string             `json:"dspace:endpoint" validate:"required"`
	EndpointProperties []EndpointProperty `json:"dspace:endpointProperties,omitempty" validate:"dive"`
}

// EndpointProperty represents endpoint properties.
type EndpointProperty struct {
	Type  string `json:"@type,omitempty" validate:"required,curie=dspace:EndpointProperty"`
	Name  string `json:"dspace:name" validate:"required"`
	Value string `json:"dspace:value" validate:"required"`
}
