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

package management

import (
	"fmt"
	"time"

	"github.com/openterms/converge/dsp/shared"
	"github.com/openterms/converge/odrl"
)

// Asset is a dataset the provider offers. The data address is never exposed
// on the API, it is only handed out via endpoint data references.
type Asset struct {
	ID                string              `json:"@id" validate:"required"`
	Properties        map[string]any      `json:"properties,omitempty"`
	PrivateProperties map[string]any      `json:"privateProperties,omitempty"`
	DataAddress       *shared.DataAddress `json:"dataAddress,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
}

func (a *Asset) QueryFields() map[string]any {
	fields := map[string]any{
		"@id":       a.ID,
		"@type":     "Asset",
		"createdAt": a.CreatedAt.UTC().Format(time.RFC3339),
	}
	for k, v := range a.Properties {
		fields["properties."+k] = fmt.Sprintf("%v", v)
	}
	return fields
}

// PolicyDefinition wraps an ODRL policy under a stable management ID.
type PolicyDefinition struct {
	ID        string           `json:"@id" validate:"required"`
	Policy    odrl.PolicyClass `json:"policy" validate:"required"`
	CreatedAt time.Time        `json:"createdAt"`
}

func (p *PolicyDefinition) QueryFields() map[string]any {
	return map[string]any{
		"@id":       p.ID,
		"@type":     "PolicyDefinition",
		"createdAt": p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ContractDefinition links an access and a contract policy to the assets
// selected by its criteria. An empty selector matches every asset.
type ContractDefinition struct {
	ID               string      `json:"@id" validate:"required"`
	AccessPolicyID   string      `json:"accessPolicyId" validate:"required"`
	ContractPolicyID string      `json:"contractPolicyId" validate:"required"`
	AssetsSelector   []Criterion `json:"assetsSelector,omitempty" validate:"dive"`
	CreatedAt        time.Time   `json:"createdAt"`
}

func (cd *ContractDefinition) QueryFields() map[string]any {
	return map[string]any{
		"@id":              cd.ID,
		"@type":            "ContractDefinition",
		"accessPolicyId":   cd.AccessPolicyID,
		"contractPolicyId": cd.ContractPolicyID,
		"createdAt":        cd.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Matches reports whether the definition's selector matches the asset.
func (cd *ContractDefinition) Matches(a *Asset) bool {
	return matchesAll(a.QueryFields(), cd.AssetsSelector)
}

// EDREntry records an endpoint data reference handed out for a transfer.
type EDREntry struct {
	TransferProcessID string    `json:"transferProcessId" validate:"required"`
	AgreementID       string    `json:"agreementId" validate:"required"`
	AssetID           string    `json:"assetId" validate:"required"`
	ProviderID        string    `json:"providerId"`
	Token             string    `json:"token,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

func (e *EDREntry) QueryFields() map[string]any {
	return map[string]any{
		"@id":               e.TransferProcessID,
		"@type":             "EDREntry",
		"transferProcessId": e.TransferProcessID,
		"agreementId":       e.AgreementID,
		"assetId":           e.AssetID,
		"providerId":        e.ProviderID,
		"createdAt":         e.CreatedAt.UTC().Format(time.RFC3339),
	}
}
