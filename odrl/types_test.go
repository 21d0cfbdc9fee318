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

package odrl_test

import (
	"encoding/json"
	"testing"

	"github.com/openterms/converge/odrl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionUnmarshalString(t *testing.T) {
	t.Parallel()
	var a odrl.Action
	require.NoError(t, json.Unmarshal([]byte(`"odrl:use"`), &a))
	assert.Equal(t, "odrl:use", a.Name)
	assert.Empty(t, a.Refinements)
	assert.Nil(t, a.Refinement)
}

func TestActionUnmarshalObject(t *testing.T) {
	t.Parallel()
	body := `{
		"@id": "odrl:distribute",
		"odrl:refinement": [
			{"odrl:leftOperand": "odrl:count", "odrl:operator": "odrl:lteq", "odrl:rightOperand": "5"}
		]
	}`
	var a odrl.Action
	require.NoError(t, json.Unmarshal([]byte(body), &a))
	assert.Equal(t, "odrl:distribute", a.Name)
	require.Len(t, a.Refinements, 1)
	assert.Equal(t, "odrl:count", a.Refinements[0].LeftOperand)
}

func TestActionUnmarshalSingleRefinement(t *testing.T) {
	t.Parallel()
	body := `{
		"@id": "odrl:use",
		"odrl:refinement": {"odrl:leftOperand": "odrl:dateTime", "odrl:operator": "odrl:gt", "odrl:rightOperand": "2024-01-01T00:00:00Z"}
	}`
	var a odrl.Action
	require.NoError(t, json.Unmarshal([]byte(body), &a))
	require.Len(t, a.Refinements, 1)
	assert.Equal(t, "odrl:dateTime", a.Refinements[0].LeftOperand)
}

func TestActionUnmarshalLogicalRefinement(t *testing.T) {
	t.Parallel()
	body := `{
		"@id": "odrl:use",
		"odrl:refinement": {
			"odrl:operator": "odrl:and",
			"odrl:operand": [{"@id": "c1"}, {"@id": "c2"}]
		}
	}`
	var a odrl.Action
	require.NoError(t, json.Unmarshal([]byte(body), &a))
	require.NotNil(t, a.Refinement)
	assert.Equal(t, "odrl:and", a.Refinement.Operator)
	assert.Len(t, a.Refinement.Operands, 2)
}

func TestActionMarshalCompact(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(odrl.Action{Name: "odrl:read"})
	require.NoError(t, err)
	assert.JSONEq(t, `"odrl:read"`, string(b))
}

func TestActionMarshalRoundTrip(t *testing.T) {
	t.Parallel()
	orig := odrl.Action{
		Name: "odrl:distribute",
		Refinements: []odrl.Constraint{
			{LeftOperand: "odrl:count", Operator: "odrl:lteq", RightOperand: "5"},
		},
	}
	b, err := json.Marshal(orig)
	require.NoError(t, err)
	var back odrl.Action
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, orig, back)
}

func TestOfferUnmarshal(t *testing.T) {
	t.Parallel()
	body := `{
		"@id": "urn:uuid:d9d24d02-4a0a-4f6e-8b9e-1c9a0b1f2c3d",
		"@type": "odrl:Offer",
		"odrl:target": "urn:uuid:asset-1",
		"odrl:assigner": "urn:provider",
		"odrl:permission": [
			{
				"odrl:action": "use",
				"odrl:constraint": [
					{"odrl:leftOperand": "odrl:spatial", "odrl:operator": "odrl:eq", "odrl:rightOperand": "https://example.com/eu"}
				]
			}
		]
	}`
	var offer odrl.Offer
	require.NoError(t, json.Unmarshal([]byte(body), &offer))
	assert.Equal(t, "odrl:Offer", offer.Type)
	assert.Equal(t, "urn:uuid:asset-1", offer.Target)
	require.Len(t, offer.Permission, 1)
	assert.Equal(t, "use", offer.Permission[0].Action.Name)

	b, err := json.Marshal(offer)
	require.NoError(t, err)
	var back odrl.Offer
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, offer, back)
}

func TestAgreementUnmarshal(t *testing.T) {
	t.Parallel()
	body := `{
		"@id": "urn:uuid:agreement-1",
		"@type": "odrl:Agreement",
		"odrl:target": "urn:uuid:asset-1",
		"odrl:assigner": "urn:provider",
		"odrl:assignee": "urn:consumer",
		"dspace:timestamp": "2024-01-01T01:00:00Z",
		"odrl:permission": [{"odrl:action": "odrl:use"}]
	}`
	var agreement odrl.Agreement
	require.NoError(t, json.Unmarshal([]byte(body), &agreement))
	assert.Equal(t, "urn:provider", agreement.Assigner)
	assert.Equal(t, "2024-01-01T01:00:00Z", agreement.Timestamp.String())
}
