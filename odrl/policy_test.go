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
	"testing"

	"github.com/openterms/converge/odrl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usePermission() odrl.Permission {
	return odrl.Permission{
		RuleHeader: odrl.RuleHeader{Action: odrl.Action{Name: "odrl:use"}},
	}
}

func reasonCodes(t *testing.T, err error) []string {
	t.Helper()
	var verr *odrl.ValidationError
	require.ErrorAs(t, err, &verr)
	codes := make([]string, len(verr.Reasons))
	for i, r := range verr.Reasons {
		codes[i] = r.Code
	}
	return codes
}

func TestNewSet(t *testing.T) {
	t.Parallel()
	set, err := odrl.NewSet("urn:uuid:set-1", odrl.Rules{
		Permissions: []odrl.Permission{usePermission()},
	})
	require.NoError(t, err)
	assert.Equal(t, "odrl:Set", set.Type)

	_, err = odrl.NewSet("urn:uuid:set-2", odrl.Rules{})
	assert.Contains(t, reasonCodes(t, err), odrl.ReasonInvalidPolicy)
}

func TestNewOfferRequiresAssigner(t *testing.T) {
	t.Parallel()
	_, err := odrl.NewOffer("urn:uuid:offer-1", "", "urn:uuid:asset-1", odrl.Rules{
		Permissions: []odrl.Permission{usePermission()},
	})
	assert.Contains(t, reasonCodes(t, err), odrl.ReasonMissingRole)

	offer, err := odrl.NewOffer("urn:uuid:offer-1", "urn:provider", "urn:uuid:asset-1", odrl.Rules{
		Permissions: []odrl.Permission{usePermission()},
	})
	require.NoError(t, err)
	assert.Equal(t, "urn:provider", offer.Assigner)
}

func TestNewAgreement(t *testing.T) {
	t.Parallel()
	_, err := odrl.NewAgreement("urn:uuid:agr-1", "urn:provider", "urn:consumer",
		"urn:uuid:asset-1", "not a timestamp", odrl.Rules{
			Permissions: []odrl.Permission{usePermission()},
		})
	assert.Contains(t, reasonCodes(t, err), odrl.ReasonInvalidTimestamp)

	_, err = odrl.NewAgreement("urn:uuid:agr-1", "urn:provider", "",
		"urn:uuid:asset-1", "2024-01-01T01:00:00Z", odrl.Rules{
			Permissions: []odrl.Permission{usePermission()},
		})
	assert.Contains(t, reasonCodes(t, err), odrl.ReasonMissingRole)

	agreement, err := odrl.NewAgreement("urn:uuid:agr-1", "urn:provider", "urn:consumer",
		"urn:uuid:asset-1", "2024-01-01T01:00:00Z", odrl.Rules{
			Permissions: []odrl.Permission{usePermission()},
		})
	require.NoError(t, err)
	assert.Equal(t, "urn:consumer", agreement.Assignee)
}

func TestValidateUnknownVocabulary(t *testing.T) {
	t.Parallel()
	_, err := odrl.NewSet("urn:uuid:set-1", odrl.Rules{
		Permissions: []odrl.Permission{{
			RuleHeader: odrl.RuleHeader{
				Action: odrl.Action{Name: "odrl:teleport"},
				Constraints: []odrl.Constraint{
					{LeftOperand: "odrl:mood", Operator: "odrl:resembles"},
				},
			},
		}},
	})
	codes := reasonCodes(t, err)
	assert.Contains(t, codes, odrl.ReasonUnknownAction)
	assert.Contains(t, codes, odrl.ReasonUnknownOperand)
	assert.Contains(t, codes, odrl.ReasonUnknownOperator)
}

func TestValidateVocabularyForms(t *testing.T) {
	t.Parallel()
	// Prefixed, full IRI, and bare forms all resolve to the same term.
	for _, name := range []string{
		"odrl:use",
		"http://www.w3.org/ns/odrl/2/use",
		"use",
	} {
		_, err := odrl.NewSet("urn:uuid:set-1", odrl.Rules{
			Permissions: []odrl.Permission{{
				RuleHeader: odrl.RuleHeader{Action: odrl.Action{Name: name}},
			}},
		})
		assert.NoError(t, err, name)
	}
}

func TestValidateRemedyWithConsequences(t *testing.T) {
	t.Parallel()
	_, err := odrl.NewSet("urn:uuid:set-1", odrl.Rules{
		Prohibitions: []odrl.Prohibition{{
			RuleHeader: odrl.RuleHeader{Action: odrl.Action{Name: "odrl:distribute"}},
			Remedies: []odrl.Duty{{
				RuleHeader: odrl.RuleHeader{Action: odrl.Action{Name: "odrl:compensate"}},
				Consequences: []odrl.Duty{{
					RuleHeader: odrl.RuleHeader{Action: odrl.Action{Name: "odrl:inform"}},
				}},
			}},
		}},
	})
	assert.Contains(t, reasonCodes(t, err), odrl.ReasonInvalidRemedy)
}

func TestValidateObligationRoles(t *testing.T) {
	t.Parallel()
	obligation := odrl.Obligation{
		RuleHeader: odrl.RuleHeader{Action: odrl.Action{Name: "odrl:inform"}},
	}
	_, err := odrl.NewSet("urn:uuid:set-1", odrl.Rules{
		Obligations: []odrl.Obligation{obligation},
	})
	codes := reasonCodes(t, err)
	assert.Contains(t, codes, odrl.ReasonMissingRole)

	// Roles inherit from the policy when the rule leaves them out.
	obligation.Assigner = "urn:provider"
	obligation.Assignee = "urn:consumer"
	_, err = odrl.NewSet("urn:uuid:set-1", odrl.Rules{
		Obligations: []odrl.Obligation{obligation},
	})
	assert.NoError(t, err)
}

func TestValidateLogicalOperands(t *testing.T) {
	t.Parallel()
	permission := odrl.Permission{
		RuleHeader: odrl.RuleHeader{
			Action: odrl.Action{
				Name: "odrl:use",
				Refinement: &odrl.LogicalConstraint{
					Operator: "odrl:and",
					Operands: []odrl.Reference{{ID: "c1"}, {ID: "c2"}},
				},
			},
			Constraints: []odrl.Constraint{
				{ID: "c1", LeftOperand: "odrl:count", Operator: "odrl:lteq", RightOperand: "5"},
			},
		},
	}
	_, err := odrl.NewSet("urn:uuid:set-1", odrl.Rules{
		Permissions: []odrl.Permission{permission},
	})
	codes := reasonCodes(t, err)
	assert.Contains(t, codes, odrl.ReasonDanglingOperand)

	permission.Constraints = append(permission.Constraints, odrl.Constraint{
		ID: "c2", LeftOperand: "odrl:dateTime", Operator: "odrl:gt", RightOperand: "2024-01-01T00:00:00Z",
	})
	_, err = odrl.NewSet("urn:uuid:set-1", odrl.Rules{
		Permissions: []odrl.Permission{permission},
	})
	assert.NoError(t, err)
}

func TestValidateConflictTerm(t *testing.T) {
	t.Parallel()
	set := odrl.Set{
		PolicyClass: odrl.PolicyClass{
			ID:         "urn:uuid:set-1",
			Conflict:   "odrl:compromise",
			Permission: []odrl.Permission{usePermission()},
		},
		Type: "odrl:Set",
	}
	err := set.Validate()
	assert.Contains(t, reasonCodes(t, err), odrl.ReasonUnknownConflict)

	set.Conflict = "odrl:perm"
	assert.NoError(t, set.Validate())
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	offer, err := odrl.NewOffer("urn:uuid:offer-1", "urn:provider", "urn:uuid:asset-1", odrl.Rules{
		Permissions: []odrl.Permission{{
			RuleHeader: odrl.RuleHeader{
				Action: odrl.Action{Name: "odrl:use"},
				Constraints: []odrl.Constraint{
					{LeftOperand: "odrl:count", Operator: "odrl:lteq", RightOperand: "5"},
				},
			},
		}},
	})
	require.NoError(t, err)

	clone := offer.Clone()
	clone.Permission[0].Constraints[0].RightOperand = "10"
	assert.Equal(t, "5", offer.Permission[0].Constraints[0].RightOperand)
	assert.False(t, offer.PolicyClass.Equal(clone.PolicyClass))

	same := offer.Clone()
	assert.True(t, offer.PolicyClass.Equal(same.PolicyClass))
}
