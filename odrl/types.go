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

// Package odrl contains the ODRL policy model used as negotiation payload.
package odrl

import (
	"encoding/json"
	"fmt"
)

// Reference is a JSON-LD id reference.
type Reference struct {
	ID string `json:"@id,omitempty" validate:"required"`
}

// Action is an ODRL action. On the wire it is either a bare name, or an
// object carrying refinements: a constraint list or a single logical
// constraint.
type Action struct {
	Name        string
	Refinements []Constraint
	Refinement  *LogicalConstraint
}

type actionObject struct {
	ID         string          `json:"@id"`
	Refinement json.RawMessage `json:"odrl:refinement,omitempty"`
}

// UnmarshalJSON accepts an action as a plain name string or as an object
// with refinements. Refinements accept a constraint list, a single
// constraint object, or a logical constraint.
func (a *Action) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*a = Action{Name: name}
		return nil
	}

	var obj actionObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("couldn't unmarshal Action: %s", data)
	}
	a.Name = obj.ID
	a.Refinements = nil
	a.Refinement = nil
	if len(obj.Refinement) == 0 {
		return nil
	}

	var list []Constraint
	if err := json.Unmarshal(obj.Refinement, &list); err == nil {
		a.Refinements = list
		return nil
	}
	var single Constraint
	if err := json.Unmarshal(obj.Refinement, &single); err == nil && single.LeftOperand != "" {
		a.Refinements = []Constraint{single}
		return nil
	}
	var logical LogicalConstraint
	if err := json.Unmarshal(obj.Refinement, &logical); err == nil && logical.Operator != "" {
		a.Refinement = &logical
		return nil
	}
	return fmt.Errorf("couldn't unmarshal Action refinement: %s", obj.Refinement)
}

// MarshalJSON emits the compact name form when the action carries no
// refinements.
func (a Action) MarshalJSON() ([]byte, error) {
	if len(a.Refinements) == 0 && a.Refinement == nil {
		return json.Marshal(a.Name)
	}
	var refinement json.RawMessage
	var err error
	if a.Refinement != nil {
		refinement, err = json.Marshal(a.Refinement)
	} else {
		refinement, err = json.Marshal(a.Refinements)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(actionObject{ID: a.Name, Refinement: refinement})
}

// Constraint is an atomic ODRL constraint. The right operand is either a
// literal or a reference.
type Constraint struct {
	ID                    string     `json:"@id,omitempty"`
	LeftOperand           string     `json:"odrl:leftOperand" validate:"required,odrl_leftoperand"`
	Operator              string     `json:"odrl:operator" validate:"required,odrl_operator"`
	RightOperand          string     `json:"odrl:rightOperand,omitempty"`
	RightOperandReference *Reference `json:"odrl:rightOperandReference,omitempty"`
	DataType              string     `json:"odrl:dataType,omitempty"`
	Unit                  string     `json:"odrl:unit,omitempty"`
}

// LogicalConstraint combines other constraints by id reference. Referenced
// constraints are resolved through the policy's constraint index, never
// owned.
type LogicalConstraint struct {
	Operator string      `json:"odrl:operator" validate:"required,odrl_logicalop"`
	Operands []Reference `json:"odrl:operand" validate:"required,gte=1,dive"`
}

// RuleHeader holds the fields shared by all rule variants.
type RuleHeader struct {
	ID          string       `json:"@id,omitempty"`
	Action      Action       `json:"odrl:action" validate:"required,odrl_action"`
	Target      string       `json:"odrl:target,omitempty"`
	Assigner    string       `json:"odrl:assigner,omitempty"`
	Assignee    string       `json:"odrl:assignee,omitempty"`
	Constraints []Constraint `json:"odrl:constraint,omitempty" validate:"dive"`
}

// Permission grants an action, optionally bound to duties that activate
// when the permission is exercised.
type Permission struct {
	RuleHeader
	Duties []Duty `json:"odrl:duty,omitempty" validate:"dive"`
}

// Duty is an obligation to exercise an action, optionally with
// consequences when unfulfilled and pre-conditions gating it.
type Duty struct {
	RuleHeader
	Consequences  []Duty       `json:"odrl:consequence,omitempty" validate:"dive"`
	PreConditions []Constraint `json:"odrl:precondition,omitempty" validate:"dive"`
}

// Prohibition forbids an action. Remedies are duties that compensate an
// infringement; a remedy must not carry consequences of its own.
type Prohibition struct {
	RuleHeader
	Remedies []Duty `json:"odrl:remedy,omitempty" validate:"dive"`
}

// Obligation is a standalone duty between an assigner and an assignee.
type Obligation struct {
	RuleHeader
	Consequences []Duty `json:"odrl:consequence,omitempty" validate:"dive"`
}

// PolicyClass is the shared body of all policy variants.
type PolicyClass struct {
	ID          string        `json:"@id" validate:"required"`
	Assigner    string        `json:"odrl:assigner,omitempty"`
	Assignee    string        `json:"odrl:assignee,omitempty"`
	Profile     []Reference   `json:"odrl:profile,omitempty" validate:"dive"`
	InheritFrom []Reference   `json:"odrl:inheritFrom,omitempty" validate:"dive"`
	Conflict    string        `json:"odrl:conflict,omitempty" validate:"omitempty,odrl_conflict"`
	Permission  []Permission  `json:"odrl:permission,omitempty" validate:"dive"`
	Prohibition []Prohibition `json:"odrl:prohibition,omitempty" validate:"dive"`
	Obligation  []Obligation  `json:"odrl:obligation,omitempty" validate:"dive"`
}

// Set is a standalone policy, no party roles required.
type Set struct {
	PolicyClass
	Type string `json:"@type" validate:"required,curie=odrl:Set"`
}

// MessageOffer is the offer payload carried by negotiation messages.
type MessageOffer struct {
	PolicyClass
	Type   string `json:"@type" validate:"required,curie=odrl:Offer"`
	Target string `json:"odrl:target" validate:"required"`
}

// Offer is an ODRL offer, requires an assigner.
type Offer struct {
	MessageOffer
}

// Agreement is an ODRL agreement, requires both party roles and a
// timestamp.
type Agreement struct {
	PolicyClass
	Type      string    `json:"@type" validate:"required,curie=odrl:Agreement"`
	Target    string    `json:"odrl:target" validate:"required"`
	Timestamp Timestamp `json:"dspace:timestamp" validate:"required"`
}
