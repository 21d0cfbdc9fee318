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

package odrl

import (
	"fmt"
	"reflect"
	"strings"
)

// Reason codes for structured policy validation failures.
const (
	ReasonInvalidPolicy    = "InvalidPolicy"
	ReasonMissingRole      = "MissingRole"
	ReasonInvalidTimestamp = "InvalidTimestamp"
	ReasonUnknownAction    = "UnknownAction"
	ReasonUnknownOperand   = "UnknownLeftOperand"
	ReasonUnknownOperator  = "UnknownOperator"
	ReasonInvalidRemedy    = "InvalidRemedy"
	ReasonUnknownConflict  = "UnknownConflictTerm"
	ReasonDanglingOperand  = "DanglingOperand"
)

// Reason is a single structured validation failure.
type Reason struct {
	Code   string
	Path   string
	Detail string
}

func (r Reason) Error() string {
	return fmt.Sprintf("%s at %s: %s", r.Code, r.Path, r.Detail)
}

// ValidationError collects all reasons a policy was rejected for.
type ValidationError struct {
	Reasons []Reason
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		parts[i] = r.Error()
	}
	return "invalid policy: " + strings.Join(parts, "; ")
}

func validationError(reasons []Reason) error {
	if len(reasons) == 0 {
		return nil
	}
	return &ValidationError{Reasons: reasons}
}

// Rules groups the rule lists a policy can carry.
type Rules struct {
	Permissions  []Permission
	Prohibitions []Prohibition
	Obligations  []Obligation
}

func (r Rules) empty() bool {
	return len(r.Permissions) == 0 && len(r.Prohibitions) == 0 && len(r.Obligations) == 0
}

func (r Rules) apply(pc *PolicyClass) {
	pc.Permission = r.Permissions
	pc.Prohibition = r.Prohibitions
	pc.Obligation = r.Obligations
}

// NewSet creates a Set policy. It fails with an InvalidPolicy reason if no
// rules are given, and with the relevant rule reasons if any rule is
// invalid.
func NewSet(id string, rules Rules) (*Set, error) {
	s := &Set{
		PolicyClass: PolicyClass{ID: id},
		Type:        "odrl:Set",
	}
	rules.apply(&s.PolicyClass)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewOffer creates an Offer policy, which requires an assigner.
func NewOffer(id, assigner, target string, rules Rules) (*Offer, error) {
	o := &Offer{
		MessageOffer: MessageOffer{
			PolicyClass: PolicyClass{ID: id, Assigner: assigner},
			Type:        "odrl:Offer",
			Target:      target,
		},
	}
	rules.apply(&o.PolicyClass)
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// NewAgreement creates an Agreement policy, which requires both party
// roles and a timestamp conforming to the ISO-8601 grammar.
func NewAgreement(id, assigner, assignee, target, timestamp string, rules Rules) (*Agreement, error) {
	ts, err := ParseTimestamp(timestamp)
	if err != nil {
		return nil, validationError([]Reason{{
			Code:   ReasonInvalidTimestamp,
			Path:   "dspace:timestamp",
			Detail: err.Error(),
		}})
	}
	a := &Agreement{
		PolicyClass: PolicyClass{ID: id, Assigner: assigner, Assignee: assignee},
		Type:        "odrl:Agreement",
		Target:      target,
		Timestamp:   ts,
	}
	rules.apply(&a.PolicyClass)
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks the set against the policy invariants and returns a
// *ValidationError carrying all reasons, or nil.
func (s *Set) Validate() error {
	return validationError(s.PolicyClass.validate("odrl:Set"))
}

// Validate checks the offer, which additionally requires an assigner.
func (o *MessageOffer) Validate() error {
	reasons := o.PolicyClass.validate("odrl:Offer")
	if o.Assigner == "" {
		reasons = append(reasons, Reason{
			Code:   ReasonMissingRole,
			Path:   "odrl:assigner",
			Detail: "an offer requires an assigner",
		})
	}
	return validationError(reasons)
}

// Validate checks the agreement, which additionally requires both party
// roles and a valid timestamp.
func (a *Agreement) Validate() error {
	reasons := a.PolicyClass.validate("odrl:Agreement")
	if a.Assigner == "" {
		reasons = append(reasons, Reason{
			Code:   ReasonMissingRole,
			Path:   "odrl:assigner",
			Detail: "an agreement requires an assigner",
		})
	}
	if a.Assignee == "" {
		reasons = append(reasons, Reason{
			Code:   ReasonMissingRole,
			Path:   "odrl:assignee",
			Detail: "an agreement requires an assignee",
		})
	}
	if a.Timestamp.IsZero() {
		reasons = append(reasons, Reason{
			Code:   ReasonInvalidTimestamp,
			Path:   "dspace:timestamp",
			Detail: "an agreement requires a timestamp",
		})
	}
	return validationError(reasons)
}

func (pc *PolicyClass) validate(path string) []Reason {
	var reasons []Reason
	if len(pc.Permission) == 0 && len(pc.Prohibition) == 0 && len(pc.Obligation) == 0 {
		reasons = append(reasons, Reason{
			Code:   ReasonInvalidPolicy,
			Path:   path,
			Detail: "a policy requires at least one rule",
		})
	}
	if pc.Conflict != "" && !ValidConflictTerm(pc.Conflict) {
		reasons = append(reasons, Reason{
			Code:   ReasonUnknownConflict,
			Path:   path + ".odrl:conflict",
			Detail: pc.Conflict,
		})
	}

	index := pc.constraintIndex()
	for i, p := range pc.Permission {
		rulePath := fmt.Sprintf("%s.odrl:permission[%d]", path, i)
		reasons = append(reasons, p.RuleHeader.validate(rulePath, index)...)
		for j, d := range p.Duties {
			reasons = append(reasons, d.validate(fmt.Sprintf("%s.odrl:duty[%d]", rulePath, j), index)...)
		}
	}
	for i, p := range pc.Prohibition {
		rulePath := fmt.Sprintf("%s.odrl:prohibition[%d]", path, i)
		reasons = append(reasons, p.RuleHeader.validate(rulePath, index)...)
		for j, remedy := range p.Remedies {
			remedyPath := fmt.Sprintf("%s.odrl:remedy[%d]", rulePath, j)
			reasons = append(reasons, remedy.validate(remedyPath, index)...)
			if len(remedy.Consequences) > 0 {
				reasons = append(reasons, Reason{
					Code:   ReasonInvalidRemedy,
					Path:   remedyPath,
					Detail: "a remedy duty must not carry consequences",
				})
			}
		}
	}
	for i, o := range pc.Obligation {
		rulePath := fmt.Sprintf("%s.odrl:obligation[%d]", path, i)
		reasons = append(reasons, o.RuleHeader.validate(rulePath, index)...)
		if o.assigner(pc) == "" {
			reasons = append(reasons, Reason{
				Code:   ReasonMissingRole,
				Path:   rulePath,
				Detail: "an obligation requires an assigner",
			})
		}
		if o.assignee(pc) == "" {
			reasons = append(reasons, Reason{
				Code:   ReasonMissingRole,
				Path:   rulePath,
				Detail: "an obligation requires an assignee",
			})
		}
		for j, c := range o.Consequences {
			reasons = append(reasons, c.validate(fmt.Sprintf("%s.odrl:consequence[%d]", rulePath, j), index)...)
		}
	}
	return reasons
}

// Party roles on an obligation can be inherited from the policy.
func (o Obligation) assigner(pc *PolicyClass) string {
	if o.Assigner != "" {
		return o.Assigner
	}
	return pc.Assigner
}

func (o Obligation) assignee(pc *PolicyClass) string {
	if o.Assignee != "" {
		return o.Assignee
	}
	return pc.Assignee
}

func (rh RuleHeader) validate(path string, index constraintIndex) []Reason {
	var reasons []Reason
	if !ValidAction(rh.Action.Name) {
		reasons = append(reasons, Reason{
			Code:   ReasonUnknownAction,
			Path:   path + ".odrl:action",
			Detail: rh.Action.Name,
		})
	}
	for i, c := range rh.Action.Refinements {
		reasons = append(reasons, c.validate(fmt.Sprintf("%s.odrl:action.odrl:refinement[%d]", path, i))...)
	}
	if rh.Action.Refinement != nil {
		reasons = append(reasons, rh.Action.Refinement.validate(path+".odrl:action.odrl:refinement", index)...)
	}
	for i, c := range rh.Constraints {
		reasons = append(reasons, c.validate(fmt.Sprintf("%s.odrl:constraint[%d]", path, i))...)
	}
	return reasons
}

func (d Duty) validate(path string, index constraintIndex) []Reason {
	reasons := d.RuleHeader.validate(path, index)
	for i, c := range d.PreConditions {
		reasons = append(reasons, c.validate(fmt.Sprintf("%s.odrl:precondition[%d]", path, i))...)
	}
	for i, consequence := range d.Consequences {
		reasons = append(reasons, consequence.validate(fmt.Sprintf("%s.odrl:consequence[%d]", path, i), index)...)
	}
	return reasons
}

func (c Constraint) validate(path string) []Reason {
	var reasons []Reason
	if !ValidLeftOperand(c.LeftOperand) {
		reasons = append(reasons, Reason{
			Code:   ReasonUnknownOperand,
			Path:   path + ".odrl:leftOperand",
			Detail: c.LeftOperand,
		})
	}
	if !ValidOperator(c.Operator) {
		reasons = append(reasons, Reason{
			Code:   ReasonUnknownOperator,
			Path:   path + ".odrl:operator",
			Detail: c.Operator,
		})
	}
	return reasons
}

func (lc LogicalConstraint) validate(path string, index constraintIndex) []Reason {
	var reasons []Reason
	if !ValidLogicalOperator(lc.Operator) {
		reasons = append(reasons, Reason{
			Code:   ReasonUnknownOperator,
			Path:   path + ".odrl:operator",
			Detail: lc.Operator,
		})
	}
	for i, operand := range lc.Operands {
		if _, found := index[operand.ID]; !found {
			reasons = append(reasons, Reason{
				Code:   ReasonDanglingOperand,
				Path:   fmt.Sprintf("%s.odrl:operand[%d]", path, i),
				Detail: operand.ID,
			})
		}
	}
	return reasons
}

// constraintIndex materializes every constraint reachable from a policy,
// keyed by id, so logical constraints can reference them without ownership
// cycles.
type constraintIndex map[string]*Constraint

// Resolve looks up a constraint by id.
func (ci constraintIndex) Resolve(id string) (*Constraint, bool) {
	c, ok := ci[id]
	return c, ok
}

func (pc *PolicyClass) constraintIndex() constraintIndex {
	index := constraintIndex{}
	addConstraints := func(cs []Constraint) {
		for i := range cs {
			if cs[i].ID != "" {
				index[cs[i].ID] = &cs[i]
			}
		}
	}
	var addHeader func(rh *RuleHeader)
	addHeader = func(rh *RuleHeader) {
		addConstraints(rh.Constraints)
		addConstraints(rh.Action.Refinements)
	}
	var addDuties func(ds []Duty)
	addDuties = func(ds []Duty) {
		for i := range ds {
			addHeader(&ds[i].RuleHeader)
			addConstraints(ds[i].PreConditions)
			addDuties(ds[i].Consequences)
		}
	}
	for i := range pc.Permission {
		addHeader(&pc.Permission[i].RuleHeader)
		addDuties(pc.Permission[i].Duties)
	}
	for i := range pc.Prohibition {
		addHeader(&pc.Prohibition[i].RuleHeader)
		addDuties(pc.Prohibition[i].Remedies)
	}
	for i := range pc.Obligation {
		addHeader(&pc.Obligation[i].RuleHeader)
		addDuties(pc.Obligation[i].Consequences)
	}
	return index
}

// Clone returns a deep copy of the policy body.
func (pc PolicyClass) Clone() PolicyClass {
	clone := pc
	clone.Profile = cloneSlice(pc.Profile)
	clone.InheritFrom = cloneSlice(pc.InheritFrom)
	clone.Permission = make([]Permission, len(pc.Permission))
	for i, p := range pc.Permission {
		clone.Permission[i] = Permission{
			RuleHeader: p.RuleHeader.clone(),
			Duties:     cloneDuties(p.Duties),
		}
	}
	clone.Prohibition = make([]Prohibition, len(pc.Prohibition))
	for i, p := range pc.Prohibition {
		clone.Prohibition[i] = Prohibition{
			RuleHeader: p.RuleHeader.clone(),
			Remedies:   cloneDuties(p.Remedies),
		}
	}
	clone.Obligation = make([]Obligation, len(pc.Obligation))
	for i, o := range pc.Obligation {
		clone.Obligation[i] = Obligation{
			RuleHeader:   o.RuleHeader.clone(),
			Consequences: cloneDuties(o.Consequences),
		}
	}
	if len(pc.Permission) == 0 {
		clone.Permission = nil
	}
	if len(pc.Prohibition) == 0 {
		clone.Prohibition = nil
	}
	if len(pc.Obligation) == 0 {
		clone.Obligation = nil
	}
	return clone
}

// Clone returns a deep copy of the offer.
func (o Offer) Clone() Offer {
	clone := o
	clone.PolicyClass = o.PolicyClass.Clone()
	return clone
}

// Clone returns a deep copy of the agreement.
func (a Agreement) Clone() Agreement {
	clone := a
	clone.PolicyClass = a.PolicyClass.Clone()
	return clone
}

// Equal reports deep equality between two policy bodies.
func (pc PolicyClass) Equal(other PolicyClass) bool {
	return reflect.DeepEqual(pc, other)
}

// Equal reports deep equality between two sets.
func (s Set) Equal(other Set) bool {
	return reflect.DeepEqual(s, other)
}

// Equal reports deep equality between two agreements.
func (a Agreement) Equal(other Agreement) bool {
	return reflect.DeepEqual(a, other)
}

func (rh RuleHeader) clone() RuleHeader {
	clone := rh
	clone.Constraints = cloneSlice(rh.Constraints)
	clone.Action.Refinements = cloneSlice(rh.Action.Refinements)
	if rh.Action.Refinement != nil {
		logical := *rh.Action.Refinement
		logical.Operands = cloneSlice(rh.Action.Refinement.Operands)
		clone.Action.Refinement = &logical
	}
	return clone
}

func cloneDuties(ds []Duty) []Duty {
	if ds == nil {
		return nil
	}
	clone := make([]Duty, len(ds))
	for i, d := range ds {
		clone[i] = Duty{
			RuleHeader:    d.RuleHeader.clone(),
			Consequences:  cloneDuties(d.Consequences),
			PreConditions: cloneSlice(d.PreConditions),
		}
	}
	return clone
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	clone := make([]T, len(s))
	copy(clone, s)
	return clone
}
