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

import "github.com/openterms/converge/jsonld"

// The ODRL vocabularies are closed: anything not listed here fails
// validation. Values are accepted in prefixed, full IRI, or bare form.

var actions = []string{
	"odrl:delete",
	"odrl:execute",
	"cc:SourceCode",
	"odrl:anonymize",
	"odrl:extract",
	"odrl:read",
	"odrl:index",
	"odrl:compensate",
	"odrl:sell",
	"odrl:derive",
	"odrl:ensureExclusivity",
	"odrl:annotate",
	"cc:Reproduction",
	"odrl:translate",
	"odrl:include",
	"cc:DerivativeWorks",
	"cc:Distribution",
	"odrl:textToSpeech",
	"odrl:inform",
	"odrl:grantUse",
	"odrl:archive",
	"odrl:modify",
	"odrl:aggregate",
	"odrl:attribute",
	"odrl:nextPolicy",
	"odrl:digitize",
	"cc:Attribution",
	"odrl:install",
	"odrl:concurrentUse",
	"odrl:distribute",
	"odrl:synchronize",
	"odrl:move",
	"odrl:obtainConsent",
	"odrl:print",
	"cc:Notice",
	"odrl:give",
	"odrl:uninstall",
	"cc:Sharing",
	"odrl:reviewPolicy",
	"odrl:watermark",
	"odrl:play",
	"odrl:reproduce",
	"odrl:transform",
	"odrl:display",
	"odrl:stream",
	"cc:ShareAlike",
	"odrl:acceptTracking",
	"cc:CommercialUse",
	"odrl:present",
	"odrl:use",
}

var leftOperands = []string{
	"odrl:absolutePosition",
	"odrl:absoluteSize",
	"odrl:absoluteSpatialPosition",
	"odrl:absoluteTemporalPosition",
	"odrl:count",
	"odrl:dateTime",
	"odrl:delayPeriod",
	"odrl:deliveryChannel",
	"odrl:device",
	"odrl:elapsedTime",
	"odrl:event",
	"odrl:fileFormat",
	"odrl:industry",
	"odrl:language",
	"odrl:media",
	"odrl:meteredTime",
	"odrl:payAmount",
	"odrl:percentage",
	"odrl:product",
	"odrl:purpose",
	"odrl:recipient",
	"odrl:relativePosition",
	"odrl:relativeSize",
	"odrl:relativeSpatialPosition",
	"odrl:relativeTemporalPosition",
	"odrl:resolution",
	"odrl:spatial",
	"odrl:spatialCoordinates",
	"odrl:system",
	"odrl:systemDevice",
	"odrl:timeInterval",
	"odrl:unitOfCount",
	"odrl:version",
	"odrl:virtualLocation",
}

var operators = []string{
	"odrl:eq",
	"odrl:neq",
	"odrl:gt",
	"odrl:gteq",
	"odrl:lt",
	"odrl:lteq",
	"odrl:hasPart",
	"odrl:isA",
	"odrl:isAllOf",
	"odrl:isAnyOf",
	"odrl:isNoneOf",
	"odrl:isPartOf",
}

var logicalOperators = []string{
	"odrl:and",
	"odrl:or",
	"odrl:xone",
	"odrl:andSequence",
}

var conflictTerms = []string{
	"odrl:perm",
	"odrl:prohibit",
	"odrl:invalid",
}

func buildIRISet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[jsonld.Expand(n)] = struct{}{}
	}
	return set
}

var (
	actionIRIs     = buildIRISet(actions)
	leftOpIRIs     = buildIRISet(leftOperands)
	operatorIRIs   = buildIRISet(operators)
	logicalOpIRIs  = buildIRISet(logicalOperators)
	conflictIRIs   = buildIRISet(conflictTerms)
)

func inVocab(set map[string]struct{}, s string) bool {
	if _, ok := set[jsonld.Expand(s)]; ok {
		return true
	}
	// Bare terms resolve via the @vocab of the ODRL context.
	_, ok := set[jsonld.ODRLNS+s]
	return ok
}

// ValidAction reports whether the given name is part of the closed ODRL
// action vocabulary.
func ValidAction(s string) bool { return inVocab(actionIRIs, s) }

// ValidLeftOperand reports whether the given name is a known constraint
// left operand.
func ValidLeftOperand(s string) bool { return inVocab(leftOpIRIs, s) }

// ValidOperator reports whether the given name is a known constraint
// operator.
func ValidOperator(s string) bool { return inVocab(operatorIRIs, s) }

// ValidLogicalOperator reports whether the given name is a known logical
// constraint operator.
func ValidLogicalOperator(s string) bool { return inVocab(logicalOpIRIs, s) }

// ValidConflictTerm reports whether the given name is a known conflict
// strategy.
func ValidConflictTerm(s string) bool { return inVocab(conflictIRIs, s) }
