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
	"reflect"

	"github.com/go-playground/validator/v10"

	"github.com/openterms/converge/jsonld"
)

// curie accepts a field that equals the tag parameter under namespace
// expansion, so both "odrl:Offer" and the full IRI pass curie=odrl:Offer.
func validateCurie(fl validator.FieldLevel) bool {
	return jsonld.Equivalent(fl.Field().String(), fl.Param())
}

func vocabValidator(check func(string) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return check(fl.Field().String())
	}
}

// RegisterValidators registers all the validators of this package, plus
// the type adapters that let struct-typed fields carry string tags.
func RegisterValidators(v *validator.Validate) error {
	tags := map[string]validator.Func{
		"curie":            validateCurie,
		"odrl_action":      vocabValidator(ValidAction),
		"odrl_leftoperand": vocabValidator(ValidLeftOperand),
		"odrl_operator":    vocabValidator(ValidOperator),
		"odrl_logicalop":   vocabValidator(ValidLogicalOperator),
		"odrl_conflict":    vocabValidator(ValidConflictTerm),
	}
	for tag, fn := range tags {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}

	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if a, ok := field.Interface().(Action); ok {
			return a.Name
		}
		return nil
	}, Action{})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if t, ok := field.Interface().(Timestamp); ok {
			return t.value
		}
		return nil
	}, Timestamp{})
	return nil
}
