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

package jsonld

import "encoding/json"

// ExtraFields carries the top-level members of a JSON-LD document that the
// embedding struct has no field for. Messages embed it so that members from
// extension vocabularies survive a decode/encode round trip instead of being
// silently dropped.
type ExtraFields struct {
	extra map[string]json.RawMessage
}

// Extras returns the preserved unknown members, keyed by their original
// member name.
func (e ExtraFields) Extras() map[string]json.RawMessage {
	return e.extra
}

// SetExtras replaces the preserved unknown members.
func (e *ExtraFields) SetExtras(extra map[string]json.RawMessage) {
	e.extra = extra
}

// ExtrasReader is satisfied by values embedding ExtraFields.
type ExtrasReader interface {
	Extras() map[string]json.RawMessage
}

// ExtrasWriter is satisfied by pointers to values embedding ExtraFields.
type ExtrasWriter interface {
	SetExtras(extra map[string]json.RawMessage)
}
