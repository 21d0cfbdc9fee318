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
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/openterms/converge/jsonld"
)

// decodeMessage decodes a protocol message body. Top-level members the target
// has no field for are split off before decoding: messages that embed
// jsonld.ExtraFields keep them for the next encode, anything else rejects
// them. Everything below the top level decodes strictly, an unknown field
// inside a typed object is an error.
func decodeMessage(b []byte, v any) error {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(b, &members); err != nil {
		return strictUnmarshal(b, v)
	}

	known := knownMembers(reflect.TypeOf(v).Elem())
	extra := map[string]json.RawMessage{}
	for name, raw := range members {
		if _, ok := known[name]; !ok {
			extra[name] = raw
			delete(members, name)
		}
	}

	kept, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("re-encode known members: %w", err)
	}
	if err := strictUnmarshal(kept, v); err != nil {
		return err
	}

	if len(extra) == 0 {
		return nil
	}
	carrier, ok := v.(jsonld.ExtrasWriter)
	if !ok {
		return fmt.Errorf("unknown fields: %s", strings.Join(slices.Sorted(maps.Keys(extra)), ", "))
	}
	carrier.SetExtras(extra)
	return nil
}

// encodeMessage marshals a message and merges any preserved unknown members
// back in. A preserved member never overrides a field the message defines.
func encodeMessage(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	carrier, ok := v.(jsonld.ExtrasReader)
	if !ok || len(carrier.Extras()) == 0 {
		return b, nil
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(b, &members); err != nil {
		return nil, fmt.Errorf("re-decode message: %w", err)
	}
	for name, raw := range carrier.Extras() {
		if _, ok := members[name]; !ok {
			members[name] = raw
		}
	}
	return json.Marshal(members)
}

func strictUnmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// knownMembers collects the JSON member names a struct type decodes into,
// including those promoted from embedded structs.
func knownMembers(t reflect.Type) map[string]struct{} {
	names := map[string]struct{}{}
	if t.Kind() != reflect.Struct {
		return names
	}
	for i := range t.NumField() {
		field := t.Field(i)
		if field.Anonymous {
			embedded := field.Type
			if embedded.Kind() == reflect.Pointer {
				embedded = embedded.Elem()
			}
			for name := range knownMembers(embedded) {
				names[name] = struct{}{}
			}
			continue
		}
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		switch name {
		case "-":
			continue
		case "":
			name = field.Name
		}
		names[name] = struct{}{}
	}
	return names
}
