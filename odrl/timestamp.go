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
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// timestampRE is the ISO-8601 extended grammar: fractional seconds and the
// timezone designator are optional. Both encode and decode go through it.
var timestampRE = regexp.MustCompile(
	`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`)

// Timestamp is an ISO-8601 extended timestamp as used on agreements. The
// zero value is empty and invalid.
type Timestamp struct {
	value string
}

// ParseTimestamp validates the given string against the timestamp grammar.
func ParseTimestamp(s string) (Timestamp, error) {
	if !timestampRE.MatchString(s) {
		return Timestamp{}, fmt.Errorf("not a valid ISO-8601 timestamp: %s", s)
	}
	return Timestamp{value: s}, nil
}

// TimestampNow returns the current time as a timestamp.
func TimestampNow() Timestamp {
	return Timestamp{value: time.Now().UTC().Format("2006-01-02T15:04:05Z07:00")}
}

func (t Timestamp) String() string { return t.value }
func (t Timestamp) IsZero() bool   { return t.value == "" }

// Time converts the timestamp into a time.Time. Timestamps without a
// timezone designator are interpreted as UTC.
func (t Timestamp) Time() (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.999999999",
	} {
		if parsed, err := time.Parse(layout, t.value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("can't interpret timestamp: %s", t.value)
}

func (t Timestamp) GobEncode() ([]byte, error) {
	return []byte(t.value), nil
}

func (t *Timestamp) GobDecode(b []byte) error {
	if len(b) == 0 {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if !timestampRE.MatchString(t.value) {
		return nil, fmt.Errorf("not a valid ISO-8601 timestamp: %s", t.value)
	}
	return json.Marshal(t.value)
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
