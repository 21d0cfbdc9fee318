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
	"time"

	"github.com/openterms/converge/odrl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	t.Parallel()
	valid := []string{
		"2024-01-01T01:00:00Z",
		"2024-01-01T01:00:00",
		"2024-01-01T01:00:00.123Z",
		"2024-01-01T01:00:00+02:00",
		"2024-01-01T01:00:00.999999-05:00",
	}
	for _, s := range valid {
		ts, err := odrl.ParseTimestamp(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, ts.String())
	}

	invalid := []string{
		"",
		"2024-01-01",
		"01:00:00",
		"2024-01-01 01:00:00Z",
		"2024-01-01T01:00Z",
		"not a timestamp",
	}
	for _, s := range invalid {
		_, err := odrl.ParseTimestamp(s)
		assert.Error(t, err, s)
	}
}

func TestTimestampTime(t *testing.T) {
	t.Parallel()
	ts, err := odrl.ParseTimestamp("2024-01-01T01:00:00Z")
	require.NoError(t, err)
	parsed, err := ts.Time()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), parsed)

	noTZ, err := odrl.ParseTimestamp("2024-01-01T01:00:00")
	require.NoError(t, err)
	parsed, err = noTZ.Time()
	require.NoError(t, err)
	assert.Equal(t, 1, parsed.Hour())
}

func TestTimestampJSON(t *testing.T) {
	t.Parallel()
	var ts odrl.Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2024-01-01T01:00:00Z"`), &ts))
	b, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.JSONEq(t, `"2024-01-01T01:00:00Z"`, string(b))

	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))

	var zero odrl.Timestamp
	_, err = json.Marshal(zero)
	assert.Error(t, err)
}

func TestTimestampNow(t *testing.T) {
	t.Parallel()
	ts := odrl.TimestampNow()
	assert.False(t, ts.IsZero())
	_, err := ts.Time()
	assert.NoError(t, err)
}
