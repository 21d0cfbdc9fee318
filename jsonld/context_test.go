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

package jsonld_test

import (
	"encoding/json"
	"testing"

	"github.com/openterms/converge/jsonld"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextUnmarshalString(t *testing.T) {
	t.Parallel()
	var c jsonld.Context
	require.NoError(t, json.Unmarshal([]byte(`"https://w3id.org/dspace/v0.8/context.json"`), &c))
	roots := c.GetRootContexts()
	require.Len(t, roots, 1)
	assert.Equal(t, "https://w3id.org/dspace/v0.8/context.json", roots[0].ID)
}

func TestContextUnmarshalList(t *testing.T) {
	t.Parallel()
	var c jsonld.Context
	require.NoError(t, json.Unmarshal([]byte(`["https://a.example/ns", "https://b.example/ns"]`), &c))
	roots := c.GetRootContexts()
	require.Len(t, roots, 2)
	assert.Equal(t, "https://b.example/ns", roots[1].ID)
}

func TestContextUnmarshalMap(t *testing.T) {
	t.Parallel()
	var c jsonld.Context
	body := `{"@vocab": "https://w3id.org/dspace/v0.8/", "odrl": {"@id": "http://www.w3.org/ns/odrl/2/"}}`
	require.NoError(t, json.Unmarshal([]byte(body), &c))
	entries := c.GetContextsFor("odrl")
	require.Len(t, entries, 1)
	assert.Equal(t, "http://www.w3.org/ns/odrl/2/", entries[0].ID)
}

func TestContextMarshalRoundTrip(t *testing.T) {
	t.Parallel()
	c := jsonld.NewNamedContext(map[string]jsonld.ContextEntry{
		"@vocab": {ID: jsonld.DSpaceNS},
		"odrl":   {ID: jsonld.ODRLNS},
	})
	b, err := json.Marshal(&c)
	require.NoError(t, err)

	var back jsonld.Context
	require.NoError(t, json.Unmarshal(b, &back))
	entries := back.GetContextsFor("@vocab")
	require.Len(t, entries, 1)
	assert.Equal(t, jsonld.DSpaceNS, entries[0].ID)
}
