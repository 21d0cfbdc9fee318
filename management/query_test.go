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

package management_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openterms/converge/management"
)

func testAssets(t *testing.T) []*management.Asset {
	t.Helper()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return []*management.Asset{
		{
			ID:         "asset-climate",
			Properties: map[string]any{"name": "climate readings", "format": "csv"},
			CreatedAt:  base,
		},
		{
			ID:         "asset-traffic",
			Properties: map[string]any{"name": "traffic counts", "format": "json"},
			CreatedAt:  base.Add(time.Hour),
		},
		{
			ID:         "asset-energy",
			Properties: map[string]any{"name": "energy usage", "format": "csv"},
			CreatedAt:  base.Add(2 * time.Hour),
		},
	}
}

func ids(assets []*management.Asset) []string {
	out := make([]string, len(assets))
	for i, a := range assets {
		out[i] = a.ID
	}
	return out
}

func TestApplyFilterEquals(t *testing.T) {
	t.Parallel()
	got := management.Apply(testAssets(t), management.QuerySpec{
		FilterExpression: []management.Criterion{
			{OperandLeft: "properties.format", Operator: "=", OperandRight: "csv"},
		},
	})
	assert.Equal(t, []string{"asset-climate", "asset-energy"}, ids(got))
}

func TestApplyFilterNotEquals(t *testing.T) {
	t.Parallel()
	got := management.Apply(testAssets(t), management.QuerySpec{
		FilterExpression: []management.Criterion{
			{OperandLeft: "properties.format", Operator: "!=", OperandRight: "csv"},
		},
	})
	assert.Equal(t, []string{"asset-traffic"}, ids(got))
}

func TestApplyFilterIn(t *testing.T) {
	t.Parallel()
	got := management.Apply(testAssets(t), management.QuerySpec{
		FilterExpression: []management.Criterion{
			{OperandLeft: "@id", Operator: "in", OperandRight: []any{"asset-traffic", "asset-energy"}},
		},
	})
	assert.Equal(t, []string{"asset-traffic", "asset-energy"}, ids(got))
}

func TestApplyFilterLike(t *testing.T) {
	t.Parallel()
	got := management.Apply(testAssets(t), management.QuerySpec{
		FilterExpression: []management.Criterion{
			{OperandLeft: "properties.name", Operator: "like", OperandRight: "%count%"},
		},
	})
	assert.Equal(t, []string{"asset-traffic"}, ids(got))

	prefixed := management.Apply(testAssets(t), management.QuerySpec{
		FilterExpression: []management.Criterion{
			{OperandLeft: "@id", Operator: "like", OperandRight: "asset-%"},
		},
	})
	assert.Len(t, prefixed, 3)
}

func TestApplyFilterTimestamps(t *testing.T) {
	t.Parallel()
	got := management.Apply(testAssets(t), management.QuerySpec{
		FilterExpression: []management.Criterion{
			{OperandLeft: "createdAt", Operator: ">", OperandRight: "2024-06-01T12:30:00Z"},
		},
	})
	assert.Equal(t, []string{"asset-traffic", "asset-energy"}, ids(got))
}

func TestApplyFilterUnknownFieldExcludes(t *testing.T) {
	t.Parallel()
	got := management.Apply(testAssets(t), management.QuerySpec{
		FilterExpression: []management.Criterion{
			{OperandLeft: "nosuchfield", Operator: "=", OperandRight: "anything"},
		},
	})
	assert.Empty(t, got)
}

func TestApplySort(t *testing.T) {
	t.Parallel()
	got := management.Apply(testAssets(t), management.QuerySpec{
		SortField: "createdAt",
		SortOrder: management.SortDescending,
	})
	assert.Equal(t, []string{"asset-energy", "asset-traffic", "asset-climate"}, ids(got))

	// An unknown sort field keeps insertion order.
	unsorted := management.Apply(testAssets(t), management.QuerySpec{SortField: "nosuchfield"})
	assert.Equal(t, []string{"asset-climate", "asset-traffic", "asset-energy"}, ids(unsorted))
}

func TestApplyPagination(t *testing.T) {
	t.Parallel()
	assets := testAssets(t)

	page := management.Apply(assets, management.QuerySpec{Offset: 1, Limit: 1})
	require.Len(t, page, 1)
	assert.Equal(t, "asset-traffic", page[0].ID)

	rest := management.Apply(assets, management.QuerySpec{Offset: 1})
	assert.Len(t, rest, 2)

	beyond := management.Apply(assets, management.QuerySpec{Offset: 10})
	assert.Empty(t, beyond)
}
