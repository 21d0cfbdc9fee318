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

// Package management contains the management store, its entities, and the
// management API that operators drive negotiations and transfers with.
package management

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SortOrder is the direction of a query sort.
type SortOrder string

const (
	SortAscending  SortOrder = "ASC"
	SortDescending SortOrder = "DESC"
)

// Criterion is a single filter expression. OperandRight is a string for the
// scalar operators, and a list for the in operator.
type Criterion struct {
	OperandLeft  string `json:"operandLeft" validate:"required"`
	Operator     string `json:"operator" validate:"required,oneof== != > >= < <= in like"`
	OperandRight any    `json:"operandRight" validate:"required"`
}

// QuerySpec is the uniform query shape all management collections accept.
// A zero limit means no limit.
type QuerySpec struct {
	FilterExpression []Criterion `json:"filterExpression,omitempty" validate:"dive"`
	SortField        string      `json:"sortField,omitempty"`
	SortOrder        SortOrder   `json:"sortOrder,omitempty" validate:"omitempty,oneof=ASC DESC"`
	Offset           int         `json:"offset,omitempty" validate:"gte=0"`
	Limit            int         `json:"limit,omitempty" validate:"gte=0"`
}

// Queryable exposes the fields a record can be filtered and sorted on.
type Queryable interface {
	QueryFields() map[string]any
}

// Apply runs a query over the records: filter, sort, then offset/limit.
// A filter on a field the record doesn't have excludes the record, an
// unknown sort field preserves insertion order.
func Apply[T Queryable](records []T, q QuerySpec) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		if matchesAll(r.QueryFields(), q.FilterExpression) {
			out = append(out, r)
		}
	}

	if q.SortField != "" {
		descending := q.SortOrder == SortDescending
		sort.SliceStable(out, func(i, j int) bool {
			iv, iok := out[i].QueryFields()[q.SortField]
			jv, jok := out[j].QueryFields()[q.SortField]
			if !iok || !jok {
				return false
			}
			cmp := compareValues(asString(iv), jv)
			if descending {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	if q.Offset >= len(out) {
		return []T{}
	}
	out = out[q.Offset:]
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out
}

func matchesAll(fields map[string]any, criteria []Criterion) bool {
	for _, c := range criteria {
		if !matches(fields, c) {
			return false
		}
	}
	return true
}

func matches(fields map[string]any, c Criterion) bool {
	raw, ok := fields[c.OperandLeft]
	if !ok {
		return false
	}
	left := asString(raw)

	switch c.Operator {
	case "=":
		return compareValues(left, c.OperandRight) == 0
	case "!=":
		return compareValues(left, c.OperandRight) != 0
	case ">":
		return compareValues(left, c.OperandRight) > 0
	case ">=":
		return compareValues(left, c.OperandRight) >= 0
	case "<":
		return compareValues(left, c.OperandRight) < 0
	case "<=":
		return compareValues(left, c.OperandRight) <= 0
	case "in":
		values, ok := c.OperandRight.([]any)
		if !ok {
			return false
		}
		for _, v := range values {
			if left == asString(v) {
				return true
			}
		}
		return false
	case "like":
		return likeMatch(left, asString(c.OperandRight))
	default:
		return false
	}
}

// compareValues compares numerically when both sides parse as numbers, and
// lexicographically otherwise. RFC3339 timestamps order correctly as strings.
func compareValues(left string, right any) int {
	rightStr := asString(right)
	lf, lerr := strconv.ParseFloat(left, 64)
	rf, rerr := strconv.ParseFloat(rightStr, 64)
	if lerr == nil && rerr == nil {
		switch {
		case lf < rf:
			return -1
		case lf > rf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(left, rightStr)
}

// likeMatch matches with % as the wildcard, like the SQL operator it's
// named after.
func likeMatch(s, pattern string) bool {
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return s == pattern
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
