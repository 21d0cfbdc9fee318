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

import "strings"

// Namespaces used by the dataspace protocol and its payloads.
const (
	DSpaceNS = "https://w3id.org/dspace/v0.8/"
	ODRLNS   = "http://www.w3.org/ns/odrl/2/"
	DCTNS    = "http://purl.org/dc/terms/"
	DCATNS   = "http://www.w3.org/ns/dcat#"
	CCNS     = "http://creativecommons.org/ns#"
)

// prefixes is the single alias table mapping CURIE prefixes to their
// namespaces. Peers are allowed to send either form for type tags and enum
// values, so all comparisons go through this table.
var prefixes = map[string]string{
	"dspace": DSpaceNS,
	"odrl":   ODRLNS,
	"dct":    DCTNS,
	"dcat":   DCATNS,
	"cc":     CCNS,
}

// Expand rewrites a prefixed identifier to its full IRI form. Identifiers
// that don't use a known prefix are returned unchanged.
func Expand(s string) string {
	prefix, local, found := strings.Cut(s, ":")
	if !found {
		return s
	}
	ns, ok := prefixes[prefix]
	if !ok {
		return s
	}
	return ns + local
}

// Compact rewrites a full IRI to its prefixed form when the namespace is in
// the alias table, else it returns the IRI unchanged.
func Compact(iri string) string {
	for prefix, ns := range prefixes {
		if rest, found := strings.CutPrefix(iri, ns); found && rest != "" {
			return prefix + ":" + rest
		}
	}
	return iri
}

// Equivalent reports whether two identifiers name the same term, accepting
// any mix of full IRI and prefixed forms.
func Equivalent(a, b string) bool {
	return Expand(a) == Expand(b)
}
