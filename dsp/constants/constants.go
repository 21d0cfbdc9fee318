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

// Package constants holds protocol-level constants shared across the
// dataspace packages.
package constants

const (
	// DSPVersion is the dataspace protocol version this connector speaks.
	DSPVersion = "2024-1"

	// APIPath is the path prefix all protocol endpoints live under.
	APIPath = "/dsp/2024-1"

	// DefaultProtocol identifies the HTTP binding in stored records.
	DefaultProtocol = "dataspace-protocol-http"
)
