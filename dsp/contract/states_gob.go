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

package contract

func (s State) GobEncode() ([]byte, error) {
	return []byte(s), nil
}

func (s *State) GobDecode(b []byte) error {
	parsed, err := ParseState(string(b))
	if err != nil {
		return err
	}

	*s = parsed
	return nil
}
