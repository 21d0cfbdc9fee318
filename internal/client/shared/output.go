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
	"os"
	"sort"
	"text/tabwriter"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/fatih/color"
	"github.com/spf13/viper"

	"github.com/openterms/converge/internal/ui"
)

// PrintView prints a management API record, either as a table or as JSON.
func PrintView(view map[string]any, printJSON bool) error {
	if printJSON {
		return PprintJSON(view)
	}

	keys := make([]string, 0, len(view))
	for k := range view {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%v\n", color.New(color.Bold).Sprint(k), view[k])
	}
	return w.Flush()
}

// PprintJSON pretty-prints anything JSON-marshallable, with syntax
// highlighting unless colour is disabled.
func PprintJSON[T any](o T) error {
	b, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("could not marshal output: %w", err)
	}
	var buf bytes.Buffer
	err = json.Indent(&buf, b, "", "  ")
	if err != nil {
		return fmt.Errorf("could not indent JSON: %w", err)
	}
	if viper.GetBool(NoColor) {
		ui.Print(buf.String())
		return nil
	}
	return quick.Highlight(os.Stdout, buf.String(), "json", "terminal256", "catppuccin-mocha")
}
