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

// Package terminatenegotiation offers a command to terminate a contract
// negotiation.
package terminatenegotiation

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openterms/converge/internal/client/shared"
	"github.com/openterms/converge/internal/ui"
	"github.com/openterms/converge/management"
)

func init() {
	Command.Flags().BoolVarP(&printJSON, "json", "j", false, "output negotiation in JSON format")
	Command.Flags().StringVar(&code, "code", "OPERATOR_REQUESTED", "termination code to send")
	Command.Flags().StringVar(&reason, "reason", "", "human readable termination reason")
}

var (
	printJSON bool
	code      string
	reason    string

	Command = &cobra.Command{
		Use:   "terminatenegotiation <negotiation_id>",
		Short: "Terminate a contract negotiation.",
		Long:  "Terminates a contract negotiation and notifies the counterparty.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, ok := viper.Get("initCTX").(context.Context)
			if !ok {
				return fmt.Errorf("couldn't fetch initial context")
			}

			client, err := shared.New()
			if err != nil {
				return fmt.Errorf("couldn't initialise management client: %w", err)
			}

			ui.Info(fmt.Sprintf("Terminating negotiation %s", args[0]))
			view, err := client.TerminateNegotiation(ctx, args[0], management.TerminateRequest{
				Code:   code,
				Reason: reason,
			})
			if err != nil {
				return fmt.Errorf("could not terminate negotiation %s: %w", args[0], err)
			}
			return shared.PrintView(view, printJSON)
		},
	}
)
