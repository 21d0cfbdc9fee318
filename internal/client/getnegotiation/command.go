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

// Package getnegotiation offers a command to show the state of a single
// contract negotiation.
package getnegotiation

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openterms/converge/internal/client/shared"
)

func init() {
	Command.Flags().BoolVarP(&printJSON, "json", "j", false, "output negotiation in JSON format")
	Command.Flags().StringVarP(&waitState, "wait", "w", "", "wait until the negotiation reaches this state")
}

var (
	printJSON bool
	waitState string

	Command = &cobra.Command{
		Use:   "getnegotiation <negotiation_id>",
		Short: "Show a contract negotiation.",
		Long:  "Fetches a contract negotiation from the management API and prints it.",
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

			if waitState != "" {
				if err := client.WaitForNegotiationState(ctx, args[0], waitState); err != nil {
					return err
				}
			}
			view, err := client.GetNegotiation(ctx, args[0])
			if err != nil {
				return fmt.Errorf("could not fetch negotiation %s: %w", args[0], err)
			}
			return shared.PrintView(view, printJSON)
		},
	}
)
