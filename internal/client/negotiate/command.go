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

// Package negotiate offers a command to start a contract negotiation with a
// dataspace provider.
package negotiate

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	dspshared "github.com/openterms/converge/dsp/shared"
	"github.com/openterms/converge/internal/client/shared"
	"github.com/openterms/converge/internal/ui"
	"github.com/openterms/converge/management"
	"github.com/openterms/converge/odrl"
)

func init() {
	Command.Flags().BoolVarP(&printJSON, "json", "j", false, "output negotiation in JSON format")
	Command.Flags().BoolVar(&autoAccept, "auto-accept", false, "automatically accept counter-offers")
	Command.Flags().StringVarP(&waitState, "wait", "w", "", "wait until the negotiation reaches this state")
}

var (
	printJSON  bool
	autoAccept bool
	waitState  string

	Command = &cobra.Command{
		Use:   "negotiate <provider_url> <offer_file>",
		Short: "Start a contract negotiation with a dataspace provider.",
		Long: `Starts a contract negotiation at the given provider, using the ODRL
offer read from the given JSON file.`,
		Args: cobra.ExactArgs(2),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := url.Parse(args[0])
			if err != nil {
				return fmt.Errorf("argument needs to be a valid URL")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, ok := viper.Get("initCTX").(context.Context)
			if !ok {
				return fmt.Errorf("couldn't fetch initial context")
			}

			provider := args[0]
			raw, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("could not read offer file: %w", err)
			}
			offer, err := dspshared.UnmarshalAndValidate(ctx, raw, odrl.MessageOffer{})
			if err != nil {
				return fmt.Errorf("invalid offer: %w", err)
			}

			client, err := shared.New()
			if err != nil {
				return fmt.Errorf("couldn't initialise management client: %w", err)
			}

			ui.Info(fmt.Sprintf("Starting negotiation with %s", provider))
			view, err := client.InitiateNegotiation(ctx, management.NegotiationInitiateRequest{
				CounterPartyAddress: provider,
				Offer:               offer,
				AutoAccept:          autoAccept,
			})
			if err != nil {
				return fmt.Errorf("could not start negotiation with %s: %w", provider, err)
			}

			id, _ := view["@id"].(string)
			ui.Info(fmt.Sprintf("Negotiation %s started", id))

			if waitState != "" {
				ui.Info(fmt.Sprintf("Waiting for state %s", waitState))
				if err := client.WaitForNegotiationState(ctx, id, waitState); err != nil {
					return err
				}
				view, err = client.GetNegotiation(ctx, id)
				if err != nil {
					return fmt.Errorf("could not fetch negotiation %s: %w", id, err)
				}
			}
			return shared.PrintView(view, printJSON)
		},
	}
)
