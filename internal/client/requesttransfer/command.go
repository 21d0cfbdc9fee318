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

// Package requesttransfer offers a command to request a transfer under an
// existing agreement.
package requesttransfer

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
)

func init() {
	Command.Flags().BoolVarP(&printJSON, "json", "j", false, "output transfer in JSON format")
	Command.Flags().StringVarP(&format, "format", "f", "HTTP_PULL", "transfer format to request")
	Command.Flags().StringVar(&dataAddressFile, "data-address", "",
		"JSON file with a data address, makes this a push transfer")
	Command.Flags().StringVarP(&waitState, "wait", "w", "", "wait until the transfer reaches this state")
}

var (
	printJSON       bool
	format          string
	dataAddressFile string
	waitState       string

	Command = &cobra.Command{
		Use:   "requesttransfer <provider_url> <agreement_id>",
		Short: "Request a transfer under an existing agreement.",
		Long: `Requests a transfer process at the given provider for an agreement
reached in an earlier negotiation.`,
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

			req := management.TransferInitiateRequest{
				AgreementID:         args[1],
				Format:              format,
				CounterPartyAddress: args[0],
			}
			if dataAddressFile != "" {
				raw, err := os.ReadFile(dataAddressFile)
				if err != nil {
					return fmt.Errorf("could not read data address file: %w", err)
				}
				da, err := dspshared.UnmarshalAndValidate(ctx, raw, dspshared.DataAddress{})
				if err != nil {
					return fmt.Errorf("invalid data address: %w", err)
				}
				req.DataAddress = &da
			}

			client, err := shared.New()
			if err != nil {
				return fmt.Errorf("couldn't initialise management client: %w", err)
			}

			ui.Info(fmt.Sprintf("Requesting transfer for agreement %s from %s", args[1], args[0]))
			view, err := client.InitiateTransfer(ctx, req)
			if err != nil {
				return fmt.Errorf("could not request transfer: %w", err)
			}

			id, _ := view["@id"].(string)
			ui.Info(fmt.Sprintf("Transfer %s requested", id))

			if waitState != "" {
				ui.Info(fmt.Sprintf("Waiting for state %s", waitState))
				if err := client.WaitForTransferState(ctx, id, waitState); err != nil {
					return err
				}
				view, err = client.GetTransfer(ctx, id)
				if err != nil {
					return fmt.Errorf("could not fetch transfer %s: %w", id, err)
				}
			}
			return shared.PrintView(view, printJSON)
		},
	}
)
