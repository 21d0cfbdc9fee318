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

// Package client contains a client for the converge management API, this is
// the base of all client subcommands.
package client

import (
	"fmt"
	"net/url"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openterms/converge/internal/cfg"
	"github.com/openterms/converge/internal/client/getnegotiation"
	"github.com/openterms/converge/internal/client/negotiate"
	"github.com/openterms/converge/internal/client/requesttransfer"
	"github.com/openterms/converge/internal/client/shared"
	"github.com/openterms/converge/internal/client/terminatenegotiation"
)

var (
	noColour bool
	Command  = &cobra.Command{
		Use:   "client",
		Short: "Run a converge client command.",
		Long:  `Run a command against a converge management API.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := url.Parse(viper.GetString(shared.Address)); err != nil {
				return fmt.Errorf("invalid management API address: %w", err)
			}

			if noColour {
				color.NoColor = true
				viper.Set(shared.NoColor, true)
			}

			return nil
		},
	}
)

func init() {
	cfg.AddPersistentFlag(
		Command, shared.Address, "address",
		"Address of the converge management API.", "http://127.0.0.1:8080/api/v1")
	cfg.AddPersistentFlag(
		Command, shared.APIKey, "api-key",
		"API key for the management API.", "")

	Command.PersistentFlags().BoolVar(&noColour, "no-colour", false, "Disable colour in output.")
	Command.AddCommand(negotiate.Command)
	Command.AddCommand(getnegotiation.Command)
	Command.AddCommand(terminatenegotiation.Command)
	Command.AddCommand(requesttransfer.Command)
}
