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

// Package server provides the server subcommand.
package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sloghttp "github.com/samber/slog-http"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openterms/converge/dsp"
	"github.com/openterms/converge/dsp/shared"
	"github.com/openterms/converge/dsp/statemachine"
	"github.com/openterms/converge/internal/cfg"
	"github.com/openterms/converge/logging"
	"github.com/openterms/converge/management"
)

const (
	listenAddrKey    = "server.listenAddr"
	portKey          = "server.port"
	externalURLKey   = "server.externalURL"
	participantIDKey = "server.participantID"
	autoAcceptKey    = "server.autoAccept"
	apiKeyKey        = "server.apiKey"
	userAgentKey     = "server.userAgent"
	badgerMemoryKey  = "server.badger.memory"
	badgerDBPathKey  = "server.badger.dbPath"
)

// Command is the `converge server` subcommand.
var Command = &cobra.Command{
	Use:   "server",
	Short: "Start the connector",
	Long: `Starts the connector: the dataspace protocol endpoints, the
management API, and the reconciliation loop for outbound messages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, ok := viper.Get("initCTX").(context.Context)
		if !ok {
			return fmt.Errorf("couldn't fetch initial context")
		}
		return run(ctx)
	},
}

func init() {
	cfg.AddPersistentFlag(Command, listenAddrKey, "listen-addr", "Listen address", "0.0.0.0")
	cfg.AddPersistentFlag(Command, portKey, "port", "Listen port", 8080)
	cfg.AddPersistentFlag(Command, externalURLKey, "external-url",
		"Base URL other connectors reach this connector on", "http://127.0.0.1:8080")
	cfg.AddPersistentFlag(Command, participantIDKey, "participant-id",
		"Participant ID of this connector in the dataspace", "")
	cfg.AddPersistentFlag(Command, autoAcceptKey, "auto-accept",
		"Automatically agree to incoming contract requests", false)
	cfg.AddPersistentFlag(Command, apiKeyKey, "api-key",
		"API key for the management API, unauthenticated when empty", "")
	cfg.AddPersistentFlag(Command, userAgentKey, "user-agent",
		"User agent for outgoing requests", "converge")
	cfg.AddPersistentFlag(Command, badgerMemoryKey, "badger-memory",
		"Run the badger database in memory only", false)
	cfg.AddPersistentFlag(Command, badgerDBPathKey, "badger-dbpath",
		"Directory for the badger database", "/var/lib/converge/badger")
}

func run(ctx context.Context) error {
	logger := logging.Extract(ctx)

	externalURL, err := url.Parse(viper.GetString(externalURLKey))
	if err != nil {
		return fmt.Errorf("invalid external URL: %w", err)
	}

	store, err := getStorageProvider(ctx)
	if err != nil {
		return fmt.Errorf("couldn't initialise storage: %w", err)
	}

	requester := &shared.HTTPRequester{UserAgent: viper.GetString(userAgentKey)}
	reconciler := statemachine.NewReconciler(ctx, requester, store)
	reconciler.Run()

	mgmtStore := management.New(store, externalURL, viper.GetString(participantIDKey))

	mux := http.NewServeMux()
	jsonChain := alice.New(jsonHeaderMiddleware)
	mux.Handle("/.well-known/", http.StripPrefix("/.well-known", dsp.GetWellKnownRoutes()))
	mux.Handle("/api/v1/", http.StripPrefix("/api/v1",
		alice.New(jsonHeaderMiddleware, apiKeyMiddleware(viper.GetString(apiKeyKey))).Then(
			management.GetManagementRoutes(mgmtStore, store, reconciler, externalURL))))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", jsonChain.Then(dsp.GetDSPRoutes(
		store, reconciler, mgmtStore, externalURL, viper.GetBool(autoAcceptKey))))

	handler := alice.New(
		sloghttp.Recovery,
		sloghttp.New(logger),
		logging.NewMiddleware(logger),
	).Then(mux)

	addr := fmt.Sprintf("%s:%d", viper.GetString(listenAddrKey), viper.GetInt(portKey))
	logger.Info("Starting server", "addr", addr, "externalURL", externalURL.String())
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 2 * time.Second,
	}
	return srv.ListenAndServe()
}
