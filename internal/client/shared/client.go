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

// Package shared contains the management API client the client subcommands use.
package shared

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openterms/converge/management"
)

// Viper keys for the client flags.
const (
	Address = "client.address"
	APIKey  = "client.apiKey"
	NoColor = "client.noColour"
)

const (
	pollInterval = 200 * time.Millisecond
	pollDeadline = 30 * time.Second
)

// Client talks to a connector's management API.
type Client struct {
	base   *url.URL
	apiKey string
	hc     *http.Client
}

// New builds a client from the viper configuration.
func New() (*Client, error) {
	base, err := url.Parse(viper.GetString(Address))
	if err != nil {
		return nil, fmt.Errorf("invalid management API address: %w", err)
	}
	return &Client{
		base:   base,
		apiKey: viper.GetString(APIKey),
		hc:     &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("could not marshal request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	u := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), payload)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: status %d: %s",
			method, u.Path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

func (c *Client) doView(ctx context.Context, method, path string, body any) (map[string]any, error) {
	raw, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	var view map[string]any
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, fmt.Errorf("could not decode response: %w", err)
	}
	return view, nil
}

func (c *Client) InitiateNegotiation(
	ctx context.Context, req management.NegotiationInitiateRequest,
) (map[string]any, error) {
	return c.doView(ctx, http.MethodPost, "negotiations", req)
}

func (c *Client) GetNegotiation(ctx context.Context, id string) (map[string]any, error) {
	return c.doView(ctx, http.MethodGet, "negotiations/"+id, nil)
}

func (c *Client) GetNegotiationState(ctx context.Context, id string) (string, error) {
	view, err := c.doView(ctx, http.MethodGet, "negotiations/"+id+"/state", nil)
	if err != nil {
		return "", err
	}
	state, _ := view["state"].(string)
	return state, nil
}

func (c *Client) TerminateNegotiation(
	ctx context.Context, id string, req management.TerminateRequest,
) (map[string]any, error) {
	return c.doView(ctx, http.MethodPost, "negotiations/"+id+"/terminate", req)
}

func (c *Client) InitiateTransfer(
	ctx context.Context, req management.TransferInitiateRequest,
) (map[string]any, error) {
	return c.doView(ctx, http.MethodPost, "transfers", req)
}

func (c *Client) GetTransfer(ctx context.Context, id string) (map[string]any, error) {
	return c.doView(ctx, http.MethodGet, "transfers/"+id, nil)
}

func (c *Client) GetTransferState(ctx context.Context, id string) (string, error) {
	view, err := c.doView(ctx, http.MethodGet, "transfers/"+id+"/state", nil)
	if err != nil {
		return "", err
	}
	state, _ := view["state"].(string)
	return state, nil
}

// WaitForNegotiationState polls until the negotiation reaches the wanted
// state, or the deadline passes.
func (c *Client) WaitForNegotiationState(ctx context.Context, id, want string) error {
	return c.waitForState(ctx, want, func(ctx context.Context) (string, error) {
		return c.GetNegotiationState(ctx, id)
	})
}

// WaitForTransferState is WaitForNegotiationState for transfers.
func (c *Client) WaitForTransferState(ctx context.Context, id, want string) error {
	return c.waitForState(ctx, want, func(ctx context.Context) (string, error) {
		return c.GetTransferState(ctx, id)
	})
}

func (c *Client) waitForState(
	ctx context.Context, want string, fetch func(context.Context) (string, error),
) error {
	ctx, cancel := context.WithTimeout(ctx, pollDeadline)
	defer cancel()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	last := ""
	for {
		select {
		case <-ticker.C:
			state, err := fetch(ctx)
			if err != nil {
				return err
			}
			if state == want {
				return nil
			}
			last = state
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting for state %s, last seen state: %s", want, last)
		}
	}
}
