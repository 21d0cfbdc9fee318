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
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/openterms/converge/logging"
)

// Requester is the interface for sending dataspace callback messages.
type Requester interface {
	SendHTTPRequest(ctx context.Context, method string, url *url.URL, reqBody []byte) ([]byte, error)
}

// HTTPRequester sends requests to counterparty connectors. If no client is
// set, http.DefaultClient settings are used.
type HTTPRequester struct {
	Client    *http.Client
	UserAgent string
	APIKey    string
}

func (hr *HTTPRequester) SendHTTPRequest(
	ctx context.Context, method string, url *url.URL, reqBody []byte,
) ([]byte, error) {
	logger := logging.Extract(ctx).With("method", method, "target_url", url.String())
	if hr.Client == nil {
		hr.Client = &http.Client{}
	}

	logger.Debug("Doing HTTP request")
	var payload io.Reader
	if reqBody != nil {
		payload = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, url.String(), payload)
	if err != nil {
		logger.Error("Failed to create request", "err", err)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	if hr.UserAgent != "" {
		req.Header.Set("User-Agent", hr.UserAgent)
	}
	if hr.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+hr.APIKey)
	}

	resp, err := hr.Client.Do(req)
	if err != nil {
		logger.Error("Failed to send request", "err", err)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	// In the future we might want to return the reader to handle big bodies.
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("Failed to read body", "err", err)
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Error("Received non-200 status code",
			"status_code", resp.StatusCode, "body", string(respBody))
		return nil, fmt.Errorf("received status code %d", resp.StatusCode)
	}

	return respBody, nil
}

func MustParseURL(u string) *url.URL {
	pu, err := url.Parse(u)
	if err != nil {
		panic(err.Error())
	}
	return pu
}
