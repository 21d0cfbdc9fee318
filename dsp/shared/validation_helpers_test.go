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

package shared_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openterms/converge/dsp/shared"
	"github.com/openterms/converge/logging"
)

func testCtx() context.Context {
	return logging.Inject(context.Background(), logging.New("error", true))
}

func validEventMessage() shared.ContractNegotiationEventMessage {
	return shared.ContractNegotiationEventMessage{
		Context:     shared.GetDSPContext(),
		Type:        "dspace:ContractNegotiationEventMessage",
		ProviderPID: uuid.New().URN(),
		ConsumerPID: uuid.New().URN(),
		EventType:   "dspace:ACCEPTED",
	}
}

// eventMessageJSON marshals the message and applies the given edits to the
// top-level members, a nil value deletes the member.
func eventMessageJSON(t *testing.T, edits map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(validEventMessage())
	require.NoError(t, err)
	var members map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &members))
	for name, value := range edits {
		if value == nil {
			delete(members, name)
			continue
		}
		b, err := json.Marshal(value)
		require.NoError(t, err)
		members[name] = b
	}
	out, err := json.Marshal(members)
	require.NoError(t, err)
	return out
}

func TestEventTypeAcceptsBothNamespaceForms(t *testing.T) {
	t.Parallel()
	ctx := testCtx()

	for _, eventType := range []string{
		"dspace:ACCEPTED",
		"dspace:FINALIZED",
		"https://w3id.org/dspace/v0.8/ACCEPTED",
		"https://w3id.org/dspace/v0.8/FINALIZED",
	} {
		body := eventMessageJSON(t, map[string]any{"dspace:eventType": eventType})
		msg, err := shared.UnmarshalAndValidate(ctx, body, shared.ContractNegotiationEventMessage{})
		require.NoError(t, err, eventType)
		assert.Equal(t, eventType, msg.EventType)
	}

	body := eventMessageJSON(t, map[string]any{"dspace:eventType": "dspace:SUSPENDED"})
	_, err := shared.UnmarshalAndValidate(ctx, body, shared.ContractNegotiationEventMessage{})
	assert.Error(t, err)
}

func TestMessagesRequireContext(t *testing.T) {
	t.Parallel()
	ctx := testCtx()

	body := eventMessageJSON(t, map[string]any{"@context": nil})
	_, err := shared.UnmarshalAndValidate(ctx, body, shared.ContractNegotiationEventMessage{})
	assert.Error(t, err)

	start := shared.TransferStartMessage{
		Type:        "dspace:TransferStartMessage",
		ProviderPID: uuid.New().URN(),
		ConsumerPID: uuid.New().URN(),
	}
	raw, err := json.Marshal(start)
	require.NoError(t, err)
	var members map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &members))
	delete(members, "@context")
	body, err = json.Marshal(members)
	require.NoError(t, err)
	_, err = shared.UnmarshalAndValidate(ctx, body, shared.TransferStartMessage{})
	assert.Error(t, err)
}

func TestUnknownTopLevelMembersSurviveRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := testCtx()

	body := eventMessageJSON(t, map[string]any{
		"dspace:extension": map[string]any{"vendor": "acme"},
	})
	msg, err := shared.UnmarshalAndValidate(ctx, body, shared.ContractNegotiationEventMessage{})
	require.NoError(t, err)
	require.Contains(t, msg.Extras(), "dspace:extension")

	out, err := shared.ValidateAndMarshal(ctx, msg)
	require.NoError(t, err)
	var members map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &members))
	assert.Contains(t, members, "dspace:extension")
	assert.JSONEq(t, `{"vendor": "acme"}`, string(members["dspace:extension"]))
	// The defined members are untouched.
	assert.Contains(t, members, "dspace:eventType")
}

func TestUnknownNestedFieldsRejected(t *testing.T) {
	t.Parallel()
	ctx := testCtx()

	raw, err := json.Marshal(validEventMessage())
	require.NoError(t, err)
	var members map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &members))

	body := []byte(`{` +
		`"@context": ` + string(members["@context"]) + `,` +
		`"@type": "dspace:ContractRequestMessage",` +
		`"dspace:consumerPid": "` + uuid.New().URN() + `",` +
		`"dspace:callbackAddress": "https://consumer.dsp/callback/",` +
		`"dspace:offer": {` +
		`"@id": "` + uuid.New().URN() + `",` +
		`"@type": "odrl:Offer",` +
		`"odrl:target": "` + uuid.New().URN() + `",` +
		`"odrl:bogus": true` +
		`}}`)
	_, err = shared.UnmarshalAndValidate(ctx, body, shared.ContractRequestMessage{})
	assert.Error(t, err)
}
