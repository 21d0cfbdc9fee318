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

package statemachine_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openterms/converge/dsp/constants"
	"github.com/openterms/converge/dsp/contract"
	"github.com/openterms/converge/dsp/persistence/badger"
	"github.com/openterms/converge/dsp/shared"
	"github.com/openterms/converge/dsp/statemachine"
	"github.com/openterms/converge/logging"
	"github.com/openterms/converge/odrl"
)

type MockRequester struct {
	ReceivedMethod string
	ReceivedURL    *url.URL
	ReceivedBody   []byte
	Response       []byte
	Err            error
}

func (mr *MockRequester) SendHTTPRequest(
	ctx context.Context, method string, url *url.URL, reqBody []byte,
) ([]byte, error) {
	mr.ReceivedMethod = method
	mr.ReceivedURL = url
	mr.ReceivedBody = reqBody
	return mr.Response, mr.Err
}

type recordingReconciler struct {
	entries []statemachine.ReconciliationEntry
}

func (r *recordingReconciler) Add(entry statemachine.ReconciliationEntry) {
	r.entries = append(r.entries, entry)
}

func (r *recordingReconciler) last(t *testing.T) statemachine.ReconciliationEntry {
	t.Helper()
	require.NotEmpty(t, r.entries)
	return r.entries[len(r.entries)-1]
}

func urlMustParse(u string) *url.URL {
	nu, err := url.Parse(u)
	if err != nil {
		panic("bad url")
	}
	return nu
}

var (
	target           = uuid.MustParse("68d3d534-06b9-4700-9890-915bc32ecb75")
	providerCallback = urlMustParse("https://provider.dsp/")
	consumerCallback = urlMustParse("https://consumer.dsp/callback/")
)

func testOffer() odrl.Offer {
	return odrl.Offer{
		MessageOffer: odrl.MessageOffer{
			PolicyClass: odrl.PolicyClass{
				ID:       uuid.New().URN(),
				Assigner: "https://provider.dsp/participant",
			},
			Type:   "odrl:Offer",
			Target: target.URN(),
		},
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	logger := logging.New("error", true)
	return logging.Inject(context.Background(), logger)
}

func TestConsumerNegotiationFlow(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	rec := &recordingReconciler{}

	negotiation := contract.New(
		uuid.UUID{}, uuid.New(),
		contract.StateInitial, testOffer(), providerCallback, consumerCallback,
		constants.DataspaceConsumer, false,
	)

	// The initial send puts the request in flight.
	_, cns := statemachine.GetContractNegotiation(ctx, negotiation, rec)
	apply, err := cns.Send(ctx)
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, contract.StateRequesting, negotiation.GetState())

	entry := rec.last(t)
	assert.Equal(t, "REQUESTED", entry.TargetState)
	assert.Equal(t, "POST", entry.Method)
	assert.Equal(t, "https://provider.dsp/negotiations/request", entry.URL.String())

	// Simulate the reconciler committing the delivery, with the provider
	// PID learned from the acknowledgement.
	require.NoError(t, negotiation.SetState(contract.StateRequested, "message delivered"))
	providerPID := uuid.New()
	require.NoError(t, negotiation.SetProviderPID(providerPID))

	// The provider agrees right away.
	agreement, err := odrl.NewAgreement(
		uuid.New().URN(),
		"https://provider.dsp/participant",
		negotiation.GetConsumerPID().URN(),
		target.URN(),
		odrl.TimestampNow().String(),
		odrl.Rules{},
	)
	require.NoError(t, err)

	_, cns = statemachine.GetContractNegotiation(ctx, negotiation, rec)
	_, apply, err = cns.Recv(ctx, shared.ContractAgreementMessage{
		Context:         shared.GetDSPContext(),
		Type:            "dspace:ContractAgreementMessage",
		ProviderPID:     providerPID.URN(),
		ConsumerPID:     negotiation.GetConsumerPID().URN(),
		Agreement:       *agreement,
		CallbackAddress: "https://provider.dsp/",
	})
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, contract.StateAgreed, negotiation.GetState())
	require.NotNil(t, negotiation.GetAgreement())

	// Verification goes back out.
	_, cns = statemachine.GetContractNegotiation(ctx, negotiation, rec)
	apply, err = cns.Send(ctx)
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, contract.StateVerifying, negotiation.GetState())

	entry = rec.last(t)
	assert.Equal(t, "VERIFIED", entry.TargetState)
	assert.Equal(t,
		"https://provider.dsp/negotiations/"+providerPID.String()+"/agreement/verification",
		entry.URL.String(),
	)
	require.NoError(t, negotiation.SetState(contract.StateVerified, "message delivered"))

	// And the finalized event comes in.
	_, cns = statemachine.GetContractNegotiation(ctx, negotiation, rec)
	_, apply, err = cns.Recv(ctx, shared.ContractNegotiationEventMessage{
		Context:     shared.GetDSPContext(),
		Type:        "dspace:ContractNegotiationEventMessage",
		ProviderPID: providerPID.URN(),
		ConsumerPID: negotiation.GetConsumerPID().URN(),
		EventType:   "dspace:FINALIZED",
	})
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, contract.StateFinalized, negotiation.GetState())
}

func TestProviderReceivesInitialRequest(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	rec := &recordingReconciler{}

	consumerPID := uuid.New()
	negotiation := contract.New(
		uuid.UUID{}, consumerPID,
		contract.StateInitial, testOffer(), consumerCallback, providerCallback,
		constants.DataspaceProvider, true,
	)

	_, cns := statemachine.GetContractNegotiation(ctx, negotiation, rec)
	_, apply, err := cns.Recv(ctx, shared.ContractRequestMessage{
		Context:         shared.GetDSPContext(),
		Type:            "dspace:ContractRequestMessage",
		ConsumerPID:     consumerPID.URN(),
		Offer:           testOffer().MessageOffer,
		CallbackAddress: "https://consumer.dsp/callback/",
	})
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, contract.StateRequested, negotiation.GetState())
	assert.NotEqual(t, uuid.UUID{}, negotiation.GetProviderPID())

	// Auto-accept agrees without a counter offer.
	_, cns = statemachine.GetContractNegotiation(ctx, negotiation, rec)
	apply, err = cns.Send(ctx)
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, contract.StateAgreeing, negotiation.GetState())
	require.NotNil(t, negotiation.GetAgreement())

	entry := rec.last(t)
	assert.Equal(t, "AGREED", entry.TargetState)
	assert.Equal(t,
		"https://consumer.dsp/callback/negotiations/"+consumerPID.String()+"/agreement",
		entry.URL.String(),
	)
}

func TestProviderCountersWithOffer(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	rec := &recordingReconciler{}

	consumerPID := uuid.New()
	negotiation := contract.New(
		uuid.UUID{}, consumerPID,
		contract.StateInitial, testOffer(), consumerCallback, providerCallback,
		constants.DataspaceProvider, false,
	)

	_, cns := statemachine.GetContractNegotiation(ctx, negotiation, rec)
	_, apply, err := cns.Recv(ctx, shared.ContractRequestMessage{
		Context:         shared.GetDSPContext(),
		Type:            "dspace:ContractRequestMessage",
		ConsumerPID:     consumerPID.URN(),
		Offer:           testOffer().MessageOffer,
		CallbackAddress: "https://consumer.dsp/callback/",
	})
	require.NoError(t, err)
	require.NoError(t, apply())

	_, cns = statemachine.GetContractNegotiation(ctx, negotiation, rec)
	apply, err = cns.Send(ctx)
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, contract.StateOffering, negotiation.GetState())

	entry := rec.last(t)
	assert.Equal(t, "OFFERED", entry.TargetState)
	assert.Equal(t,
		"https://consumer.dsp/callback/negotiations/"+consumerPID.String()+"/offers",
		entry.URL.String(),
	)
}

func TestPendingStateRejectsMessages(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	rec := &recordingReconciler{}

	consumerPID := uuid.New()
	providerPID := uuid.New()
	negotiation := contract.New(
		providerPID, consumerPID,
		contract.StateInitial, testOffer(), providerCallback, consumerCallback,
		constants.DataspaceConsumer, false,
	)
	require.NoError(t, negotiation.SetState(contract.StateRequesting, "sending contract request"))

	_, cns := statemachine.GetContractNegotiation(ctx, negotiation, rec)
	_, _, err := cns.Recv(ctx, shared.ContractOfferMessage{
		Context:         shared.GetDSPContext(),
		Type:            "dspace:ContractOfferMessage",
		ProviderPID:     providerPID.URN(),
		ConsumerPID:     consumerPID.URN(),
		Offer:           testOffer().MessageOffer,
		CallbackAddress: "https://provider.dsp/",
	})
	require.ErrorIs(t, err, contract.ErrIllegalTransition)

	// A termination still gets through.
	_, apply, err := cns.Recv(ctx, shared.ContractNegotiationTerminationMessage{
		Context:     shared.GetDSPContext(),
		Type:        "dspace:ContractNegotiationTerminationMessage",
		ProviderPID: providerPID.URN(),
		ConsumerPID: consumerPID.URN(),
		Code:        "CANCELLED",
		Reason:      []shared.Multilanguage{{Language: "en", Value: "no longer needed"}},
	})
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, contract.StateTerminated, negotiation.GetState())
	assert.Equal(t, "no longer needed", negotiation.GetErrorDetail())
}

func TestRecvRejectsMismatchedPIDs(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	rec := &recordingReconciler{}

	negotiation := contract.New(
		uuid.New(), uuid.New(),
		contract.StateAgreed, testOffer(), consumerCallback, providerCallback,
		constants.DataspaceProvider, false,
	)

	_, cns := statemachine.GetContractNegotiation(ctx, negotiation, rec)
	_, _, err := cns.Recv(ctx, shared.ContractAgreementVerificationMessage{
		Context:     shared.GetDSPContext(),
		Type:        "dspace:ContractAgreementVerificationMessage",
		ProviderPID: uuid.New().URN(),
		ConsumerPID: negotiation.GetConsumerPID().URN(),
	})
	require.Error(t, err)
	assert.Equal(t, contract.StateAgreed, negotiation.GetState())
}

func TestTerminateNegotiation(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	rec := &recordingReconciler{}

	negotiation := contract.New(
		uuid.New(), uuid.New(),
		contract.StateOffered, testOffer(), consumerCallback, providerCallback,
		constants.DataspaceProvider, false,
	)

	apply, err := statemachine.TerminateNegotiation(ctx, rec, negotiation, "POLICY_VIOLATION",
		[]shared.Multilanguage{{Language: "en", Value: "constraint no longer holds"}})
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, contract.StateTerminating, negotiation.GetState())

	entry := rec.last(t)
	assert.Equal(t, "TERMINATED", entry.TargetState)
	assert.Equal(t,
		"https://consumer.dsp/callback/negotiations/"+negotiation.GetConsumerPID().String()+"/termination",
		entry.URL.String(),
	)
}

func TestReconcilerCommitsTargetState(t *testing.T) {
	ctx, done := context.WithCancel(testContext(t))
	defer done()

	store, err := badger.New(ctx, true, "")
	require.NoError(t, err)

	negotiation := contract.New(
		uuid.New(), uuid.New(),
		contract.StateInitial, testOffer(), providerCallback, consumerCallback,
		constants.DataspaceConsumer, false,
	)
	require.NoError(t, negotiation.SetState(contract.StateRequesting, "sending contract request"))
	require.NoError(t, store.PutContract(ctx, negotiation))

	requester := &MockRequester{}
	reconciler := statemachine.NewReconciler(ctx, requester, store)
	reconciler.Run()

	reconciler.Add(statemachine.ReconciliationEntry{
		EntityID:    negotiation.GetConsumerPID(),
		Type:        statemachine.ReconciliationContract,
		Role:        constants.DataspaceConsumer,
		TargetState: "REQUESTED",
		Method:      "POST",
		URL:         urlMustParse("https://provider.dsp/negotiations/request"),
		Body:        []byte(`{}`),
		Context:     ctx,
	})

	require.Eventually(t, func() bool {
		stored, err := store.GetContractR(ctx, negotiation.GetConsumerPID(), constants.DataspaceConsumer)
		if err != nil {
			return false
		}
		return stored.GetState() == contract.StateRequested
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "POST", requester.ReceivedMethod)
}
