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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openterms/converge/dsp/constants"
	"github.com/openterms/converge/dsp/shared"
	"github.com/openterms/converge/dsp/statemachine"
	"github.com/openterms/converge/dsp/transfer"
	"github.com/openterms/converge/odrl"
)

type mockEDRRegistry struct {
	registered int
	revoked    int
}

func (m *mockEDRRegistry) RegisterEDR(
	ctx context.Context, req *transfer.Request,
) (*shared.DataAddress, error) {
	m.registered++
	return &shared.DataAddress{
		Type:         "dspace:DataAddress",
		EndpointType: "https://w3id.org/idsa/v4.1/HTTPS",
		Endpoint:     "https://provider.dsp/data/" + req.GetProviderPID().String(),
	}, nil
}

func (m *mockEDRRegistry) RevokeEDR(ctx context.Context, req *transfer.Request) error {
	m.revoked++
	return nil
}

func testAgreement(t *testing.T) *odrl.Agreement {
	t.Helper()
	agreement, err := odrl.NewAgreement(
		uuid.New().URN(),
		"https://provider.dsp/participant",
		"https://consumer.dsp/participant",
		target.URN(),
		odrl.TimestampNow().String(),
		odrl.Rules{},
	)
	require.NoError(t, err)
	return agreement
}

func TestProviderTransferFlow(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	rec := &recordingReconciler{}
	edrs := &mockEDRRegistry{}

	consumerPID := uuid.New()
	request, err := transfer.New(
		consumerPID, testAgreement(t), "HTTP_PULL",
		consumerCallback, providerCallback,
		constants.DataspaceProvider, transfer.StateInitial, nil,
	)
	require.NoError(t, err)
	assert.Equal(t, transfer.DirectionPull, request.GetDirection())

	_, trs := statemachine.GetTransferRequest(ctx, request, rec, edrs)
	_, apply, err := trs.Recv(ctx, shared.TransferRequestMessage{
		Context:         shared.GetDSPContext(),
		Type:            "dspace:TransferRequestMessage",
		AgreementID:     uuid.New().URN(),
		Format:          "HTTP_PULL",
		CallbackAddress: "https://consumer.dsp/callback/",
		ConsumerPID:     consumerPID.URN(),
	})
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, transfer.StateRequested, request.GetState())
	assert.NotEqual(t, uuid.UUID{}, request.GetProviderPID())

	// Starting the transfer mints an EDR and ships its address.
	_, trs = statemachine.GetTransferRequest(ctx, request, rec, edrs)
	apply, err = trs.Send(ctx)
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, transfer.StateStarting, request.GetState())
	assert.Equal(t, 1, edrs.registered)
	require.NotNil(t, request.GetDataAddress())

	entry := rec.last(t)
	assert.Equal(t, "STARTED", entry.TargetState)
	assert.Equal(t,
		"https://consumer.dsp/callback/transfers/"+consumerPID.String()+"/start",
		entry.URL.String(),
	)
	require.NoError(t, request.SetState(transfer.StateStarted))

	// The consumer reports completion, which revokes the EDR.
	_, trs = statemachine.GetTransferRequest(ctx, request, rec, edrs)
	_, apply, err = trs.Recv(ctx, shared.TransferCompletionMessage{
		Context:     shared.GetDSPContext(),
		Type:        "dspace:TransferCompletionMessage",
		ProviderPID: request.GetProviderPID().URN(),
		ConsumerPID: consumerPID.URN(),
	})
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, transfer.StateCompleted, request.GetState())
	assert.Equal(t, 1, edrs.revoked)
}

func TestConsumerTransferFlow(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	rec := &recordingReconciler{}
	edrs := &mockEDRRegistry{}

	request, err := transfer.New(
		uuid.New(), testAgreement(t), "HTTP_PULL",
		providerCallback, consumerCallback,
		constants.DataspaceConsumer, transfer.StateInitial, nil,
	)
	require.NoError(t, err)

	_, trs := statemachine.GetTransferRequest(ctx, request, rec, edrs)
	apply, err := trs.Send(ctx)
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, transfer.StateRequesting, request.GetState())

	entry := rec.last(t)
	assert.Equal(t, "REQUESTED", entry.TargetState)
	assert.Equal(t, "https://provider.dsp/transfers/request", entry.URL.String())
	require.NoError(t, request.SetState(transfer.StateRequested))

	// The provider starts the transfer and shares the data address.
	providerPID := uuid.New()
	_, trs = statemachine.GetTransferRequest(ctx, request, rec, edrs)
	_, apply, err = trs.Recv(ctx, shared.TransferStartMessage{
		Context:     shared.GetDSPContext(),
		Type:        "dspace:TransferStartMessage",
		ProviderPID: providerPID.URN(),
		ConsumerPID: request.GetConsumerPID().URN(),
		DataAddress: &shared.DataAddress{
			Type:         "dspace:DataAddress",
			EndpointType: "https://w3id.org/idsa/v4.1/HTTPS",
			Endpoint:     "https://provider.dsp/data/xyz",
		},
	})
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, transfer.StateStarted, request.GetState())
	assert.Equal(t, providerPID, request.GetProviderPID())
	require.NotNil(t, request.GetDataAddress())
	assert.Equal(t, 0, edrs.registered)

	// Consumer side completion.
	_, trs = statemachine.GetTransferRequest(ctx, request, rec, edrs)
	apply, err = trs.Send(ctx)
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, transfer.StateCompleting, request.GetState())

	entry = rec.last(t)
	assert.Equal(t, "COMPLETED", entry.TargetState)
	assert.Equal(t,
		"https://provider.dsp/transfers/"+providerPID.String()+"/completion",
		entry.URL.String(),
	)
}

func TestTransferSuspendAndResume(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	rec := &recordingReconciler{}
	edrs := &mockEDRRegistry{}

	consumerPID := uuid.New()
	request, err := transfer.New(
		consumerPID, testAgreement(t), "HTTP_PULL",
		consumerCallback, providerCallback,
		constants.DataspaceProvider, transfer.StateRequested, nil,
	)
	require.NoError(t, err)
	require.NoError(t, request.SetProviderPID(uuid.New()))
	require.NoError(t, request.SetState(transfer.StateStarted))

	apply, err := statemachine.SuspendTransfer(ctx, rec, edrs, request, "MAINTENANCE",
		[]shared.Multilanguage{{Language: "en", Value: "scheduled maintenance"}})
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, transfer.StateSuspending, request.GetState())
	assert.Equal(t, 1, edrs.revoked)

	entry := rec.last(t)
	assert.Equal(t, "SUSPENDED", entry.TargetState)
	require.NoError(t, request.SetState(transfer.StateSuspended))

	// Resuming registers a fresh EDR.
	_, trs := statemachine.GetTransferRequest(ctx, request, rec, edrs)
	apply, err = trs.Send(ctx)
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, transfer.StateStarting, request.GetState())
	assert.Equal(t, 1, edrs.registered)

	entry = rec.last(t)
	assert.Equal(t, "STARTED", entry.TargetState)
}

func TestTransferProvisioningTier(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	rec := &recordingReconciler{}
	edrs := &mockEDRRegistry{}

	consumerPID := uuid.New()
	request, err := transfer.New(
		consumerPID, testAgreement(t), "HTTP_PULL",
		consumerCallback, providerCallback,
		constants.DataspaceProvider, transfer.StateRequested, nil,
	)
	require.NoError(t, err)
	require.NoError(t, request.SetProviderPID(uuid.New()))

	// Provisioning mints the EDR up front.
	apply, err := statemachine.ProvisionTransfer(ctx, edrs, request)
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, transfer.StateProvisioningRequested, request.GetState())
	assert.Equal(t, 1, edrs.registered)
	require.NotNil(t, request.GetDataAddress())

	apply, err = statemachine.ProvisionedTransfer(ctx, request)
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, transfer.StateProvisioned, request.GetState())

	// Starting from the provisioned state ships the start message without
	// minting another EDR.
	_, trs := statemachine.GetTransferRequest(ctx, request, rec, edrs)
	apply, err = trs.Send(ctx)
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, transfer.StateStarting, request.GetState())
	assert.Equal(t, 1, edrs.registered)

	entry := rec.last(t)
	assert.Equal(t, "STARTED", entry.TargetState)
	require.NoError(t, request.SetState(transfer.StateStarted))

	// Suspension revokes, the resume tier mints a fresh reference.
	apply, err = statemachine.SuspendTransfer(ctx, rec, edrs, request, "MAINTENANCE", nil)
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, 1, edrs.revoked)
	assert.Nil(t, request.GetDataAddress())
	require.NoError(t, request.SetState(transfer.StateSuspended))

	apply, err = statemachine.ResumeTransfer(ctx, edrs, request)
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, transfer.StateResuming, request.GetState())
	assert.Equal(t, 2, edrs.registered)
	require.NotNil(t, request.GetDataAddress())

	apply, err = statemachine.ResumedTransfer(ctx, request)
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, transfer.StateResumed, request.GetState())

	_, trs = statemachine.GetTransferRequest(ctx, request, rec, edrs)
	apply, err = trs.Send(ctx)
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, transfer.StateStarting, request.GetState())
	assert.Equal(t, 2, edrs.registered)
	require.NoError(t, request.SetState(transfer.StateStarted))

	// Completion revokes the reference, deprovisioning only tears down what
	// is left and closes the transfer out.
	apply, err = statemachine.CompleteTransfer(ctx, rec, edrs, request)
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, 2, edrs.revoked)
	require.NoError(t, request.SetState(transfer.StateCompleted))

	apply, err = statemachine.DeprovisionTransfer(ctx, edrs, request)
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, transfer.StateDeprovisioningRequested, request.GetState())
	assert.Equal(t, 2, edrs.revoked)

	apply, err = statemachine.DeprovisionedTransfer(ctx, request)
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, transfer.StateDeprovisioned, request.GetState())
	assert.True(t, request.GetState().Terminal())
}

// A counterparty termination lands even while provisioning is underway.
func TestTransferProvisioningTermination(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	rec := &recordingReconciler{}
	edrs := &mockEDRRegistry{}

	consumerPID := uuid.New()
	request, err := transfer.New(
		consumerPID, testAgreement(t), "HTTP_PULL",
		consumerCallback, providerCallback,
		constants.DataspaceProvider, transfer.StateRequested, nil,
	)
	require.NoError(t, err)
	require.NoError(t, request.SetProviderPID(uuid.New()))

	apply, err := statemachine.ProvisionTransfer(ctx, edrs, request)
	require.NoError(t, err)
	require.NoError(t, apply())

	_, trs := statemachine.GetTransferRequest(ctx, request, rec, edrs)
	_, apply, err = trs.Recv(ctx, shared.TransferTerminationMessage{
		Context:     shared.GetDSPContext(),
		Type:        "dspace:TransferTerminationMessage",
		ProviderPID: request.GetProviderPID().URN(),
		ConsumerPID: consumerPID.URN(),
		Code:        "CANCELLED",
	})
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, transfer.StateTerminated, request.GetState())
	assert.Equal(t, 1, edrs.revoked)
}

func TestTransferPendingRejectsMessages(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	rec := &recordingReconciler{}
	edrs := &mockEDRRegistry{}

	request, err := transfer.New(
		uuid.New(), testAgreement(t), "HTTP_PULL",
		providerCallback, consumerCallback,
		constants.DataspaceConsumer, transfer.StateInitial, nil,
	)
	require.NoError(t, err)
	require.NoError(t, request.SetState(transfer.StateRequesting))

	_, trs := statemachine.GetTransferRequest(ctx, request, rec, edrs)
	_, _, err = trs.Recv(ctx, shared.TransferStartMessage{
		Context:     shared.GetDSPContext(),
		Type:        "dspace:TransferStartMessage",
		ProviderPID: uuid.New().URN(),
		ConsumerPID: request.GetConsumerPID().URN(),
	})
	require.ErrorIs(t, err, transfer.ErrIllegalTransition)

	_, apply, err := trs.Recv(ctx, shared.TransferTerminationMessage{
		Context:     shared.GetDSPContext(),
		Type:        "dspace:TransferTerminationMessage",
		ProviderPID: uuid.UUID{}.URN(),
		ConsumerPID: request.GetConsumerPID().URN(),
		Code:        "CANCELLED",
	})
	require.NoError(t, err)
	require.NoError(t, apply())
	assert.Equal(t, transfer.StateTerminated, request.GetState())
}
