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

package management_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openterms/converge/dsp/constants"
	"github.com/openterms/converge/dsp/persistence"
	"github.com/openterms/converge/dsp/persistence/badger"
	"github.com/openterms/converge/dsp/shared"
	"github.com/openterms/converge/dsp/transfer"
	"github.com/openterms/converge/logging"
	"github.com/openterms/converge/management"
	"github.com/openterms/converge/odrl"
)

func newTestStore(t *testing.T) (context.Context, *management.Store, *badger.StorageProvider) {
	t.Helper()
	ctx := logging.Inject(context.Background(), logging.New("error", true))
	backend, err := badger.New(ctx, true, "")
	require.NoError(t, err)
	store := management.New(
		backend,
		shared.MustParseURL("https://provider.dsp/"),
		"https://provider.dsp/participant",
	)
	return ctx, store, backend
}

func testPolicy(id string) *management.PolicyDefinition {
	return &management.PolicyDefinition{
		ID: id,
		Policy: odrl.PolicyClass{
			ID:       uuid.New().URN(),
			Assigner: "https://provider.dsp/participant",
		},
	}
}

func seedPolicies(t *testing.T, ctx context.Context, store *management.Store) {
	t.Helper()
	require.NoError(t, store.CreatePolicyDefinition(ctx, testPolicy("access-policy")))
	require.NoError(t, store.CreatePolicyDefinition(ctx, testPolicy("contract-policy")))
}

func TestAssetCRUD(t *testing.T) {
	t.Parallel()
	ctx, store, _ := newTestStore(t)

	asset := &management.Asset{
		ID:         "asset-1",
		Properties: map[string]any{"name": "test data"},
	}
	require.NoError(t, store.CreateAsset(ctx, asset))
	assert.False(t, asset.CreatedAt.IsZero())

	err := store.CreateAsset(ctx, &management.Asset{ID: "asset-1"})
	assert.ErrorIs(t, err, management.ErrConflict)

	got, err := store.GetAsset(ctx, "asset-1")
	require.NoError(t, err)
	assert.Equal(t, "test data", got.Properties["name"])

	got.Properties["name"] = "renamed"
	require.NoError(t, store.UpdateAsset(ctx, got))
	got, err = store.GetAsset(ctx, "asset-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Properties["name"])

	err = store.UpdateAsset(ctx, &management.Asset{ID: "nonexistent"})
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	require.NoError(t, store.DeleteAsset(ctx, "asset-1"))
	_, err = store.GetAsset(ctx, "asset-1")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestDeleteAssetInUse(t *testing.T) {
	t.Parallel()
	ctx, store, _ := newTestStore(t)
	seedPolicies(t, ctx, store)

	require.NoError(t, store.CreateAsset(ctx, &management.Asset{
		ID:         "asset-1",
		Properties: map[string]any{"format": "csv"},
	}))
	require.NoError(t, store.CreateContractDefinition(ctx, &management.ContractDefinition{
		ID:               "cd-1",
		AccessPolicyID:   "access-policy",
		ContractPolicyID: "contract-policy",
		AssetsSelector: []management.Criterion{
			{OperandLeft: "properties.format", Operator: "=", OperandRight: "csv"},
		},
	}))

	err := store.DeleteAsset(ctx, "asset-1")
	assert.ErrorIs(t, err, management.ErrConflict)

	require.NoError(t, store.DeleteContractDefinition(ctx, "cd-1"))
	assert.NoError(t, store.DeleteAsset(ctx, "asset-1"))
}

func TestDeletePolicyDefinitionInUse(t *testing.T) {
	t.Parallel()
	ctx, store, _ := newTestStore(t)
	seedPolicies(t, ctx, store)

	require.NoError(t, store.CreateContractDefinition(ctx, &management.ContractDefinition{
		ID:               "cd-1",
		AccessPolicyID:   "access-policy",
		ContractPolicyID: "contract-policy",
	}))

	err := store.DeletePolicyDefinition(ctx, "access-policy")
	assert.ErrorIs(t, err, management.ErrConflict)
	err = store.DeletePolicyDefinition(ctx, "contract-policy")
	assert.ErrorIs(t, err, management.ErrConflict)

	require.NoError(t, store.DeleteContractDefinition(ctx, "cd-1"))
	assert.NoError(t, store.DeletePolicyDefinition(ctx, "access-policy"))
}

func TestCreateContractDefinitionChecksPolicies(t *testing.T) {
	t.Parallel()
	ctx, store, _ := newTestStore(t)

	err := store.CreateContractDefinition(ctx, &management.ContractDefinition{
		ID:               "cd-1",
		AccessPolicyID:   "missing",
		ContractPolicyID: "missing",
	})
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func newTestTransfer(t *testing.T) *transfer.Request {
	t.Helper()
	agreement, err := odrl.NewAgreement(
		uuid.New().URN(),
		"https://provider.dsp/participant",
		"https://consumer.dsp/participant",
		uuid.New().URN(),
		odrl.TimestampNow().String(),
		odrl.Rules{},
	)
	require.NoError(t, err)

	request, err := transfer.New(
		uuid.New(),
		agreement,
		"HTTP_PULL",
		shared.MustParseURL("https://consumer.dsp/callback/"),
		shared.MustParseURL("https://provider.dsp/"),
		constants.DataspaceProvider,
		transfer.StateRequested,
		nil,
	)
	require.NoError(t, err)
	require.NoError(t, request.SetProviderPID(uuid.New()))
	return request
}

func TestRegisterAndRevokeEDR(t *testing.T) {
	t.Parallel()
	ctx, store, _ := newTestStore(t)
	request := newTestTransfer(t)

	address, err := store.RegisterEDR(ctx, request)
	require.NoError(t, err)
	assert.Contains(t, address.Endpoint, "/data/"+request.GetProviderPID().String())
	require.NotEmpty(t, address.EndpointProperties)
	assert.Equal(t, "authorization", address.EndpointProperties[0].Name)
	assert.NotEmpty(t, address.EndpointProperties[0].Value)

	entry, err := store.GetEDR(ctx, request.GetProviderPID().URN())
	require.NoError(t, err)
	assert.Equal(t, request.GetAgreementID().URN(), entry.AgreementID)
	assert.Equal(t, address.EndpointProperties[0].Value, entry.Token)

	// Re-registration rotates the token.
	rotated, err := store.RegisterEDR(ctx, request)
	require.NoError(t, err)
	assert.NotEqual(t, address.EndpointProperties[0].Value, rotated.EndpointProperties[0].Value)

	require.NoError(t, store.RevokeEDR(ctx, request))
	_, err = store.GetEDR(ctx, request.GetProviderPID().URN())
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	// Revoking an already revoked reference is fine.
	assert.NoError(t, store.RevokeEDR(ctx, request))
}

func TestQueryEDRs(t *testing.T) {
	t.Parallel()
	ctx, store, _ := newTestStore(t)

	first := newTestTransfer(t)
	second := newTestTransfer(t)
	_, err := store.RegisterEDR(ctx, first)
	require.NoError(t, err)
	_, err = store.RegisterEDR(ctx, second)
	require.NoError(t, err)

	all, err := store.QueryEDRs(ctx, management.QuerySpec{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := store.QueryEDRs(ctx, management.QuerySpec{
		FilterExpression: []management.Criterion{
			{OperandLeft: "agreementId", Operator: "=", OperandRight: first.GetAgreementID().URN()},
		},
	})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, first.GetProviderPID().URN(), filtered[0].TransferProcessID)
}
