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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openterms/converge/dsp/constants"
	"github.com/openterms/converge/dsp/contract"
	"github.com/openterms/converge/dsp/persistence/badger"
	"github.com/openterms/converge/dsp/shared"
	"github.com/openterms/converge/dsp/statemachine"
	"github.com/openterms/converge/dsp/transfer"
	"github.com/openterms/converge/logging"
	"github.com/openterms/converge/management"
	"github.com/openterms/converge/odrl"
)

type recordingReconciler struct {
	entries []statemachine.ReconciliationEntry
}

func (r *recordingReconciler) Add(entry statemachine.ReconciliationEntry) {
	r.entries = append(r.entries, entry)
}

type apiTestEnv struct {
	store   *management.Store
	backend *badger.StorageProvider
	rec     *recordingReconciler
	mux     http.Handler
	ctx     context.Context
}

func newAPITestEnv(t *testing.T) *apiTestEnv {
	t.Helper()
	ctx := logging.Inject(context.Background(), logging.New("error", true))
	backend, err := badger.New(ctx, true, "")
	require.NoError(t, err)
	store := management.New(
		backend,
		shared.MustParseURL("https://consumer.dsp/"),
		"https://consumer.dsp/participant",
	)
	rec := &recordingReconciler{}
	mux := management.GetManagementRoutes(store, backend, rec, shared.MustParseURL("https://consumer.dsp/"))
	return &apiTestEnv{store: store, backend: backend, rec: rec, mux: mux, ctx: ctx}
}

func (te *apiTestEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(te.ctx)
	rr := httptest.NewRecorder()
	te.mux.ServeHTTP(rr, req)
	return rr
}

func TestAssetAPI(t *testing.T) {
	t.Parallel()
	te := newAPITestEnv(t)

	created := te.do(t, http.MethodPost, "/assets", management.Asset{
		ID:         "asset-1",
		Properties: map[string]any{"name": "test data"},
	})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())

	duplicate := te.do(t, http.MethodPost, "/assets", management.Asset{ID: "asset-1"})
	assert.Equal(t, http.StatusConflict, duplicate.Code)

	got := te.do(t, http.MethodGet, "/assets/asset-1", nil)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Contains(t, got.Body.String(), "test data")

	mismatch := te.do(t, http.MethodPut, "/assets/asset-1", management.Asset{ID: "other"})
	assert.Equal(t, http.StatusBadRequest, mismatch.Code)

	deleted := te.do(t, http.MethodDelete, "/assets/asset-1", nil)
	assert.Equal(t, http.StatusNoContent, deleted.Code)

	missing := te.do(t, http.MethodGet, "/assets/asset-1", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestAssetQueryAPI(t *testing.T) {
	t.Parallel()
	te := newAPITestEnv(t)

	for _, asset := range []management.Asset{
		{ID: "asset-1", Properties: map[string]any{"format": "csv"}},
		{ID: "asset-2", Properties: map[string]any{"format": "json"}},
	} {
		rr := te.do(t, http.MethodPost, "/assets", asset)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}

	rr := te.do(t, http.MethodPost, "/assets/request", management.QuerySpec{
		FilterExpression: []management.Criterion{
			{OperandLeft: "properties.format", Operator: "=", OperandRight: "csv"},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var assets []management.Asset
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &assets))
	require.Len(t, assets, 1)
	assert.Equal(t, "asset-1", assets[0].ID)

	// An empty body is an unfiltered query.
	all := te.do(t, http.MethodPost, "/assets/request", nil)
	require.Equal(t, http.StatusOK, all.Code)
	require.NoError(t, json.Unmarshal(all.Body.Bytes(), &assets))
	assert.Len(t, assets, 2)
}

func TestInitiateNegotiationAPI(t *testing.T) {
	t.Parallel()
	te := newAPITestEnv(t)

	rr := te.do(t, http.MethodPost, "/negotiations", management.NegotiationInitiateRequest{
		CounterPartyAddress: "https://provider.dsp/",
		Offer: odrl.MessageOffer{
			PolicyClass: odrl.PolicyClass{
				ID:       uuid.New().URN(),
				Assigner: "https://provider.dsp/participant",
			},
			Type:   "odrl:Offer",
			Target: uuid.New().URN(),
		},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var view map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, "REQUESTING", view["state"])
	assert.Equal(t, "consumer", view["type"])

	require.NotEmpty(t, te.rec.entries)
	entry := te.rec.entries[len(te.rec.entries)-1]
	assert.Equal(t, "REQUESTED", entry.TargetState)

	id, err := shared.ParseUUIDURN(view["@id"].(string))
	require.NoError(t, err)
	stored, err := te.backend.GetContractR(te.ctx, id, constants.DataspaceConsumer)
	require.NoError(t, err)
	assert.Equal(t, contract.StateRequesting, stored.GetState())
}

func seedNegotiation(t *testing.T, te *apiTestEnv, state contract.State) uuid.UUID {
	t.Helper()
	providerPID := uuid.New()
	negotiation := contract.New(
		providerPID,
		uuid.New(),
		state,
		odrl.Offer{MessageOffer: odrl.MessageOffer{
			PolicyClass: odrl.PolicyClass{
				ID:       uuid.New().URN(),
				Assigner: "https://provider.dsp/participant",
			},
			Type:   "odrl:Offer",
			Target: uuid.New().URN(),
		}},
		shared.MustParseURL("https://consumer.dsp/callback/"),
		shared.MustParseURL("https://provider.dsp/"),
		constants.DataspaceProvider,
		false,
	)
	require.NoError(t, te.backend.PutContract(te.ctx, negotiation))
	return providerPID
}

func TestNegotiationStateAPI(t *testing.T) {
	t.Parallel()
	te := newAPITestEnv(t)
	pid := seedNegotiation(t, te, contract.StateOffered)

	rr := te.do(t, http.MethodGet, "/negotiations/"+pid.String()+"/state", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "OFFERED")

	missing := te.do(t, http.MethodGet, "/negotiations/"+uuid.New().String()+"/state", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestTerminateNegotiationAPI(t *testing.T) {
	t.Parallel()
	te := newAPITestEnv(t)
	pid := seedNegotiation(t, te, contract.StateOffered)

	rr := te.do(t, http.MethodPost, "/negotiations/"+pid.String()+"/terminate",
		management.TerminateRequest{Code: "NO_LONGER_NEEDED", Reason: "testing"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	stored, err := te.backend.GetContractR(te.ctx, pid, constants.DataspaceProvider)
	require.NoError(t, err)
	assert.Equal(t, contract.StateTerminating, stored.GetState())

	require.NotEmpty(t, te.rec.entries)
	entry := te.rec.entries[len(te.rec.entries)-1]
	assert.Equal(t, "TERMINATED", entry.TargetState)
}

func TestAgreeNegotiationAPI(t *testing.T) {
	t.Parallel()
	te := newAPITestEnv(t)
	pid := seedNegotiation(t, te, contract.StateRequested)

	rr := te.do(t, http.MethodPost, "/negotiations/"+pid.String()+"/agree", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	stored, err := te.backend.GetContractR(te.ctx, pid, constants.DataspaceProvider)
	require.NoError(t, err)
	assert.Equal(t, contract.StateAgreeing, stored.GetState())
	require.NotNil(t, stored.GetAgreement())

	// The agreement gets stored alongside the negotiation.
	agreementID, err := shared.ParseUUIDURN(stored.GetAgreement().ID)
	require.NoError(t, err)
	_, err = te.backend.GetAgreement(te.ctx, agreementID)
	require.NoError(t, err)
}

func TestAgreeNegotiationAPIIllegalState(t *testing.T) {
	t.Parallel()
	te := newAPITestEnv(t)
	pid := seedNegotiation(t, te, contract.StateVerified)

	rr := te.do(t, http.MethodPost, "/negotiations/"+pid.String()+"/agree", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// The operation must not leave the record locked.
	stored, err := te.backend.GetContractRW(te.ctx, pid, constants.DataspaceProvider)
	require.NoError(t, err)
	require.NoError(t, te.backend.ReleaseContract(te.ctx, stored))
}

func seedAgreement(t *testing.T, te *apiTestEnv, state contract.State) *odrl.Agreement {
	t.Helper()
	agreement, err := odrl.NewAgreement(
		uuid.New().URN(),
		"https://provider.dsp/participant",
		"https://consumer.dsp/participant",
		uuid.New().URN(),
		odrl.TimestampNow().String(),
		odrl.Rules{Permissions: []odrl.Permission{
			{RuleHeader: odrl.RuleHeader{Action: odrl.Action{Name: "odrl:use"}}},
		}},
	)
	require.NoError(t, err)

	negotiation := contract.New(
		uuid.New(),
		uuid.New(),
		state,
		odrl.Offer{MessageOffer: odrl.MessageOffer{
			PolicyClass: odrl.PolicyClass{
				ID:       uuid.New().URN(),
				Assigner: "https://provider.dsp/participant",
			},
			Type:   "odrl:Offer",
			Target: agreement.Target,
		}},
		shared.MustParseURL("https://provider.dsp/"),
		shared.MustParseURL("https://consumer.dsp/callback/"),
		constants.DataspaceConsumer,
		false,
	)
	negotiation.SetAgreement(agreement)
	require.NoError(t, te.backend.PutContract(te.ctx, negotiation))
	require.NoError(t, te.backend.PutAgreement(te.ctx, agreement))
	return agreement
}

func TestInitiateTransferAPI(t *testing.T) {
	t.Parallel()
	te := newAPITestEnv(t)
	agreement := seedAgreement(t, te, contract.StateFinalized)

	rr := te.do(t, http.MethodPost, "/transfers", management.TransferInitiateRequest{
		AgreementID:         agreement.ID,
		Format:              "HTTP_PULL",
		CounterPartyAddress: "https://provider.dsp/",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var view map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, "REQUESTING", view["state"])

	require.NotEmpty(t, te.rec.entries)
	entry := te.rec.entries[len(te.rec.entries)-1]
	assert.Equal(t, "REQUESTED", entry.TargetState)

	id, err := shared.ParseUUIDURN(view["@id"].(string))
	require.NoError(t, err)
	stored, err := te.backend.GetTransferR(te.ctx, id, constants.DataspaceConsumer)
	require.NoError(t, err)
	assert.Equal(t, transfer.StateRequesting, stored.GetState())
}

func TestInitiateTransferAPIUnfinalized(t *testing.T) {
	t.Parallel()
	te := newAPITestEnv(t)
	agreement := seedAgreement(t, te, contract.StateAgreed)

	rr := te.do(t, http.MethodPost, "/transfers", management.TransferInitiateRequest{
		AgreementID:         agreement.ID,
		Format:              "HTTP_PULL",
		CounterPartyAddress: "https://provider.dsp/",
	})
	assert.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())
}

func TestInitiateTransferAPIUnknownAgreement(t *testing.T) {
	t.Parallel()
	te := newAPITestEnv(t)

	rr := te.do(t, http.MethodPost, "/transfers", management.TransferInitiateRequest{
		AgreementID:         uuid.New().URN(),
		Format:              "HTTP_PULL",
		CounterPartyAddress: "https://provider.dsp/",
	})
	assert.Equal(t, http.StatusNotFound, rr.Code, rr.Body.String())
}

func TestTransferProvisioningAPI(t *testing.T) {
	t.Parallel()
	te := newAPITestEnv(t)
	agreement := seedAgreement(t, te, contract.StateFinalized)

	request, err := transfer.New(
		uuid.New(), agreement, "HTTP_PULL",
		shared.MustParseURL("https://consumer.dsp/callback/"),
		shared.MustParseURL("https://provider.dsp/"),
		constants.DataspaceProvider, transfer.StateRequested, nil,
	)
	require.NoError(t, err)
	require.NoError(t, request.SetProviderPID(uuid.New()))
	pid := request.GetProviderPID()
	require.NoError(t, te.backend.PutTransfer(te.ctx, request))

	rr := te.do(t, http.MethodPost, "/transfers/"+pid.String()+"/provision", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var view map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, "PROVISIONING_REQUESTED", view["state"])

	rr = te.do(t, http.MethodPost, "/transfers/"+pid.String()+"/provisioned", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, "PROVISIONED", view["state"])

	// Deprovisioning only makes sense for a completed transfer.
	rr = te.do(t, http.MethodPost, "/transfers/"+pid.String()+"/deprovision", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
}

func TestQueryNegotiationsAPI(t *testing.T) {
	t.Parallel()
	te := newAPITestEnv(t)
	seedNegotiation(t, te, contract.StateOffered)
	seedNegotiation(t, te, contract.StateRequested)

	rr := te.do(t, http.MethodPost, "/negotiations/request", management.QuerySpec{
		FilterExpression: []management.Criterion{
			{OperandLeft: "state", Operator: "=", OperandRight: "OFFERED"},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var views []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "OFFERED", views[0]["state"])
}
