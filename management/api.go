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

package management

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"github.com/google/uuid"

	"github.com/openterms/converge/dsp/constants"
	"github.com/openterms/converge/dsp/contract"
	"github.com/openterms/converge/dsp/persistence"
	"github.com/openterms/converge/dsp/shared"
	"github.com/openterms/converge/dsp/statemachine"
	"github.com/openterms/converge/dsp/transfer"
	"github.com/openterms/converge/logging"
	"github.com/openterms/converge/odrl"
)

// NegotiationInitiateRequest starts a consumer-side negotiation against a
// remote provider.
type NegotiationInitiateRequest struct {
	CounterPartyAddress string            `json:"counterPartyAddress" validate:"required"`
	Offer               odrl.MessageOffer `json:"offer" validate:"required"`
	AutoAccept          bool              `json:"autoAccept,omitempty"`
}

// TransferInitiateRequest starts a consumer-side transfer under an existing
// agreement. A data address makes it a push transfer.
type TransferInitiateRequest struct {
	AgreementID         string              `json:"agreementId" validate:"required"`
	Format              string              `json:"format" validate:"required"`
	CounterPartyAddress string              `json:"counterPartyAddress" validate:"required"`
	DataAddress         *shared.DataAddress `json:"dataAddress,omitempty"`
}

// TerminateRequest carries the termination code and a human readable reason.
type TerminateRequest struct {
	Code   string `json:"code" validate:"required"`
	Reason string `json:"reason,omitempty"`
}

type apiHandlers struct {
	store      *Store
	dsp        persistence.StorageProvider
	reconciler statemachine.Reconciler
	selfURL    *url.URL
}

// GetManagementRoutes returns the management API routes, to be mounted
// under /api/v1.
func GetManagementRoutes(
	store *Store,
	dspStore persistence.StorageProvider,
	reconciler statemachine.Reconciler,
	selfURL *url.URL,
) http.Handler {
	mux := http.NewServeMux()
	h := apiHandlers{
		store:      store,
		dsp:        dspStore,
		reconciler: reconciler,
		selfURL:    selfURL,
	}

	mux.Handle("POST /assets", h.wrap(h.createAsset))
	mux.Handle("GET /assets/{id}", h.wrap(h.getAsset))
	mux.Handle("PUT /assets/{id}", h.wrap(h.updateAsset))
	mux.Handle("DELETE /assets/{id}", h.wrap(h.deleteAsset))
	mux.Handle("POST /assets/request", h.wrap(h.queryAssets))

	mux.Handle("POST /policydefinitions", h.wrap(h.createPolicyDefinition))
	mux.Handle("GET /policydefinitions/{id}", h.wrap(h.getPolicyDefinition))
	mux.Handle("PUT /policydefinitions/{id}", h.wrap(h.updatePolicyDefinition))
	mux.Handle("DELETE /policydefinitions/{id}", h.wrap(h.deletePolicyDefinition))
	mux.Handle("POST /policydefinitions/request", h.wrap(h.queryPolicyDefinitions))

	mux.Handle("POST /contractdefinitions", h.wrap(h.createContractDefinition))
	mux.Handle("GET /contractdefinitions/{id}", h.wrap(h.getContractDefinition))
	mux.Handle("PUT /contractdefinitions/{id}", h.wrap(h.updateContractDefinition))
	mux.Handle("DELETE /contractdefinitions/{id}", h.wrap(h.deleteContractDefinition))
	mux.Handle("POST /contractdefinitions/request", h.wrap(h.queryContractDefinitions))

	mux.Handle("POST /negotiations", h.wrap(h.initiateNegotiation))
	mux.Handle("POST /negotiations/request", h.wrap(h.queryNegotiations))
	mux.Handle("GET /negotiations/{id}", h.wrap(h.getNegotiation))
	mux.Handle("GET /negotiations/{id}/state", h.wrap(h.getNegotiationState))
	mux.Handle("POST /negotiations/{id}/accept", h.wrap(h.acceptNegotiation))
	mux.Handle("POST /negotiations/{id}/offer", h.wrap(h.offerNegotiation))
	mux.Handle("POST /negotiations/{id}/agree", h.wrap(h.agreeNegotiation))
	mux.Handle("POST /negotiations/{id}/verify", h.wrap(h.verifyNegotiation))
	mux.Handle("POST /negotiations/{id}/finalize", h.wrap(h.finalizeNegotiation))
	mux.Handle("POST /negotiations/{id}/terminate", h.wrap(h.terminateNegotiation))

	mux.Handle("POST /transfers", h.wrap(h.initiateTransfer))
	mux.Handle("POST /transfers/request", h.wrap(h.queryTransfers))
	mux.Handle("GET /transfers/{id}", h.wrap(h.getTransfer))
	mux.Handle("GET /transfers/{id}/state", h.wrap(h.getTransferState))
	mux.Handle("POST /transfers/{id}/provision", h.wrap(h.provisionTransfer))
	mux.Handle("POST /transfers/{id}/provisioned", h.wrap(h.provisionedTransfer))
	mux.Handle("POST /transfers/{id}/start", h.wrap(h.startTransfer))
	mux.Handle("POST /transfers/{id}/suspend", h.wrap(h.suspendTransfer))
	mux.Handle("POST /transfers/{id}/resume", h.wrap(h.resumeTransfer))
	mux.Handle("POST /transfers/{id}/resumed", h.wrap(h.resumedTransfer))
	mux.Handle("POST /transfers/{id}/complete", h.wrap(h.completeTransfer))
	mux.Handle("POST /transfers/{id}/deprovision", h.wrap(h.deprovisionTransfer))
	mux.Handle("POST /transfers/{id}/deprovisioned", h.wrap(h.deprovisionedTransfer))
	mux.Handle("POST /transfers/{id}/terminate", h.wrap(h.terminateTransfer))

	mux.Handle("POST /edrs/request", h.wrap(h.queryEDRs))

	return mux
}

type statusError struct {
	status int
	msg    string
}

func (e statusError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return statusError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func errStatus(err error) int {
	var se statusError
	switch {
	case errors.As(err, &se):
		return se.status
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, contract.ErrIllegalTransition), errors.Is(err, transfer.ErrIllegalTransition):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h apiHandlers) wrap(f func(w http.ResponseWriter, r *http.Request) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := f(w, r)
		if err == nil {
			return
		}
		status := errStatus(err)
		logger := logging.Extract(r.Context())
		if status >= http.StatusInternalServerError {
			logger.Error("Management request failed", "err", err, "path", r.URL.Path)
		} else {
			logger.Debug("Management request rejected", "err", err, "path", r.URL.Path)
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody[T any](r *http.Request) (T, error) {
	var v T
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return v, badRequest("could not read body: %s", err)
	}
	v, err = shared.UnmarshalAndValidate(r.Context(), body, v)
	if err != nil {
		return v, badRequest("invalid body: %s", err)
	}
	return v, nil
}

func decodeQuery(r *http.Request) (QuerySpec, error) {
	// An empty body is an unfiltered query.
	var q QuerySpec
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return q, badRequest("could not read body: %s", err)
	}
	if len(body) == 0 {
		return q, nil
	}
	q, err = shared.UnmarshalAndValidate(r.Context(), body, q)
	if err != nil {
		return q, badRequest("invalid query: %s", err)
	}
	return q, nil
}

func (h apiHandlers) createAsset(w http.ResponseWriter, r *http.Request) error {
	asset, err := decodeBody[Asset](r)
	if err != nil {
		return err
	}
	if err := h.store.CreateAsset(r.Context(), &asset); err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, &asset)
	return nil
}

func (h apiHandlers) getAsset(w http.ResponseWriter, r *http.Request) error {
	asset, err := h.store.GetAsset(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, asset)
	return nil
}

func (h apiHandlers) updateAsset(w http.ResponseWriter, r *http.Request) error {
	asset, err := decodeBody[Asset](r)
	if err != nil {
		return err
	}
	if asset.ID != r.PathValue("id") {
		return badRequest("body ID %s does not match path", asset.ID)
	}
	if err := h.store.UpdateAsset(r.Context(), &asset); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, &asset)
	return nil
}

func (h apiHandlers) deleteAsset(w http.ResponseWriter, r *http.Request) error {
	if err := h.store.DeleteAsset(r.Context(), r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h apiHandlers) queryAssets(w http.ResponseWriter, r *http.Request) error {
	q, err := decodeQuery(r)
	if err != nil {
		return err
	}
	assets, err := h.store.QueryAssets(r.Context(), q)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, assets)
	return nil
}

func (h apiHandlers) createPolicyDefinition(w http.ResponseWriter, r *http.Request) error {
	policy, err := decodeBody[PolicyDefinition](r)
	if err != nil {
		return err
	}
	if err := h.store.CreatePolicyDefinition(r.Context(), &policy); err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, &policy)
	return nil
}

func (h apiHandlers) getPolicyDefinition(w http.ResponseWriter, r *http.Request) error {
	policy, err := h.store.GetPolicyDefinition(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, policy)
	return nil
}

func (h apiHandlers) updatePolicyDefinition(w http.ResponseWriter, r *http.Request) error {
	policy, err := decodeBody[PolicyDefinition](r)
	if err != nil {
		return err
	}
	if policy.ID != r.PathValue("id") {
		return badRequest("body ID %s does not match path", policy.ID)
	}
	if err := h.store.UpdatePolicyDefinition(r.Context(), &policy); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, &policy)
	return nil
}

func (h apiHandlers) deletePolicyDefinition(w http.ResponseWriter, r *http.Request) error {
	if err := h.store.DeletePolicyDefinition(r.Context(), r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h apiHandlers) queryPolicyDefinitions(w http.ResponseWriter, r *http.Request) error {
	q, err := decodeQuery(r)
	if err != nil {
		return err
	}
	policies, err := h.store.QueryPolicyDefinitions(r.Context(), q)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, policies)
	return nil
}

func (h apiHandlers) createContractDefinition(w http.ResponseWriter, r *http.Request) error {
	definition, err := decodeBody[ContractDefinition](r)
	if err != nil {
		return err
	}
	if err := h.store.CreateContractDefinition(r.Context(), &definition); err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, &definition)
	return nil
}

func (h apiHandlers) getContractDefinition(w http.ResponseWriter, r *http.Request) error {
	definition, err := h.store.GetContractDefinition(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, definition)
	return nil
}

func (h apiHandlers) updateContractDefinition(w http.ResponseWriter, r *http.Request) error {
	definition, err := decodeBody[ContractDefinition](r)
	if err != nil {
		return err
	}
	if definition.ID != r.PathValue("id") {
		return badRequest("body ID %s does not match path", definition.ID)
	}
	if err := h.store.UpdateContractDefinition(r.Context(), &definition); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, &definition)
	return nil
}

func (h apiHandlers) deleteContractDefinition(w http.ResponseWriter, r *http.Request) error {
	if err := h.store.DeleteContractDefinition(r.Context(), r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h apiHandlers) queryContractDefinitions(w http.ResponseWriter, r *http.Request) error {
	q, err := decodeQuery(r)
	if err != nil {
		return err
	}
	definitions, err := h.store.QueryContractDefinitions(r.Context(), q)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, definitions)
	return nil
}

func negotiationView(n *contract.Negotiation) map[string]any {
	fields := n.QueryFields()
	if detail := n.GetErrorDetail(); detail != "" {
		fields["errorDetail"] = detail
	}
	return fields
}

func transferView(t *transfer.Request) map[string]any {
	return t.QueryFields()
}

// selfCallbackURL is the base remote parties reach our consumer callbacks on.
func (h apiHandlers) selfCallbackURL() *url.URL {
	u, err := url.Parse(h.selfURL.String())
	if err != nil {
		panic(fmt.Sprintf("self URL stopped parsing: %s", err))
	}
	u.Path = path.Join(u.Path, "callback")
	return u
}

func (h apiHandlers) initiateNegotiation(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	initReq, err := decodeBody[NegotiationInitiateRequest](r)
	if err != nil {
		return err
	}
	counterParty, err := url.Parse(initReq.CounterPartyAddress)
	if err != nil {
		return badRequest("invalid counterPartyAddress: %s", err)
	}

	negotiation := contract.New(
		uuid.UUID{},
		uuid.New(),
		contract.StateInitial,
		odrl.Offer{MessageOffer: initReq.Offer},
		counterParty,
		h.selfCallbackURL(),
		constants.DataspaceConsumer,
		initReq.AutoAccept,
	)

	ctx, _ = logging.InjectLabels(ctx, negotiation.GetLogFields("")...)
	apply, err := statemachine.RequestNegotiation(ctx, h.reconciler, negotiation)
	if err != nil {
		return err
	}
	if err := h.dsp.PutContract(ctx, negotiation); err != nil {
		return err
	}
	if err := apply(); err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, negotiationView(negotiation))
	return nil
}

func (h apiHandlers) getNegotiationR(ctx context.Context, rawID string) (*contract.Negotiation, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, badRequest("invalid negotiation ID: %s", err)
	}
	n, err := h.dsp.GetContractR(ctx, id, constants.DataspaceConsumer)
	if errors.Is(err, persistence.ErrNotFound) {
		return h.dsp.GetContractR(ctx, id, constants.DataspaceProvider)
	}
	return n, err
}

func (h apiHandlers) getNegotiationRW(ctx context.Context, rawID string) (*contract.Negotiation, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, badRequest("invalid negotiation ID: %s", err)
	}
	n, err := h.dsp.GetContractRW(ctx, id, constants.DataspaceConsumer)
	if errors.Is(err, persistence.ErrNotFound) {
		return h.dsp.GetContractRW(ctx, id, constants.DataspaceProvider)
	}
	return n, err
}

func (h apiHandlers) getNegotiation(w http.ResponseWriter, r *http.Request) error {
	negotiation, err := h.getNegotiationR(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, negotiationView(negotiation))
	return nil
}

func (h apiHandlers) getNegotiationState(w http.ResponseWriter, r *http.Request) error {
	negotiation, err := h.getNegotiationR(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": negotiation.GetState().String()})
	return nil
}

func (h apiHandlers) queryNegotiations(w http.ResponseWriter, r *http.Request) error {
	q, err := decodeQuery(r)
	if err != nil {
		return err
	}
	negotiations, err := h.dsp.GetNegotiations(r.Context())
	if err != nil {
		return err
	}
	views := []map[string]any{}
	for _, n := range Apply(negotiations, q) {
		views = append(views, negotiationView(n))
	}
	writeJSON(w, http.StatusOK, views)
	return nil
}

type negotiationOp func(
	ctx context.Context, r statemachine.Reconciler, c *contract.Negotiation,
) (func() error, error)

// progressNegotiation runs a send operation on a locked negotiation and
// stores the result. A failed operation maps to 400 via ErrIllegalTransition.
func (h apiHandlers) progressNegotiation(w http.ResponseWriter, r *http.Request, op negotiationOp) error {
	ctx := r.Context()
	negotiation, err := h.getNegotiationRW(ctx, r.PathValue("id"))
	if err != nil {
		return err
	}
	ctx, _ = logging.InjectLabels(ctx, negotiation.GetLogFields("")...)

	apply, err := op(ctx, h.reconciler, negotiation)
	if err != nil {
		h.releaseNegotiation(ctx, negotiation)
		return err
	}
	if err := h.storeNegotiation(ctx, negotiation); err != nil {
		return err
	}
	if err := apply(); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, negotiationView(negotiation))
	return nil
}

func (h apiHandlers) storeNegotiation(ctx context.Context, negotiation *contract.Negotiation) error {
	agreement := negotiation.GetAgreement()
	if err := h.dsp.PutContract(ctx, negotiation); err != nil {
		return err
	}
	// Agreements are immutable, only a first sighting gets stored.
	if agreement != nil {
		id, err := uuid.Parse(agreement.ID)
		if err != nil {
			return fmt.Errorf("agreement has non-UUID ID %s: %w", agreement.ID, err)
		}
		if _, err := h.dsp.GetAgreement(ctx, id); errors.Is(err, persistence.ErrNotFound) {
			return h.dsp.PutAgreement(ctx, agreement)
		} else if err != nil {
			return err
		}
	}
	return nil
}

func (h apiHandlers) releaseNegotiation(ctx context.Context, negotiation *contract.Negotiation) {
	if err := h.dsp.ReleaseContract(ctx, negotiation); err != nil {
		logging.Extract(ctx).Error("Could not release negotiation", "err", err)
	}
}

func (h apiHandlers) acceptNegotiation(w http.ResponseWriter, r *http.Request) error {
	return h.progressNegotiation(w, r, func(
		ctx context.Context, rec statemachine.Reconciler, c *contract.Negotiation,
	) (func() error, error) {
		return statemachine.AcceptNegotiation(ctx, rec, c)
	})
}

func (h apiHandlers) offerNegotiation(w http.ResponseWriter, r *http.Request) error {
	return h.progressNegotiation(w, r, func(
		ctx context.Context, rec statemachine.Reconciler, c *contract.Negotiation,
	) (func() error, error) {
		return statemachine.OfferNegotiation(ctx, rec, c)
	})
}

func (h apiHandlers) agreeNegotiation(w http.ResponseWriter, r *http.Request) error {
	return h.progressNegotiation(w, r, func(
		ctx context.Context, rec statemachine.Reconciler, c *contract.Negotiation,
	) (func() error, error) {
		return statemachine.AgreeNegotiation(ctx, rec, c)
	})
}

func (h apiHandlers) verifyNegotiation(w http.ResponseWriter, r *http.Request) error {
	return h.progressNegotiation(w, r, func(
		ctx context.Context, rec statemachine.Reconciler, c *contract.Negotiation,
	) (func() error, error) {
		return statemachine.VerifyNegotiation(ctx, rec, c)
	})
}

func (h apiHandlers) finalizeNegotiation(w http.ResponseWriter, r *http.Request) error {
	return h.progressNegotiation(w, r, func(
		ctx context.Context, rec statemachine.Reconciler, c *contract.Negotiation,
	) (func() error, error) {
		return statemachine.FinalizeNegotiation(ctx, rec, c)
	})
}

func (h apiHandlers) terminateNegotiation(w http.ResponseWriter, r *http.Request) error {
	termReq, err := decodeBody[TerminateRequest](r)
	if err != nil {
		return err
	}
	return h.progressNegotiation(w, r, func(
		ctx context.Context, rec statemachine.Reconciler, c *contract.Negotiation,
	) (func() error, error) {
		return statemachine.TerminateNegotiation(ctx, rec, c, termReq.Code, reasons(termReq.Reason))
	})
}

func reasons(reason string) []shared.Multilanguage {
	if reason == "" {
		return nil
	}
	return []shared.Multilanguage{{Language: "en", Value: reason}}
}

func (h apiHandlers) initiateTransfer(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	initReq, err := decodeBody[TransferInitiateRequest](r)
	if err != nil {
		return err
	}
	agreementID, err := shared.ParseUUIDURN(initReq.AgreementID)
	if err != nil {
		return badRequest("invalid agreementId: %s", err)
	}
	agreement, err := h.dsp.GetAgreement(ctx, agreementID)
	if err != nil {
		return err
	}
	if err := h.checkAgreementFinalized(ctx, agreementID); err != nil {
		return err
	}
	counterParty, err := url.Parse(initReq.CounterPartyAddress)
	if err != nil {
		return badRequest("invalid counterPartyAddress: %s", err)
	}

	request, err := transfer.New(
		uuid.New(),
		agreement,
		initReq.Format,
		counterParty,
		h.selfCallbackURL(),
		constants.DataspaceConsumer,
		transfer.StateInitial,
		initReq.DataAddress,
	)
	if err != nil {
		return badRequest("invalid transfer request: %s", err)
	}

	ctx, _ = logging.InjectLabels(ctx, request.GetLogFields("")...)
	apply, err := statemachine.RequestTransfer(ctx, h.reconciler, request)
	if err != nil {
		return err
	}
	if err := h.dsp.PutTransfer(ctx, request); err != nil {
		return err
	}
	if err := apply(); err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, transferView(request))
	return nil
}

// checkAgreementFinalized verifies that the negotiation the agreement came
// out of reached FINALIZED, transfers under a live negotiation are refused.
func (h apiHandlers) checkAgreementFinalized(ctx context.Context, agreementID uuid.UUID) error {
	negotiation, err := h.dsp.GetNegotiationByAgreement(ctx, agreementID)
	if err != nil {
		return err
	}
	if negotiation.GetState() != contract.StateFinalized {
		return statusError{
			status: http.StatusConflict,
			msg:    fmt.Sprintf("negotiation for agreement %s is not finalized", agreementID.URN()),
		}
	}
	return nil
}

func (h apiHandlers) getTransferR(ctx context.Context, rawID string) (*transfer.Request, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, badRequest("invalid transfer ID: %s", err)
	}
	t, err := h.dsp.GetTransferR(ctx, id, constants.DataspaceConsumer)
	if errors.Is(err, persistence.ErrNotFound) {
		return h.dsp.GetTransferR(ctx, id, constants.DataspaceProvider)
	}
	return t, err
}

func (h apiHandlers) getTransferRW(ctx context.Context, rawID string) (*transfer.Request, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, badRequest("invalid transfer ID: %s", err)
	}
	t, err := h.dsp.GetTransferRW(ctx, id, constants.DataspaceConsumer)
	if errors.Is(err, persistence.ErrNotFound) {
		return h.dsp.GetTransferRW(ctx, id, constants.DataspaceProvider)
	}
	return t, err
}

func (h apiHandlers) getTransfer(w http.ResponseWriter, r *http.Request) error {
	request, err := h.getTransferR(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, transferView(request))
	return nil
}

func (h apiHandlers) getTransferState(w http.ResponseWriter, r *http.Request) error {
	request, err := h.getTransferR(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": request.GetState().String()})
	return nil
}

func (h apiHandlers) queryTransfers(w http.ResponseWriter, r *http.Request) error {
	q, err := decodeQuery(r)
	if err != nil {
		return err
	}
	transfers, err := h.dsp.GetTransfers(r.Context())
	if err != nil {
		return err
	}
	views := []map[string]any{}
	for _, t := range Apply(transfers, q) {
		views = append(views, transferView(t))
	}
	writeJSON(w, http.StatusOK, views)
	return nil
}

type transferOp func(
	ctx context.Context, r statemachine.Reconciler, e statemachine.EDRRegistry, t *transfer.Request,
) (func() error, error)

func (h apiHandlers) progressTransfer(w http.ResponseWriter, r *http.Request, op transferOp) error {
	ctx := r.Context()
	request, err := h.getTransferRW(ctx, r.PathValue("id"))
	if err != nil {
		return err
	}
	ctx, _ = logging.InjectLabels(ctx, request.GetLogFields("")...)

	apply, err := op(ctx, h.reconciler, h.store, request)
	if err != nil {
		h.releaseTransfer(ctx, request)
		return err
	}
	if err := h.dsp.PutTransfer(ctx, request); err != nil {
		return err
	}
	if err := apply(); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, transferView(request))
	return nil
}

func (h apiHandlers) releaseTransfer(ctx context.Context, request *transfer.Request) {
	if err := h.dsp.ReleaseTransfer(ctx, request); err != nil {
		logging.Extract(ctx).Error("Could not release transfer", "err", err)
	}
}

func (h apiHandlers) provisionTransfer(w http.ResponseWriter, r *http.Request) error {
	return h.progressTransfer(w, r, func(
		ctx context.Context, _ statemachine.Reconciler, e statemachine.EDRRegistry, t *transfer.Request,
	) (func() error, error) {
		return statemachine.ProvisionTransfer(ctx, e, t)
	})
}

func (h apiHandlers) provisionedTransfer(w http.ResponseWriter, r *http.Request) error {
	return h.progressTransfer(w, r, func(
		ctx context.Context, _ statemachine.Reconciler, _ statemachine.EDRRegistry, t *transfer.Request,
	) (func() error, error) {
		return statemachine.ProvisionedTransfer(ctx, t)
	})
}

func (h apiHandlers) resumeTransfer(w http.ResponseWriter, r *http.Request) error {
	return h.progressTransfer(w, r, func(
		ctx context.Context, _ statemachine.Reconciler, e statemachine.EDRRegistry, t *transfer.Request,
	) (func() error, error) {
		return statemachine.ResumeTransfer(ctx, e, t)
	})
}

func (h apiHandlers) resumedTransfer(w http.ResponseWriter, r *http.Request) error {
	return h.progressTransfer(w, r, func(
		ctx context.Context, _ statemachine.Reconciler, _ statemachine.EDRRegistry, t *transfer.Request,
	) (func() error, error) {
		return statemachine.ResumedTransfer(ctx, t)
	})
}

func (h apiHandlers) deprovisionTransfer(w http.ResponseWriter, r *http.Request) error {
	return h.progressTransfer(w, r, func(
		ctx context.Context, _ statemachine.Reconciler, e statemachine.EDRRegistry, t *transfer.Request,
	) (func() error, error) {
		return statemachine.DeprovisionTransfer(ctx, e, t)
	})
}

func (h apiHandlers) deprovisionedTransfer(w http.ResponseWriter, r *http.Request) error {
	return h.progressTransfer(w, r, func(
		ctx context.Context, _ statemachine.Reconciler, _ statemachine.EDRRegistry, t *transfer.Request,
	) (func() error, error) {
		return statemachine.DeprovisionedTransfer(ctx, t)
	})
}

func (h apiHandlers) startTransfer(w http.ResponseWriter, r *http.Request) error {
	return h.progressTransfer(w, r, func(
		ctx context.Context, rec statemachine.Reconciler, e statemachine.EDRRegistry, t *transfer.Request,
	) (func() error, error) {
		return statemachine.StartTransfer(ctx, rec, e, t)
	})
}

func (h apiHandlers) suspendTransfer(w http.ResponseWriter, r *http.Request) error {
	termReq, err := decodeBody[TerminateRequest](r)
	if err != nil {
		return err
	}
	return h.progressTransfer(w, r, func(
		ctx context.Context, rec statemachine.Reconciler, e statemachine.EDRRegistry, t *transfer.Request,
	) (func() error, error) {
		return statemachine.SuspendTransfer(ctx, rec, e, t, termReq.Code, reasons(termReq.Reason))
	})
}

func (h apiHandlers) completeTransfer(w http.ResponseWriter, r *http.Request) error {
	return h.progressTransfer(w, r, func(
		ctx context.Context, rec statemachine.Reconciler, e statemachine.EDRRegistry, t *transfer.Request,
	) (func() error, error) {
		return statemachine.CompleteTransfer(ctx, rec, e, t)
	})
}

func (h apiHandlers) terminateTransfer(w http.ResponseWriter, r *http.Request) error {
	termReq, err := decodeBody[TerminateRequest](r)
	if err != nil {
		return err
	}
	return h.progressTransfer(w, r, func(
		ctx context.Context, rec statemachine.Reconciler, e statemachine.EDRRegistry, t *transfer.Request,
	) (func() error, error) {
		return statemachine.TerminateTransfer(ctx, rec, e, t, termReq.Code, reasons(termReq.Reason))
	})
}

func (h apiHandlers) queryEDRs(w http.ResponseWriter, r *http.Request) error {
	q, err := decodeQuery(r)
	if err != nil {
		return err
	}
	entries, err := h.store.QueryEDRs(r.Context(), q)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, entries)
	return nil
}
