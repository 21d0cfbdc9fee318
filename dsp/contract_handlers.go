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

package dsp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"github.com/google/uuid"

	"github.com/openterms/converge/dsp/constants"
	"github.com/openterms/converge/dsp/contract"
	"github.com/openterms/converge/dsp/persistence"
	"github.com/openterms/converge/dsp/shared"
	"github.com/openterms/converge/dsp/statemachine"
	"github.com/openterms/converge/logging"
	"github.com/openterms/converge/odrl"
)

type ContractError struct {
	status   int
	contract *contract.Negotiation
	dspCode  string
	reason   string
	err      string
}

func (ce ContractError) Error() string     { return ce.err }
func (ce ContractError) StatusCode() int   { return ce.status }
func (ce ContractError) ErrorType() string { return "dspace:ContractNegotiationError" }
func (ce ContractError) DSPCode() string   { return ce.dspCode }

func (ce ContractError) Description() []shared.Multilanguage {
	return []shared.Multilanguage{{Value: ce.reason, Language: "en"}}
}

func (ce ContractError) Reason() []shared.Multilanguage {
	return []shared.Multilanguage{{Value: ce.reason, Language: "en"}}
}

func (ce ContractError) ProviderPID() string {
	if ce.contract == nil {
		return ""
	}
	return ce.contract.GetProviderPID().URN()
}

func (ce ContractError) ConsumerPID() string {
	if ce.contract == nil {
		return ""
	}
	return ce.contract.GetConsumerPID().URN()
}

func contractError(
	ctx context.Context, err string, statusCode int, dspCode string, reason string, negotiation *contract.Negotiation,
) ContractError {
	fields := []any{
		"statusCode", statusCode,
		"dspCode", dspCode,
		"reason", reason,
		"err", err,
	}
	if negotiation != nil {
		fields = append(fields,
			"negotiationRole", negotiation.GetRole(),
			"localPID", negotiation.GetLocalPID(),
		)
	}
	logging.Extract(ctx).Error("contract error", fields...)
	return ContractError{
		status:   statusCode,
		contract: negotiation,
		dspCode:  dspCode,
		reason:   reason,
		err:      err,
	}
}

func (dh *dspHandlers) providerContractStateHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, _ := logging.InjectLabels(req.Context(), "handler", "providerContractStateHandler")
	providerPID, err := uuid.Parse(req.PathValue("providerPID"))
	if err != nil {
		return contractError(ctx, "invalid provider ID", http.StatusBadRequest, "400", "Invalid provider PID", nil)
	}

	negotiation, err := dh.store.GetContractR(ctx, providerPID, constants.DataspaceProvider)
	if err != nil {
		return contractError(ctx, err.Error(), http.StatusNotFound, "404", "Contract not found", nil)
	}

	if err := shared.EncodeValid(w, req, http.StatusOK, negotiation.GetContractNegotiation()); err != nil {
		logging.Extract(ctx).Error("couldn't serve contract state", "err", err)
	}
	return nil
}

func (dh *dspHandlers) providerContractRequestHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, logger := logging.InjectLabels(req.Context(), "handler", "providerContractRequestHandler")
	req = req.WithContext(ctx)
	contractReq, err := shared.DecodeValid[shared.ContractRequestMessage](req)
	if err != nil {
		return contractError(ctx, fmt.Sprintf("invalid request message: %s", err.Error()),
			http.StatusBadRequest, "400", "Invalid request", nil)
	}
	logger.Debug("Got contract request", "req", contractReq)

	// A missing callback is distinguishable from other malformed requests,
	// as it's the one field we can't negotiate without.
	if contractReq.CallbackAddress == "" {
		return contractError(ctx, "no callbackAddress in contract request",
			http.StatusUnprocessableEntity, "422", "Invalid request: callbackAddress is missing", nil)
	}

	consumerPID, err := uuid.Parse(contractReq.ConsumerPID)
	if err != nil {
		return contractError(ctx, fmt.Sprintf("Invalid consumer ID %s: %s", contractReq.ConsumerPID, err.Error()),
			http.StatusBadRequest, "400", "Invalid request: ConsumerPID is not a UUID", nil)
	}

	cbURL, err := url.Parse(contractReq.CallbackAddress)
	if err != nil {
		return contractError(ctx, fmt.Sprintf("Invalid callback URL %s: %s", contractReq.CallbackAddress, err.Error()),
			http.StatusBadRequest, "400", "Invalid request: Non-valid callback URL.", nil)
	}
	negotiation := contract.New(
		uuid.UUID{},
		consumerPID,
		contract.StateInitial,
		odrl.Offer{MessageOffer: contractReq.Offer},
		cbURL,
		dh.selfURL,
		constants.DataspaceProvider,
		dh.autoAccept,
	)

	return processNegotiation(dh, w, req, negotiation, contractReq, http.StatusCreated)
}

func progressContractState[T any](
	dh *dspHandlers, w http.ResponseWriter, req *http.Request, role constants.DataspaceRole, rawPID string,
) error {
	ctx := req.Context()
	pid, err := uuid.Parse(rawPID)
	if err != nil {
		return contractError(ctx, fmt.Sprintf("Invalid PID %s: %s", rawPID, err.Error()),
			http.StatusBadRequest, "400", "Invalid request: PID is not a UUID", nil)
	}
	msg, err := shared.DecodeValid[T](req)
	if err != nil {
		return contractError(ctx, fmt.Sprintf("could not decode message: %s", err),
			http.StatusBadRequest, "400", "Invalid request", nil)
	}

	logging.Extract(ctx).Debug("Got contract message", "req", msg)

	return processMessage(dh, w, req, role, pid, msg)
}

func processMessage[T any](
	dh *dspHandlers,
	w http.ResponseWriter,
	req *http.Request,
	role constants.DataspaceRole,
	pid uuid.UUID,
	msg T,
) error {
	ctx := req.Context()
	negotiation, err := dh.store.GetContractRW(ctx, pid, role)
	if err != nil {
		return contractError(ctx, fmt.Sprintf("%d contract %s not found: %s", role, pid, err),
			http.StatusNotFound, "404", "Contract not found", nil)
	}
	return processNegotiation(dh, w, req.WithContext(ctx), negotiation, msg, http.StatusOK)
}

// processNegotiation runs an incoming message through the negotiation state
// machine and acknowledges it. A duplicate delivery of a message that was
// already applied gets the acknowledgement it got the first time.
func processNegotiation[T any](
	dh *dspHandlers,
	w http.ResponseWriter,
	req *http.Request,
	negotiation *contract.Negotiation,
	msg T,
	status int,
) error {
	ctx, _ := logging.InjectLabels(req.Context(), negotiation.GetLogFields("_recv")...)
	ctx, logger := logging.InjectLabels(ctx, "messageType", fmt.Sprintf("%T", msg))
	logger.Info("processing contract negotiation")

	ctx, pState := statemachine.GetContractNegotiation(ctx, negotiation, dh.reconciler)
	ctx, apply, err := pState.Recv(ctx, msg)
	if err != nil {
		if body, ok := negotiation.GetAck(fmt.Sprintf("%T", msg)); ok &&
			errors.Is(err, contract.ErrIllegalTransition) {
			logger.Info("duplicate delivery, replaying acknowledgement")
			releaseNegotiation(ctx, dh.store, negotiation)
			writeAck(ctx, w, http.StatusOK, body)
			return nil
		}
		releaseNegotiation(ctx, dh.store, negotiation)
		return contractError(ctx, fmt.Sprintf("invalid request: %s", err),
			http.StatusBadRequest, "400", "Invalid request", negotiation)
	}

	if negotiation.AutoAccept() {
		ctx, _ = logging.InjectLabels(ctx, negotiation.GetLogFields("_send")...)
		var transition statemachine.ContractNegotiationState
		ctx, transition = statemachine.GetContractNegotiation(ctx, negotiation, dh.reconciler)
		apply, err = transition.Send(ctx)
		if err != nil {
			releaseNegotiation(ctx, dh.store, negotiation)
			return contractError(ctx, fmt.Sprintf("failed to send: %s", err),
				http.StatusInternalServerError, "500", "Internal error", negotiation,
			)
		}
	}

	ack, err := shared.ValidateAndMarshal(ctx, negotiation.GetContractNegotiation())
	if err != nil {
		releaseNegotiation(ctx, dh.store, negotiation)
		return contractError(ctx, fmt.Sprintf("couldn't marshal acknowledgement: %s", err),
			http.StatusInternalServerError, "500", "Internal error", negotiation)
	}
	negotiation.SetAck(fmt.Sprintf("%T", msg), ack)

	if err := storeNegotiation(ctx, dh.store, negotiation); err != nil {
		return err
	}
	if err := apply(); err != nil {
		return contractError(ctx, fmt.Sprintf("failed to propagate: %s", err),
			http.StatusInternalServerError, "500", "Internal error", negotiation,
		)
	}
	writeAck(ctx, w, status, ack)
	return nil
}

func writeAck(ctx context.Context, w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logging.Extract(ctx).Error("Couldn't serve response", "err", err)
	}
}

func releaseNegotiation(
	ctx context.Context, store persistence.StorageProvider, negotiation *contract.Negotiation,
) {
	if err := store.ReleaseContract(ctx, negotiation); err != nil {
		logging.Extract(ctx).Error("couldn't release negotiation", "err", err)
	}
}

func storeNegotiation(
	ctx context.Context,
	store persistence.StorageProvider,
	negotiation *contract.Negotiation,
) error {
	agreement := negotiation.GetAgreement()
	if err := store.PutContract(ctx, negotiation); err != nil {
		return contractError(ctx, fmt.Sprintf("couldn't store negotiation: %s", err),
			http.StatusInternalServerError, "500", "Not able to store negotiation", negotiation)
	}

	if err := saveNewAgreement(ctx, store, agreement); err != nil {
		return contractError(ctx, fmt.Sprintf("couldn't store agreement: %s", err),
			http.StatusInternalServerError, "500", "Not able to store agreement", negotiation)
	}
	return nil
}

// saveNewAgreement stores the negotiation's agreement the first time it
// shows up. Agreements are immutable, later saves of the negotiation skip it.
func saveNewAgreement(
	ctx context.Context, store persistence.StorageProvider, agreement *odrl.Agreement,
) error {
	if agreement == nil {
		return nil
	}
	id, err := uuid.Parse(agreement.ID)
	if err != nil {
		return fmt.Errorf("agreement has non-UUID ID %s: %w", agreement.ID, err)
	}
	if _, err := store.GetAgreement(ctx, id); err == nil {
		return nil
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return err
	}
	return store.PutAgreement(ctx, agreement)
}

func (dh *dspHandlers) providerContractSpecificRequestHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, _ := logging.InjectLabels(req.Context(), "handler", "providerContractSpecificRequestHandler")
	req = req.WithContext(ctx)
	return progressContractState[shared.ContractRequestMessage](
		dh, w, req, constants.DataspaceProvider, req.PathValue("providerPID"),
	)
}

func (dh *dspHandlers) providerContractEventHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, _ := logging.InjectLabels(req.Context(), "handler", "providerContractEventHandler")
	req = req.WithContext(ctx)
	return progressContractState[shared.ContractNegotiationEventMessage](
		dh, w, req, constants.DataspaceProvider, req.PathValue("providerPID"),
	)
}

func (dh *dspHandlers) providerContractVerificationHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, _ := logging.InjectLabels(req.Context(), "handler", "providerContractVerificationHandler")
	req = req.WithContext(ctx)
	return progressContractState[shared.ContractAgreementVerificationMessage](
		dh, w, req, constants.DataspaceProvider, req.PathValue("providerPID"),
	)
}

// contractTerminationHandler handles termination for both roles, as the
// termination endpoints only carry the remote's PID for this negotiation.
func (dh *dspHandlers) contractTerminationHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, _ := logging.InjectLabels(req.Context(), "handler", "contractTerminationHandler")
	req = req.WithContext(ctx)
	pid := req.PathValue("PID")
	id, err := uuid.Parse(pid)
	if err != nil {
		return contractError(ctx, fmt.Sprintf("Invalid PID: %s", pid),
			http.StatusBadRequest, "400", "Invalid request: PID is not a UUID", nil)
	}
	if _, err := dh.store.GetContractR(ctx, id, constants.DataspaceProvider); err == nil {
		return progressContractState[shared.ContractNegotiationTerminationMessage](
			dh, w, req, constants.DataspaceProvider, pid,
		)
	}
	return progressContractState[shared.ContractNegotiationTerminationMessage](
		dh, w, req, constants.DataspaceConsumer, pid,
	)
}

func (dh *dspHandlers) consumerContractOfferHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, logger := logging.InjectLabels(req.Context(), "handler", "consumerContractOfferHandler")
	req = req.WithContext(ctx)
	contractOffer, err := shared.DecodeValid[shared.ContractOfferMessage](req)
	if err != nil {
		return contractError(ctx, fmt.Sprintf("invalid request message: %s", err.Error()),
			http.StatusBadRequest, "400", "Invalid request", nil)
	}
	logger.Debug("Got contract offer", "offer", contractOffer)

	providerPID, err := uuid.Parse(contractOffer.ProviderPID)
	if err != nil {
		return contractError(ctx, fmt.Sprintf("Invalid providerPID ID %s: %s", contractOffer.ProviderPID, err.Error()),
			http.StatusBadRequest, "400", "Invalid request: ProviderPID is not a UUID", nil)
	}

	cbURL, err := url.Parse(contractOffer.CallbackAddress)
	if err != nil {
		return contractError(ctx, fmt.Sprintf("Invalid callback URL %s: %s", contractOffer.CallbackAddress, err.Error()),
			http.StatusBadRequest, "400", "Invalid request: Non-valid callback URL.", nil)
	}

	selfURL := cloneSelfURL(dh.selfURL)
	selfURL.Path = path.Join(selfURL.Path, "callback")

	negotiation := contract.New(
		providerPID,
		uuid.UUID{},
		contract.StateInitial,
		odrl.Offer{MessageOffer: contractOffer.Offer},
		cbURL,
		selfURL,
		constants.DataspaceConsumer,
		dh.autoAccept,
	)

	return processNegotiation(dh, w, req, negotiation, contractOffer, http.StatusCreated)
}

func cloneSelfURL(u *url.URL) *url.URL {
	cu, err := url.Parse(u.String())
	if err != nil {
		panic(err.Error())
	}
	return cu
}

func (dh *dspHandlers) consumerContractSpecificOfferHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, _ := logging.InjectLabels(req.Context(), "handler", "consumerContractSpecificOfferHandler")
	req = req.WithContext(ctx)
	return progressContractState[shared.ContractOfferMessage](
		dh, w, req, constants.DataspaceConsumer, req.PathValue("consumerPID"),
	)
}

func (dh *dspHandlers) consumerContractAgreementHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, _ := logging.InjectLabels(req.Context(), "handler", "consumerContractAgreementHandler")
	req = req.WithContext(ctx)
	return progressContractState[shared.ContractAgreementMessage](
		dh, w, req, constants.DataspaceConsumer, req.PathValue("consumerPID"),
	)
}

func (dh *dspHandlers) consumerContractEventHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, _ := logging.InjectLabels(req.Context(), "handler", "consumerContractEventHandler")
	req = req.WithContext(ctx)
	return progressContractState[shared.ContractNegotiationEventMessage](
		dh, w, req, constants.DataspaceConsumer, req.PathValue("consumerPID"),
	)
}
