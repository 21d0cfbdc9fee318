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
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/openterms/converge/dsp/constants"
	"github.com/openterms/converge/dsp/contract"
	"github.com/openterms/converge/dsp/shared"
	"github.com/openterms/converge/dsp/statemachine"
	"github.com/openterms/converge/dsp/transfer"
	"github.com/openterms/converge/logging"
)

type TransferError struct {
	status   int
	transfer *transfer.Request
	dspCode  string
	reason   string
	err      string
}

func (te TransferError) Error() string     { return te.err }
func (te TransferError) StatusCode() int   { return te.status }
func (te TransferError) ErrorType() string { return "dspace:TransferError" }
func (te TransferError) DSPCode() string   { return te.dspCode }

func (te TransferError) Description() []shared.Multilanguage {
	return []shared.Multilanguage{{Value: te.reason, Language: "en"}}
}

func (te TransferError) Reason() []shared.Multilanguage {
	return []shared.Multilanguage{{Value: te.reason, Language: "en"}}
}

func (te TransferError) ProviderPID() string {
	if te.transfer == nil {
		return ""
	}
	return te.transfer.GetProviderPID().URN()
}

func (te TransferError) ConsumerPID() string {
	if te.transfer == nil {
		return ""
	}
	return te.transfer.GetConsumerPID().URN()
}

func transferError(
	ctx context.Context, err string, statusCode int, dspCode string, reason string, request *transfer.Request,
) TransferError {
	fields := []any{
		"statusCode", statusCode,
		"dspCode", dspCode,
		"reason", reason,
		"err", err,
	}
	if request != nil {
		fields = append(fields,
			"transferRole", request.GetRole(),
			"localPID", request.GetLocalPID(),
		)
	}
	logging.Extract(ctx).Error("transfer error", fields...)
	return TransferError{
		status:   statusCode,
		transfer: request,
		dspCode:  dspCode,
		reason:   reason,
		err:      err,
	}
}

func (dh *dspHandlers) providerTransferProcessHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, _ := logging.InjectLabels(req.Context(), "handler", "providerTransferProcessHandler")
	providerPID, err := uuid.Parse(req.PathValue("providerPID"))
	if err != nil {
		return transferError(ctx, "invalid provider ID", http.StatusBadRequest, "400", "Invalid provider PID", nil)
	}

	request, err := dh.store.GetTransferR(ctx, providerPID, constants.DataspaceProvider)
	if err != nil {
		return transferError(ctx, err.Error(), http.StatusNotFound, "404", "Transfer process not found", nil)
	}

	if err := shared.EncodeValid(w, req, http.StatusOK, request.GetTransferProcess()); err != nil {
		logging.Extract(ctx).Error("couldn't serve transfer process", "err", err)
	}
	return nil
}

// providerTransferRequestHandler creates a transfer process for an agreement
// that a finalized negotiation produced.
func (dh *dspHandlers) providerTransferRequestHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, logger := logging.InjectLabels(req.Context(), "handler", "providerTransferRequestHandler")
	req = req.WithContext(ctx)
	transferReq, err := shared.DecodeValid[shared.TransferRequestMessage](req)
	if err != nil {
		return transferError(ctx, fmt.Sprintf("invalid request message: %s", err.Error()),
			http.StatusBadRequest, "400", "Invalid request", nil)
	}
	logger.Debug("Got transfer request", "req", transferReq)

	consumerPID, err := uuid.Parse(transferReq.ConsumerPID)
	if err != nil {
		return transferError(ctx, fmt.Sprintf("Invalid consumer ID %s: %s", transferReq.ConsumerPID, err.Error()),
			http.StatusBadRequest, "400", "Invalid request: ConsumerPID is not a UUID", nil)
	}

	agreementID, err := uuid.Parse(transferReq.AgreementID)
	if err != nil {
		return transferError(ctx, fmt.Sprintf("Invalid agreement ID %s: %s", transferReq.AgreementID, err.Error()),
			http.StatusBadRequest, "400", "Invalid request: AgreementID is not a UUID", nil)
	}

	negotiation, err := dh.store.GetNegotiationByAgreement(ctx, agreementID)
	if err != nil {
		return transferError(ctx, fmt.Sprintf("no negotiation for agreement %s: %s", agreementID, err),
			http.StatusBadRequest, "400", "Invalid request: Unknown agreement", nil)
	}
	if negotiation.GetState() != contract.StateFinalized {
		return transferError(ctx, fmt.Sprintf("negotiation for agreement %s is %s", agreementID, negotiation.GetState()),
			http.StatusBadRequest, "400", "Invalid request: Agreement not finalized", nil)
	}

	agreement, err := dh.store.GetAgreement(ctx, agreementID)
	if err != nil {
		return transferError(ctx, fmt.Sprintf("couldn't fetch agreement %s: %s", agreementID, err),
			http.StatusInternalServerError, "500", "Internal error", nil)
	}

	cbURL, err := url.Parse(transferReq.CallbackAddress)
	if err != nil {
		return transferError(ctx, fmt.Sprintf("Invalid callback URL %s: %s", transferReq.CallbackAddress, err.Error()),
			http.StatusBadRequest, "400", "Invalid request: Non-valid callback URL.", nil)
	}

	request, err := transfer.New(
		consumerPID,
		agreement,
		transferReq.Format,
		cbURL,
		dh.selfURL,
		constants.DataspaceProvider,
		transfer.StateInitial,
		transferReq.DataAddress,
	)
	if err != nil {
		return transferError(ctx, fmt.Sprintf("couldn't create transfer: %s", err),
			http.StatusBadRequest, "400", "Invalid request", nil)
	}

	return processTransfer(dh, w, req, request, transferReq, http.StatusCreated)
}

func progressTransferState[T any](
	dh *dspHandlers, w http.ResponseWriter, req *http.Request, role constants.DataspaceRole, rawPID string,
) error {
	ctx := req.Context()
	pid, err := uuid.Parse(rawPID)
	if err != nil {
		return transferError(ctx, fmt.Sprintf("Invalid PID %s: %s", rawPID, err.Error()),
			http.StatusBadRequest, "400", "Invalid request: PID is not a UUID", nil)
	}
	msg, err := shared.DecodeValid[T](req)
	if err != nil {
		return transferError(ctx, fmt.Sprintf("could not decode message: %s", err),
			http.StatusBadRequest, "400", "Invalid request", nil)
	}

	logging.Extract(ctx).Debug("Got transfer message", "req", msg)

	request, err := dh.store.GetTransferRW(ctx, pid, role)
	if err != nil {
		return transferError(ctx, fmt.Sprintf("%d transfer %s not found: %s", role, pid, err),
			http.StatusNotFound, "404", "Transfer process not found", nil)
	}
	return processTransfer(dh, w, req, request, msg, http.StatusOK)
}

func processTransfer[T any](
	dh *dspHandlers,
	w http.ResponseWriter,
	req *http.Request,
	request *transfer.Request,
	msg T,
	status int,
) error {
	ctx, _ := logging.InjectLabels(req.Context(), request.GetLogFields("_recv")...)
	ctx, logger := logging.InjectLabels(ctx, "messageType", fmt.Sprintf("%T", msg))
	logger.Info("processing transfer process")

	ctx, trs := statemachine.GetTransferRequest(ctx, request, dh.reconciler, dh.edrs)
	ctx, apply, err := trs.Recv(ctx, msg)
	if err != nil {
		releaseTransfer(ctx, dh, request)
		return transferError(ctx, fmt.Sprintf("invalid request: %s", err),
			http.StatusBadRequest, "400", "Invalid request", request)
	}

	if err := dh.store.PutTransfer(ctx, request); err != nil {
		return transferError(ctx, fmt.Sprintf("couldn't store transfer: %s", err),
			http.StatusInternalServerError, "500", "Not able to store transfer", request)
	}
	if err := apply(); err != nil {
		return transferError(ctx, fmt.Sprintf("failed to propagate: %s", err),
			http.StatusInternalServerError, "500", "Internal error", request,
		)
	}
	if err := shared.EncodeValid(w, req, status, request.GetTransferProcess()); err != nil {
		logging.Extract(ctx).Error("Couldn't serve response", "err", err)
	}
	return nil
}

func releaseTransfer(ctx context.Context, dh *dspHandlers, request *transfer.Request) {
	if err := dh.store.ReleaseTransfer(ctx, request); err != nil {
		logging.Extract(ctx).Error("couldn't release transfer", "err", err)
	}
}

func (dh *dspHandlers) providerTransferStartHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, _ := logging.InjectLabels(req.Context(), "handler", "providerTransferStartHandler")
	req = req.WithContext(ctx)
	return progressTransferState[shared.TransferStartMessage](
		dh, w, req, constants.DataspaceProvider, req.PathValue("providerPID"),
	)
}

func (dh *dspHandlers) providerTransferCompletionHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, _ := logging.InjectLabels(req.Context(), "handler", "providerTransferCompletionHandler")
	req = req.WithContext(ctx)
	return progressTransferState[shared.TransferCompletionMessage](
		dh, w, req, constants.DataspaceProvider, req.PathValue("providerPID"),
	)
}

func (dh *dspHandlers) providerTransferTerminationHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, _ := logging.InjectLabels(req.Context(), "handler", "providerTransferTerminationHandler")
	req = req.WithContext(ctx)
	return progressTransferState[shared.TransferTerminationMessage](
		dh, w, req, constants.DataspaceProvider, req.PathValue("providerPID"),
	)
}

func (dh *dspHandlers) providerTransferSuspensionHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, _ := logging.InjectLabels(req.Context(), "handler", "providerTransferSuspensionHandler")
	req = req.WithContext(ctx)
	return progressTransferState[shared.TransferSuspensionMessage](
		dh, w, req, constants.DataspaceProvider, req.PathValue("providerPID"),
	)
}

func (dh *dspHandlers) consumerTransferStartHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, _ := logging.InjectLabels(req.Context(), "handler", "consumerTransferStartHandler")
	req = req.WithContext(ctx)
	return progressTransferState[shared.TransferStartMessage](
		dh, w, req, constants.DataspaceConsumer, req.PathValue("consumerPID"),
	)
}

func (dh *dspHandlers) consumerTransferCompletionHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, _ := logging.InjectLabels(req.Context(), "handler", "consumerTransferCompletionHandler")
	req = req.WithContext(ctx)
	return progressTransferState[shared.TransferCompletionMessage](
		dh, w, req, constants.DataspaceConsumer, req.PathValue("consumerPID"),
	)
}

func (dh *dspHandlers) consumerTransferTerminationHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, _ := logging.InjectLabels(req.Context(), "handler", "consumerTransferTerminationHandler")
	req = req.WithContext(ctx)
	return progressTransferState[shared.TransferTerminationMessage](
		dh, w, req, constants.DataspaceConsumer, req.PathValue("consumerPID"),
	)
}

func (dh *dspHandlers) consumerTransferSuspensionHandler(w http.ResponseWriter, req *http.Request) error {
	ctx, _ := logging.InjectLabels(req.Context(), "handler", "consumerTransferSuspensionHandler")
	req = req.WithContext(ctx)
	return progressTransferState[shared.TransferSuspensionMessage](
		dh, w, req, constants.DataspaceConsumer, req.PathValue("consumerPID"),
	)
}
