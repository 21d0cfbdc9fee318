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

package statemachine

import (
	"context"
	"fmt"
	"net/url"
	"path"

	"github.com/google/uuid"

	"github.com/openterms/converge/dsp/constants"
	"github.com/openterms/converge/dsp/shared"
	"github.com/openterms/converge/dsp/transfer"
	"github.com/openterms/converge/logging"
)

func makeTransferRequestFunction(
	ctx context.Context,
	t *transfer.Request,
	cu *url.URL,
	reqBody []byte,
	destinationState transfer.State,
	reconciler Reconciler,
) applyFunc {
	var id uuid.UUID
	if t.GetRole() == constants.DataspaceConsumer {
		id = t.GetConsumerPID()
	} else {
		id = t.GetProviderPID()
	}
	return makeRequestFunction(
		ctx,
		cu,
		reqBody,
		id,
		t.GetRole(),
		destinationState.String(),
		ReconciliationTransferRequest,
		reconciler,
	)
}

// remotePID returns the counterparty PID that transfer callback paths are
// keyed on.
func remotePID(t *transfer.Request) string {
	if t.GetRole() == constants.DataspaceConsumer {
		return t.GetProviderPID().String()
	}
	return t.GetConsumerPID().String()
}

func sendTransferRequest(ctx context.Context, r Reconciler, t *transfer.Request) (applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "operation", "sendTransferRequest")
	if err := t.SetState(transfer.StateRequesting); err != nil {
		return noop, err
	}
	transferRequest := shared.TransferRequestMessage{
		Context:         shared.GetDSPContext(),
		Type:            "dspace:TransferRequestMessage",
		AgreementID:     t.GetAgreementID().URN(),
		Format:          t.GetFormat(),
		CallbackAddress: t.GetSelf().String(),
		ConsumerPID:     t.GetConsumerPID().URN(),
	}
	// A push transfer carries the address we want the data delivered to.
	if t.GetDirection() == transfer.DirectionPush {
		transferRequest.DataAddress = t.GetDataAddress()
	}

	reqBody, err := shared.ValidateAndMarshal(ctx, transferRequest)
	if err != nil {
		logger.Error("Could not validate transfer request", "err", err)
		return noop, fmt.Errorf("could not process request: %w", err)
	}

	cu := cloneURL(t.GetCallback())
	cu.Path = path.Join(cu.Path, "transfers", "request")

	return makeTransferRequestFunction(
		ctx,
		t,
		cu,
		reqBody,
		transfer.StateRequested,
		r,
	), nil
}

func sendTransferStart(ctx context.Context, r Reconciler, t *transfer.Request) (applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "operation", "sendTransferStart")
	if err := t.SetState(transfer.StateStarting); err != nil {
		return noop, err
	}
	startRequest := shared.TransferStartMessage{
		Context:     shared.GetDSPContext(),
		Type:        "dspace:TransferStartMessage",
		ProviderPID: t.GetProviderPID().URN(),
		ConsumerPID: t.GetConsumerPID().URN(),
	}
	// Only the side that serves the data shares an address.
	if t.GetRole() == constants.DataspaceProvider && t.GetDirection() == transfer.DirectionPull {
		startRequest.DataAddress = t.GetDataAddress()
	}

	reqBody, err := shared.ValidateAndMarshal(ctx, startRequest)
	if err != nil {
		logger.Error("Could not validate start request", "err", err)
		return noop, fmt.Errorf("could not process request: %w", err)
	}

	cu := cloneURL(t.GetCallback())
	cu.Path = path.Join(cu.Path, "transfers", remotePID(t), "start")

	return makeTransferRequestFunction(
		ctx,
		t,
		cu,
		reqBody,
		transfer.StateStarted,
		r,
	), nil
}

func sendTransferSuspension(
	ctx context.Context, r Reconciler, t *transfer.Request, code string, reasons []shared.Multilanguage,
) (applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "operation", "sendTransferSuspension")
	if err := t.SetState(transfer.StateSuspending); err != nil {
		return noop, err
	}
	suspension := shared.TransferSuspensionMessage{
		Context:     shared.GetDSPContext(),
		Type:        "dspace:TransferSuspensionMessage",
		ProviderPID: t.GetProviderPID().URN(),
		ConsumerPID: t.GetConsumerPID().URN(),
		Code:        code,
		Reason:      reasons,
	}

	reqBody, err := shared.ValidateAndMarshal(ctx, suspension)
	if err != nil {
		logger.Error("Could not validate suspension request", "err", err)
		return noop, fmt.Errorf("could not process request: %w", err)
	}

	cu := cloneURL(t.GetCallback())
	cu.Path = path.Join(cu.Path, "transfers", remotePID(t), "suspension")

	return makeTransferRequestFunction(
		ctx,
		t,
		cu,
		reqBody,
		transfer.StateSuspended,
		r,
	), nil
}

func sendTransferCompletion(ctx context.Context, r Reconciler, t *transfer.Request) (applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "operation", "sendTransferCompletion")
	if err := t.SetState(transfer.StateCompleting); err != nil {
		return noop, err
	}
	completion := shared.TransferCompletionMessage{
		Context:     shared.GetDSPContext(),
		Type:        "dspace:TransferCompletionMessage",
		ProviderPID: t.GetProviderPID().URN(),
		ConsumerPID: t.GetConsumerPID().URN(),
	}

	reqBody, err := shared.ValidateAndMarshal(ctx, completion)
	if err != nil {
		logger.Error("Could not validate completion request", "err", err)
		return noop, fmt.Errorf("could not process request: %w", err)
	}

	cu := cloneURL(t.GetCallback())
	cu.Path = path.Join(cu.Path, "transfers", remotePID(t), "completion")

	return makeTransferRequestFunction(
		ctx,
		t,
		cu,
		reqBody,
		transfer.StateCompleted,
		r,
	), nil
}

func sendTransferTermination(
	ctx context.Context, r Reconciler, t *transfer.Request, code string, reasons []shared.Multilanguage,
) (applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "operation", "sendTransferTermination")
	if err := t.SetState(transfer.StateTerminating); err != nil {
		return noop, err
	}
	termination := shared.TransferTerminationMessage{
		Context:     shared.GetDSPContext(),
		Type:        "dspace:TransferTerminationMessage",
		ProviderPID: t.GetProviderPID().URN(),
		ConsumerPID: t.GetConsumerPID().URN(),
		Code:        code,
		Reason:      reasons,
	}

	reqBody, err := shared.ValidateAndMarshal(ctx, termination)
	if err != nil {
		logger.Error("Could not validate termination request", "err", err)
		return noop, fmt.Errorf("could not process request: %w", err)
	}

	cu := cloneURL(t.GetCallback())
	cu.Path = path.Join(cu.Path, "transfers", remotePID(t), "termination")

	return makeTransferRequestFunction(
		ctx,
		t,
		cu,
		reqBody,
		transfer.StateTerminated,
		r,
	), nil
}

// The functions below are the transfer operations that the management API
// exposes. They put the transfer in the matching intermediate state and hand
// the message off to the reconciler via the returned apply function.

func RequestTransfer(ctx context.Context, r Reconciler, t *transfer.Request) (applyFunc, error) {
	return sendTransferRequest(ctx, r, t)
}

func StartTransfer(ctx context.Context, r Reconciler, e EDRRegistry, t *transfer.Request) (applyFunc, error) {
	_, trs := GetTransferRequest(ctx, t, r, e)
	return trs.Send(ctx)
}

func SuspendTransfer(
	ctx context.Context, r Reconciler, e EDRRegistry, t *transfer.Request,
	code string, reasons []shared.Multilanguage,
) (applyFunc, error) {
	if t.GetRole() == constants.DataspaceProvider && t.GetDirection() == transfer.DirectionPull {
		if err := e.RevokeEDR(ctx, t); err != nil {
			return noop, fmt.Errorf("could not revoke endpoint data reference: %w", err)
		}
		t.SetDataAddress(nil)
	}
	return sendTransferSuspension(ctx, r, t, code, reasons)
}

func CompleteTransfer(ctx context.Context, r Reconciler, e EDRRegistry, t *transfer.Request) (applyFunc, error) {
	if t.GetRole() == constants.DataspaceProvider && t.GetDirection() == transfer.DirectionPull {
		if err := e.RevokeEDR(ctx, t); err != nil {
			return noop, fmt.Errorf("could not revoke endpoint data reference: %w", err)
		}
		t.SetDataAddress(nil)
	}
	return sendTransferCompletion(ctx, r, t)
}

func TerminateTransfer(
	ctx context.Context, r Reconciler, e EDRRegistry, t *transfer.Request,
	code string, reasons []shared.Multilanguage,
) (applyFunc, error) {
	if t.GetRole() == constants.DataspaceProvider && t.GetDirection() == transfer.DirectionPull {
		if err := e.RevokeEDR(ctx, t); err != nil {
			return noop, fmt.Errorf("could not revoke endpoint data reference: %w", err)
		}
		t.SetDataAddress(nil)
	}
	return sendTransferTermination(ctx, r, t, code, reasons)
}

// The provisioning tier below is data plane bookkeeping, no protocol message
// leaves the connector. The entry hooks mint and withdraw endpoint data
// references at the edges of a transfer's life.

// ProvisionTransfer readies the data plane for a requested transfer. Pull
// transfers we serve get their endpoint data reference minted here instead
// of at start time.
func ProvisionTransfer(ctx context.Context, e EDRRegistry, t *transfer.Request) (applyFunc, error) {
	ctx, _ = logging.InjectLabels(ctx, "operation", "provisionTransfer")
	if err := t.SetState(transfer.StateProvisioning); err != nil {
		return noop, err
	}
	if t.GetRole() == constants.DataspaceProvider && t.GetDirection() == transfer.DirectionPull {
		da, err := e.RegisterEDR(ctx, t)
		if err != nil {
			return noop, fmt.Errorf("could not register endpoint data reference: %w", err)
		}
		t.SetDataAddress(da)
	}
	if err := t.SetState(transfer.StateProvisioningRequested); err != nil {
		return noop, err
	}
	return noop, nil
}

// ProvisionedTransfer marks the provisioning request as fulfilled, the
// transfer is ready to start.
func ProvisionedTransfer(ctx context.Context, t *transfer.Request) (applyFunc, error) {
	_, _ = logging.InjectLabels(ctx, "operation", "provisionedTransfer")
	if err := t.SetState(transfer.StateProvisioned); err != nil {
		return noop, err
	}
	return noop, nil
}

// ResumeTransfer brings the data plane of a suspended transfer back. The
// suspension revoked the endpoint data reference, so a fresh one is minted.
func ResumeTransfer(ctx context.Context, e EDRRegistry, t *transfer.Request) (applyFunc, error) {
	ctx, _ = logging.InjectLabels(ctx, "operation", "resumeTransfer")
	if err := t.SetState(transfer.StateResuming); err != nil {
		return noop, err
	}
	if t.GetRole() == constants.DataspaceProvider && t.GetDirection() == transfer.DirectionPull {
		da, err := e.RegisterEDR(ctx, t)
		if err != nil {
			return noop, fmt.Errorf("could not register endpoint data reference: %w", err)
		}
		t.SetDataAddress(da)
	}
	return noop, nil
}

// ResumedTransfer marks the resume as done. The start announcement to the
// counterparty goes through StartTransfer afterwards.
func ResumedTransfer(ctx context.Context, t *transfer.Request) (applyFunc, error) {
	_, _ = logging.InjectLabels(ctx, "operation", "resumedTransfer")
	if err := t.SetState(transfer.StateResumed); err != nil {
		return noop, err
	}
	return noop, nil
}

// DeprovisionTransfer tears down the data plane of a completed transfer. The
// endpoint data reference was usually withdrawn at completion already, a
// still-held one is revoked here before the address is dropped.
func DeprovisionTransfer(ctx context.Context, e EDRRegistry, t *transfer.Request) (applyFunc, error) {
	ctx, _ = logging.InjectLabels(ctx, "operation", "deprovisionTransfer")
	if err := t.SetState(transfer.StateDeprovisioning); err != nil {
		return noop, err
	}
	if t.GetRole() == constants.DataspaceProvider && t.GetDirection() == transfer.DirectionPull &&
		t.GetDataAddress() != nil {
		if err := e.RevokeEDR(ctx, t); err != nil {
			return noop, fmt.Errorf("could not revoke endpoint data reference: %w", err)
		}
	}
	t.SetDataAddress(nil)
	if err := t.SetState(transfer.StateDeprovisioningRequested); err != nil {
		return noop, err
	}
	return noop, nil
}

// DeprovisionedTransfer marks the teardown as done, the transfer is over.
func DeprovisionedTransfer(ctx context.Context, t *transfer.Request) (applyFunc, error) {
	_, _ = logging.InjectLabels(ctx, "operation", "deprovisionedTransfer")
	if err := t.SetState(transfer.StateDeprovisioned); err != nil {
		return noop, err
	}
	return noop, nil
}
