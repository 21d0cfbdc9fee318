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
	"strings"

	"github.com/google/uuid"

	"github.com/openterms/converge/dsp/constants"
	"github.com/openterms/converge/dsp/shared"
	"github.com/openterms/converge/dsp/transfer"
	"github.com/openterms/converge/logging"
)

// EDRRegistry hands out and withdraws endpoint data references for transfers
// that we provide the data for.
type EDRRegistry interface {
	RegisterEDR(ctx context.Context, req *transfer.Request) (*shared.DataAddress, error)
	RevokeEDR(ctx context.Context, req *transfer.Request) error
}

type TransferRequester interface {
	GetProviderPID() uuid.UUID
	GetConsumerPID() uuid.UUID
	GetAgreementID() uuid.UUID
	GetTarget() string
	GetFormat() string
	GetCallback() *url.URL
	GetSelf() *url.URL
	GetState() transfer.State
	GetRole() constants.DataspaceRole
	SetState(state transfer.State) error
	GetTransferRequest() *transfer.Request
	GetDataAddress() *shared.DataAddress
	GetDirection() transfer.Direction
	GetTransferProcess() shared.TransferProcess
}

// TransferRequestState represents a transfer in a certain state.
type TransferRequestState interface {
	TransferRequester
	Recv(ctx context.Context, message any) (context.Context, applyFunc, error)
	Send(ctx context.Context) (applyFunc, error)
	GetReconciler() Reconciler
	GetEDRRegistry() EDRRegistry
}

type transferMachineDeps struct {
	r Reconciler
	e EDRRegistry
}

func (td *transferMachineDeps) GetReconciler() Reconciler   { return td.r }
func (td *transferMachineDeps) GetEDRRegistry() EDRRegistry { return td.e }

type TransferRequestInitial struct {
	*transfer.Request
	transferMachineDeps
}

// Recv gets called on the provider when a consumer requests a transfer. The
// record was built from the request message, so all that's left is minting
// the provider PID and settling the state.
func (tr *TransferRequestInitial) Recv(
	ctx context.Context, message any,
) (context.Context, applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "recv_type", fmt.Sprintf("%T", tr))
	logger.Debug("Receiving message")
	switch t := message.(type) {
	case shared.TransferRequestMessage:
		if err := tr.Request.SetProviderPID(uuid.New()); err != nil {
			return ctx, nil, err
		}
		return verifyAndTransformTransfer(
			ctx, tr, tr.GetProviderPID().URN(), t.ConsumerPID, transfer.StateRequested)
	default:
		return ctx, nil, fmt.Errorf("%w: message type %T not valid for an unsubmitted transfer",
			transfer.ErrIllegalTransition, t)
	}
}

func (tr *TransferRequestInitial) Send(ctx context.Context) (applyFunc, error) {
	ctx, _ = logging.InjectLabels(ctx, "send_type", fmt.Sprintf("%T", tr))
	return sendTransferRequest(ctx, tr.GetReconciler(), tr.GetTransferRequest())
}

type TransferRequestRequested struct {
	*transfer.Request
	transferMachineDeps
}

// Recv gets called on the consumer when the provider starts the transfer.
func (tr *TransferRequestRequested) Recv(
	ctx context.Context, message any,
) (context.Context, applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "recv_type", fmt.Sprintf("%T", tr))
	logger.Debug("Receiving message")
	switch t := message.(type) {
	case shared.TransferStartMessage:
		if tr.GetProviderPID() == emptyUUID {
			u, err := uuid.Parse(t.ProviderPID)
			if err != nil {
				return ctx, nil, fmt.Errorf("invalid UUID for provider PID: %w", err)
			}
			if err := tr.Request.SetProviderPID(u); err != nil {
				return ctx, nil, err
			}
		}
		if t.DataAddress != nil {
			tr.Request.SetDataAddress(t.DataAddress)
		}
		return verifyAndTransformTransfer(ctx, tr, t.ProviderPID, t.ConsumerPID, transfer.StateStarted)
	case shared.TransferTerminationMessage:
		return processTransferTermination(ctx, t, tr)
	default:
		return ctx, nil, fmt.Errorf("%w: unsupported message type %T in state %s",
			transfer.ErrIllegalTransition, t, tr.GetState())
	}
}

// Send starts the transfer from the provider side. For pull transfers an
// endpoint data reference is registered first, its data address is what the
// consumer will fetch from.
func (tr *TransferRequestRequested) Send(ctx context.Context) (applyFunc, error) {
	ctx, _ = logging.InjectLabels(ctx, "send_type", fmt.Sprintf("%T", tr))
	if err := ensureEDR(ctx, tr); err != nil {
		return noop, err
	}
	return sendTransferStart(ctx, tr.GetReconciler(), tr.GetTransferRequest())
}

type TransferRequestStarted struct {
	*transfer.Request
	transferMachineDeps
}

func (tr *TransferRequestStarted) Recv(
	ctx context.Context, message any,
) (context.Context, applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "recv_type", fmt.Sprintf("%T", tr))
	logger.Debug("Receiving message")
	switch t := message.(type) {
	case shared.TransferSuspensionMessage:
		if err := revokeEDR(ctx, tr); err != nil {
			return ctx, nil, err
		}
		return verifyAndTransformTransfer(ctx, tr, t.ProviderPID, t.ConsumerPID, transfer.StateSuspended)
	case shared.TransferCompletionMessage:
		if err := revokeEDR(ctx, tr); err != nil {
			return ctx, nil, err
		}
		return verifyAndTransformTransfer(ctx, tr, t.ProviderPID, t.ConsumerPID, transfer.StateCompleted)
	case shared.TransferTerminationMessage:
		return processTransferTermination(ctx, t, tr)
	default:
		return ctx, nil, fmt.Errorf("%w: unsupported message type %T in state %s",
			transfer.ErrIllegalTransition, t, tr.GetState())
	}
}

// Send completes the transfer, which is the default progression for a
// started transfer. Suspension goes through SuspendTransfer.
func (tr *TransferRequestStarted) Send(ctx context.Context) (applyFunc, error) {
	ctx, _ = logging.InjectLabels(ctx, "send_type", fmt.Sprintf("%T", tr))
	if err := revokeEDR(ctx, tr); err != nil {
		return noop, err
	}
	return sendTransferCompletion(ctx, tr.GetReconciler(), tr.GetTransferRequest())
}

type TransferRequestSuspended struct {
	*transfer.Request
	transferMachineDeps
}

// Recv handles the restart of a suspended transfer, either side can do that.
func (tr *TransferRequestSuspended) Recv(
	ctx context.Context, message any,
) (context.Context, applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "recv_type", fmt.Sprintf("%T", tr))
	logger.Debug("Receiving message")
	switch t := message.(type) {
	case shared.TransferStartMessage:
		if t.DataAddress != nil {
			tr.Request.SetDataAddress(t.DataAddress)
		}
		return verifyAndTransformTransfer(ctx, tr, t.ProviderPID, t.ConsumerPID, transfer.StateStarted)
	case shared.TransferTerminationMessage:
		return processTransferTermination(ctx, t, tr)
	default:
		return ctx, nil, fmt.Errorf("%w: unsupported message type %T in state %s",
			transfer.ErrIllegalTransition, t, tr.GetState())
	}
}

// Send resumes the transfer. A provider mints a fresh endpoint data
// reference as the suspension revoked the old one.
func (tr *TransferRequestSuspended) Send(ctx context.Context) (applyFunc, error) {
	ctx, _ = logging.InjectLabels(ctx, "send_type", fmt.Sprintf("%T", tr))
	if err := ensureEDR(ctx, tr); err != nil {
		return noop, err
	}
	return sendTransferStart(ctx, tr.GetReconciler(), tr.GetTransferRequest())
}

// TransferRequestProvisioned is a requested transfer whose data plane is
// ready. The endpoint data reference was minted during provisioning, so the
// start message goes straight out.
type TransferRequestProvisioned struct {
	*transfer.Request
	transferMachineDeps
}

func (tr *TransferRequestProvisioned) Recv(
	ctx context.Context, message any,
) (context.Context, applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "recv_type", fmt.Sprintf("%T", tr))
	logger.Debug("Receiving message")
	switch t := message.(type) {
	case shared.TransferStartMessage:
		if t.DataAddress != nil {
			tr.Request.SetDataAddress(t.DataAddress)
		}
		return verifyAndTransformTransfer(ctx, tr, t.ProviderPID, t.ConsumerPID, transfer.StateStarted)
	case shared.TransferTerminationMessage:
		return processTransferTermination(ctx, t, tr)
	default:
		return ctx, nil, fmt.Errorf("%w: unsupported message type %T in state %s",
			transfer.ErrIllegalTransition, t, tr.GetState())
	}
}

func (tr *TransferRequestProvisioned) Send(ctx context.Context) (applyFunc, error) {
	ctx, _ = logging.InjectLabels(ctx, "send_type", fmt.Sprintf("%T", tr))
	return sendTransferStart(ctx, tr.GetReconciler(), tr.GetTransferRequest())
}

// TransferRequestResumed is a suspended transfer whose data plane came back.
// Like the provisioned state, the endpoint data reference is already in
// place and Send only announces the restart.
type TransferRequestResumed struct {
	*transfer.Request
	transferMachineDeps
}

func (tr *TransferRequestResumed) Recv(
	ctx context.Context, message any,
) (context.Context, applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "recv_type", fmt.Sprintf("%T", tr))
	logger.Debug("Receiving message")
	switch t := message.(type) {
	case shared.TransferStartMessage:
		if t.DataAddress != nil {
			tr.Request.SetDataAddress(t.DataAddress)
		}
		return verifyAndTransformTransfer(ctx, tr, t.ProviderPID, t.ConsumerPID, transfer.StateStarted)
	case shared.TransferTerminationMessage:
		return processTransferTermination(ctx, t, tr)
	default:
		return ctx, nil, fmt.Errorf("%w: unsupported message type %T in state %s",
			transfer.ErrIllegalTransition, t, tr.GetState())
	}
}

func (tr *TransferRequestResumed) Send(ctx context.Context) (applyFunc, error) {
	ctx, _ = logging.InjectLabels(ctx, "send_type", fmt.Sprintf("%T", tr))
	return sendTransferStart(ctx, tr.GetReconciler(), tr.GetTransferRequest())
}

// TransferRequestPending covers the local intermediate states where an
// outbound message or a data plane operation hasn't settled yet.
type TransferRequestPending struct {
	*transfer.Request
	transferMachineDeps
}

func (tr *TransferRequestPending) Recv(
	ctx context.Context, message any,
) (context.Context, applyFunc, error) {
	ctx, _ = logging.InjectLabels(ctx, "recv_type", fmt.Sprintf("%T", tr))
	switch t := message.(type) {
	case shared.TransferTerminationMessage:
		return processTransferTermination(ctx, t, tr)
	default:
		return ctx, nil, fmt.Errorf("%w: a %T message can't be handled while state is %s",
			transfer.ErrIllegalTransition, t, tr.GetState())
	}
}

func (tr *TransferRequestPending) Send(ctx context.Context) (applyFunc, error) {
	return noop, fmt.Errorf("%w: state %s is still settling",
		transfer.ErrIllegalTransition, tr.GetState())
}

type TransferRequestCompleted struct {
	*transfer.Request
	transferMachineDeps
}

func (tr *TransferRequestCompleted) Recv(
	ctx context.Context, message any,
) (context.Context, applyFunc, error) {
	return ctx, nil, fmt.Errorf("%w: this is a final state", transfer.ErrIllegalTransition)
}

func (tr *TransferRequestCompleted) Send(ctx context.Context) (applyFunc, error) {
	return noop, nil
}

type TransferRequestTerminated struct {
	*transfer.Request
	transferMachineDeps
}

func (tr *TransferRequestTerminated) Recv(
	ctx context.Context, message any,
) (context.Context, applyFunc, error) {
	return ctx, nil, fmt.Errorf("%w: this is a final state", transfer.ErrIllegalTransition)
}

func (tr *TransferRequestTerminated) Send(ctx context.Context) (applyFunc, error) {
	return noop, nil
}

func GetTransferRequest(
	ctx context.Context,
	tr *transfer.Request,
	r Reconciler,
	e EDRRegistry,
) (context.Context, TransferRequestState) {
	var trs TransferRequestState
	deps := transferMachineDeps{r: r, e: e}
	switch tr.GetState() {
	case transfer.StateInitial:
		trs = &TransferRequestInitial{Request: tr, transferMachineDeps: deps}
	case transfer.StateRequested:
		trs = &TransferRequestRequested{Request: tr, transferMachineDeps: deps}
	case transfer.StateStarted:
		trs = &TransferRequestStarted{Request: tr, transferMachineDeps: deps}
	case transfer.StateSuspended:
		trs = &TransferRequestSuspended{Request: tr, transferMachineDeps: deps}
	case transfer.StateProvisioned:
		trs = &TransferRequestProvisioned{Request: tr, transferMachineDeps: deps}
	case transfer.StateResumed:
		trs = &TransferRequestResumed{Request: tr, transferMachineDeps: deps}
	case transfer.StateCompleted, transfer.StateDeprovisioned:
		trs = &TransferRequestCompleted{Request: tr, transferMachineDeps: deps}
	case transfer.StateTerminated:
		trs = &TransferRequestTerminated{Request: tr, transferMachineDeps: deps}
	case transfer.StateRequesting, transfer.StateStarting, transfer.StateSuspending,
		transfer.StateCompleting, transfer.StateTerminating,
		transfer.StateProvisioning, transfer.StateProvisioningRequested,
		transfer.StateResuming,
		transfer.StateDeprovisioning, transfer.StateDeprovisioningRequested:
		trs = &TransferRequestPending{Request: tr, transferMachineDeps: deps}
	default:
		panic(fmt.Sprintf("No transition found for state %s", tr.GetState()))
	}
	ctx, logger := logging.InjectLabels(ctx,
		"transfer_consumerPID", trs.GetConsumerPID().String(),
		"transfer_providerPID", trs.GetProviderPID().String(),
		"transfer_state", trs.GetState().String(),
		"transfer_role", trs.GetRole(),
	)
	logger.Debug("Found transfer request")
	return ctx, trs
}

// ensureEDR registers an endpoint data reference for pull transfers we
// provide the data for. Push transfers already carry the consumer's address.
func ensureEDR(ctx context.Context, tr TransferRequestState) error {
	if tr.GetRole() != constants.DataspaceProvider || tr.GetDirection() != transfer.DirectionPull {
		return nil
	}
	da, err := tr.GetEDRRegistry().RegisterEDR(ctx, tr.GetTransferRequest())
	if err != nil {
		return fmt.Errorf("could not register endpoint data reference: %w", err)
	}
	tr.GetTransferRequest().SetDataAddress(da)
	return nil
}

func revokeEDR(ctx context.Context, tr TransferRequestState) error {
	if tr.GetRole() != constants.DataspaceProvider || tr.GetDirection() != transfer.DirectionPull {
		return nil
	}
	if err := tr.GetEDRRegistry().RevokeEDR(ctx, tr.GetTransferRequest()); err != nil {
		return fmt.Errorf("could not revoke endpoint data reference: %w", err)
	}
	tr.GetTransferRequest().SetDataAddress(nil)
	return nil
}

func verifyAndTransformTransfer(
	ctx context.Context,
	tr TransferRequestState,
	providerPID, consumerPID string,
	targetState transfer.State,
) (context.Context, applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "target_state", targetState)
	if tr.GetProviderPID().URN() != strings.ToLower(providerPID) {
		logger.Error(
			"given provider PID didn't match transfer provider PID",
			"given", providerPID,
			"existing", tr.GetProviderPID().URN(),
		)
		return ctx, nil, fmt.Errorf(
			"given provider pid %s does not match transfer provider pid %s",
			providerPID,
			tr.GetProviderPID().URN(),
		)
	}
	if tr.GetConsumerPID().URN() != strings.ToLower(consumerPID) {
		logger.Error(
			"given consumer PID didn't match transfer consumer PID",
			"given", consumerPID,
			"existing", tr.GetConsumerPID().URN(),
		)
		return ctx, nil, fmt.Errorf(
			"given consumer pid %s does not match transfer consumer pid %s",
			consumerPID,
			tr.GetConsumerPID().URN(),
		)
	}
	if err := tr.SetState(targetState); err != nil {
		logger.Error("Could not set state", "err", err)
		return ctx, nil, fmt.Errorf("could not set state: %w", err)
	}
	return ctx, noop, nil
}

func processTransferTermination(
	ctx context.Context, t shared.TransferTerminationMessage, tr TransferRequestState,
) (context.Context, applyFunc, error) {
	logger := logging.Extract(ctx)
	logger = logger.With("termination_code", t.Code)
	for _, reason := range t.Reason {
		logger = logger.With(fmt.Sprintf("reason_%s", reason.Language), reason.Value)
	}
	ctx = logging.Inject(ctx, logger)

	if err := revokeEDR(ctx, tr); err != nil {
		return ctx, nil, err
	}
	return verifyAndTransformTransfer(ctx, tr, t.ProviderPID, t.ConsumerPID, transfer.StateTerminated)
}
