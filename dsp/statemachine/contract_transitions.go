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
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/openterms/converge/dsp/contract"
	"github.com/openterms/converge/dsp/shared"
	"github.com/openterms/converge/jsonld"
	"github.com/openterms/converge/logging"
	"github.com/openterms/converge/odrl"
)

var (
	emptyUUID   = uuid.UUID{}
	ErrNotFound = errors.New("not found")
)

type applyFunc func() error

func noop() error { return nil }

type Contracter interface {
	GetProviderPID() uuid.UUID
	GetConsumerPID() uuid.UUID
	GetState() contract.State
	GetCallback() *url.URL
	SetCallback(u string) error
	GetSelf() *url.URL
	SetState(state contract.State, cause string) error
	GetContract() *contract.Negotiation
	GetOffer() odrl.Offer
	GetContractNegotiation() shared.ContractNegotiation
	AutoAccept() bool
	SetAutoAccept()
}

// ContractNegotiationState represents a negotiation in a certain state.
// Recv applies an incoming protocol message, Send progresses the
// negotiation with the next outgoing one.
type ContractNegotiationState interface {
	Contracter
	Recv(ctx context.Context, message any) (context.Context, applyFunc, error)
	Send(ctx context.Context) (applyFunc, error)
	GetReconciler() Reconciler
}

type stateMachineDeps struct {
	r Reconciler
}

func (cd *stateMachineDeps) GetReconciler() Reconciler { return cd.r }

// ContractNegotiationInitial is an initial state for a contract that hasn't been actually
// been submitted yet.
type ContractNegotiationInitial struct {
	*contract.Negotiation
	stateMachineDeps
}

// Recv on the initial state gets called on both the provider and consumer, it's only called
// when a provider receives an initial request message, or a consumer receives an initial offer
// message. It will set the desired states and generate the missing PID.
func (cn *ContractNegotiationInitial) Recv(
	ctx context.Context, message any,
) (context.Context, applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "recv_type", fmt.Sprintf("%T", cn))
	logger.Debug("Receiving message")
	switch t := message.(type) {
	case shared.ContractRequestMessage:
		return cn.processContractRequest(ctx, t)
	case shared.ContractOfferMessage:
		return cn.processContractOffer(ctx, t)
	default:
		return ctx, nil, fmt.Errorf("%w: message type %T not valid for an unsubmitted negotiation",
			contract.ErrIllegalTransition, t)
	}
}

func (cn *ContractNegotiationInitial) processContractOffer(
	ctx context.Context,
	t shared.ContractOfferMessage,
) (context.Context, applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx,
		"recv_msg_type", fmt.Sprintf("%T", t),
		"offer_target", cn.GetOffer().Target,
	)
	// This is the initial offer, we can assume all data is freshly made based on the offer.
	if err := cn.SetState(contract.StateOffered, "received contract offer"); err != nil {
		logger.Error("could not transition state", "err", err)
		return ctx, nil, fmt.Errorf("could not set state: %w", err)
	}
	if err := cn.Negotiation.SetConsumerPID(uuid.New()); err != nil {
		return ctx, nil, err
	}
	cn.Negotiation.SetInitial()
	return ctx, noop, nil
}

func (cn *ContractNegotiationInitial) processContractRequest(
	ctx context.Context,
	t shared.ContractRequestMessage,
) (context.Context, applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx,
		"recv_msg_type", fmt.Sprintf("%T", t),
		"offer_target", cn.GetOffer().Target,
	)
	logger.Debug("Received message")

	// This is the initial request, we can assume all data is freshly made based on the request.
	if err := cn.SetState(contract.StateRequested, "received contract request"); err != nil {
		logger.Error("could not transition state", "err", err)
		return ctx, nil, fmt.Errorf("could not set state: %w", err)
	}
	if err := cn.Negotiation.SetProviderPID(uuid.New()); err != nil {
		return ctx, nil, err
	}
	cn.Negotiation.SetInitial()
	return ctx, noop, nil
}

// Send progresses to the next state for the INITIAL state.
// This needs either the contract's consumer or provider PID set, but not both.
// If the provider PID is set, it will send out a contract offer to the callback.
// If the consumer PID is set, it will send out a contract request to the callback.
func (cn *ContractNegotiationInitial) Send(ctx context.Context) (applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "send_type", fmt.Sprintf("%T", cn))
	switch {
	case cn.GetConsumerPID() != emptyUUID && cn.GetProviderPID() == emptyUUID:
		return sendContractRequest(ctx, cn.GetReconciler(), cn.GetContract())
	case cn.GetProviderPID() != emptyUUID && cn.GetConsumerPID() == emptyUUID:
		return sendContractOffer(ctx, cn.GetReconciler(), cn.GetContract())
	default:
		logger.Error("can't deduce if provider or consumer")
		return noop, fmt.Errorf("can't deduce if provider or consumer contract")
	}
}

// ContractNegotiationRequested represents the requested state.
type ContractNegotiationRequested struct {
	*contract.Negotiation
	stateMachineDeps
}

// Recv gets called when a consumer receives an offer or agreement message, it will verify
// the PIDs, and forcefully set the callback. A provider in this state only receives
// termination messages.
func (cn *ContractNegotiationRequested) Recv(
	ctx context.Context, message any,
) (context.Context, applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "recv_type", fmt.Sprintf("%T", cn))
	logger.Debug("Receiving message")
	var consumerPID, providerPID, callbackAddress, cause string
	var targetState contract.State

	switch t := message.(type) {
	case shared.ContractOfferMessage:
		consumerPID = t.ConsumerPID
		providerPID = t.ProviderPID
		callbackAddress = t.CallbackAddress
		targetState = contract.StateOffered
		cause = "received contract offer"
		if ppid, err := uuid.Parse(providerPID); err == nil && cn.GetProviderPID() == emptyUUID {
			if err := cn.Negotiation.SetProviderPID(ppid); err != nil {
				return ctx, nil, err
			}
		}
		ctx, _ = logging.InjectLabels(ctx, "recv_msg_type", fmt.Sprintf("%T", t))
	case shared.ContractAgreementMessage:
		consumerPID = t.ConsumerPID
		providerPID = t.ProviderPID
		callbackAddress = t.CallbackAddress
		cn.Negotiation.SetAgreement(&t.Agreement)
		targetState = contract.StateAgreed
		cause = "received contract agreement"
		ctx, _ = logging.InjectLabels(ctx, "recv_msg_type", fmt.Sprintf("%T", t))
	case shared.ContractNegotiationTerminationMessage:
		return processTermination(ctx, t, cn)
	default:
		return ctx, nil, fmt.Errorf("%w: unsupported message type %T in state %s",
			contract.ErrIllegalTransition, t, cn.GetState())
	}
	logger.Debug("Received message")
	return verifyAndTransform(ctx, cn, providerPID, consumerPID, callbackAddress, targetState, cause, noop)
}

// Send determines if an offer or agreement has to be sent. A provider that
// received the initial request counters with an offer, unless it auto-accepts
// the submitted offer, in which case it agrees right away.
func (cn *ContractNegotiationRequested) Send(ctx context.Context) (applyFunc, error) {
	ctx, _ = logging.InjectLabels(ctx, "send_type", fmt.Sprintf("%T", cn))
	if cn.Negotiation.Initial() && !cn.AutoAccept() {
		cn.Negotiation.UnsetInitial()
		return sendContractOffer(ctx, cn.GetReconciler(), cn.GetContract())
	}
	cn.Negotiation.UnsetInitial()
	return sendContractAgreement(ctx, cn.GetReconciler(), cn.GetContract())
}

type ContractNegotiationOffered struct {
	*contract.Negotiation
	stateMachineDeps
}

// Recv gets called when a provider receives a request or accepted-event message.
// It will verify it and set the proper status for the next step.
func (cn *ContractNegotiationOffered) Recv(
	ctx context.Context, message any,
) (context.Context, applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "recv_type", fmt.Sprintf("%T", cn))
	logger.Debug("Receiving message")
	var consumerPID, providerPID, callbackAddress, cause string
	var targetState contract.State

	switch t := message.(type) {
	case shared.ContractRequestMessage:
		consumerPID = t.ConsumerPID
		providerPID = t.ProviderPID
		callbackAddress = t.CallbackAddress
		targetState = contract.StateRequested
		cause = "received counter request"
		if cpid, err := uuid.Parse(consumerPID); err == nil && cn.GetConsumerPID() == emptyUUID {
			if err := cn.Negotiation.SetConsumerPID(cpid); err != nil {
				return ctx, nil, err
			}
		}
		ctx, _ = logging.InjectLabels(ctx, "recv_msg_type", fmt.Sprintf("%T", t))
	case shared.ContractNegotiationEventMessage:
		ctx, logger = logging.InjectLabels(ctx,
			"recv_msg_type", fmt.Sprintf("%T", t),
			"event_type", t.EventType,
		)
		consumerPID = t.ConsumerPID
		providerPID = t.ProviderPID
		callbackAddress = cn.GetCallback().String()
		receivedStatus, err := parseEventState(t.EventType)
		if err != nil {
			logger.Error("Event contained invalid status", "err", err)
			return ctx, nil, fmt.Errorf("event %s does not contain proper status: %w", t.EventType, err)
		}
		if receivedStatus != contract.StateAccepted {
			logger.Error("Event contained invalid status")
			return ctx, nil, fmt.Errorf("%w: invalid event status %s in state %s",
				contract.ErrIllegalTransition, receivedStatus, cn.GetState())
		}
		targetState = receivedStatus
		cause = "received accepted event"
	case shared.ContractNegotiationTerminationMessage:
		return processTermination(ctx, t, cn)
	default:
		return ctx, nil, fmt.Errorf("%w: unsupported message type %T in state %s",
			contract.ErrIllegalTransition, t, cn.GetState())
	}
	return verifyAndTransform(ctx, cn, providerPID, consumerPID, callbackAddress, targetState, cause, noop)
}

// Send either counters the offer with a new request, or accepts it.
func (cn *ContractNegotiationOffered) Send(ctx context.Context) (applyFunc, error) {
	ctx, _ = logging.InjectLabels(ctx, "send_type", fmt.Sprintf("%T", cn))
	if cn.Negotiation.Initial() && !cn.AutoAccept() {
		cn.Negotiation.UnsetInitial()
		return sendContractRequest(ctx, cn.GetReconciler(), cn.GetContract())
	}
	cn.Negotiation.UnsetInitial()
	return sendContractEvent(
		ctx, cn.GetReconciler(), cn.GetContract(), cn.GetProviderPID(), contract.StateAccepted)
}

type ContractNegotiationAccepted struct {
	*contract.Negotiation
	stateMachineDeps
}

// Recv gets called on the consumer when the provider sends a contract agreement message.
func (cn *ContractNegotiationAccepted) Recv(
	ctx context.Context, message any,
) (context.Context, applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "recv_type", fmt.Sprintf("%T", cn))
	logger.Debug("Receiving message")
	switch t := message.(type) {
	case shared.ContractAgreementMessage:
		ctx, _ = logging.InjectLabels(ctx, "recv_msg_type", fmt.Sprintf("%T", t))
		cn.SetAgreement(&t.Agreement)
		return verifyAndTransform(
			ctx,
			cn,
			t.ProviderPID,
			t.ConsumerPID,
			t.CallbackAddress,
			contract.StateAgreed,
			"received contract agreement",
			noop,
		)
	case shared.ContractNegotiationTerminationMessage:
		return processTermination(ctx, t, cn)
	default:
		return ctx, nil, fmt.Errorf("%w: unsupported message type %T in state %s",
			contract.ErrIllegalTransition, t, cn.GetState())
	}
}

func (cn *ContractNegotiationAccepted) Send(ctx context.Context) (applyFunc, error) {
	ctx, _ = logging.InjectLabels(ctx, "send_type", fmt.Sprintf("%T", cn))
	return sendContractAgreement(ctx, cn.GetReconciler(), cn.GetContract())
}

type ContractNegotiationAgreed struct {
	*contract.Negotiation
	stateMachineDeps
}

func (cn *ContractNegotiationAgreed) Recv(
	ctx context.Context, message any,
) (context.Context, applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "recv_type", fmt.Sprintf("%T", cn))
	logger.Info("Receiving message")
	switch t := message.(type) {
	case shared.ContractAgreementVerificationMessage:
		ctx, _ = logging.InjectLabels(ctx, "recv_msg_type", fmt.Sprintf("%T", t))
		return verifyAndTransform(
			ctx,
			cn,
			t.ProviderPID,
			t.ConsumerPID,
			cn.GetCallback().String(),
			contract.StateVerified,
			"received agreement verification",
			noop,
		)
	case shared.ContractNegotiationTerminationMessage:
		return processTermination(ctx, t, cn)
	default:
		return ctx, nil, fmt.Errorf("%w: unsupported message type %T in state %s",
			contract.ErrIllegalTransition, t, cn.GetState())
	}
}

func (cn *ContractNegotiationAgreed) Send(ctx context.Context) (applyFunc, error) {
	ctx, _ = logging.InjectLabels(ctx, "send_type", fmt.Sprintf("%T", cn))
	return sendContractVerification(ctx, cn.GetReconciler(), cn.GetContract())
}

type ContractNegotiationVerified struct {
	*contract.Negotiation
	stateMachineDeps
}

func (cn *ContractNegotiationVerified) Recv(
	ctx context.Context, message any,
) (context.Context, applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "recv_type", fmt.Sprintf("%T", cn))
	logger.Debug("Receiving message")
	switch t := message.(type) {
	case shared.ContractNegotiationEventMessage:
		ctx, logger = logging.InjectLabels(ctx,
			"recv_msg_type", fmt.Sprintf("%T", t),
			"event_type", t.EventType,
		)
		receivedStatus, err := parseEventState(t.EventType)
		if err != nil {
			logger.Error("event does not contain the proper status", "err", err)
			return ctx, nil, fmt.Errorf("event %s does not contain proper status: %w", t.EventType, err)
		}
		if receivedStatus != contract.StateFinalized {
			logger.Error("invalid status")
			return ctx, nil, fmt.Errorf("%w: invalid event status %s in state %s",
				contract.ErrIllegalTransition, receivedStatus, cn.GetState())
		}
		logger.Debug("Received message")
		return verifyAndTransform(
			ctx,
			cn,
			t.ProviderPID,
			t.ConsumerPID,
			cn.GetCallback().String(),
			contract.StateFinalized,
			"received finalized event",
			noop,
		)
	case shared.ContractNegotiationTerminationMessage:
		return processTermination(ctx, t, cn)
	default:
		return ctx, nil, fmt.Errorf("%w: unsupported message type %T in state %s",
			contract.ErrIllegalTransition, t, cn.GetState())
	}
}

func (cn *ContractNegotiationVerified) Send(ctx context.Context) (applyFunc, error) {
	ctx, _ = logging.InjectLabels(ctx, "send_type", fmt.Sprintf("%T", cn))
	return sendContractEvent(
		ctx, cn.GetReconciler(), cn.GetContract(), cn.GetConsumerPID(), contract.StateFinalized)
}

// ContractNegotiationPending covers all the local intermediate states, where
// an outbound message hasn't been acknowledged yet. The only message that is
// accepted while a message is in flight is a termination.
type ContractNegotiationPending struct {
	*contract.Negotiation
	stateMachineDeps
}

func (cn *ContractNegotiationPending) Recv(
	ctx context.Context, message any,
) (context.Context, applyFunc, error) {
	ctx, _ = logging.InjectLabels(ctx, "recv_type", fmt.Sprintf("%T", cn))
	switch t := message.(type) {
	case shared.ContractNegotiationTerminationMessage:
		return processTermination(ctx, t, cn)
	default:
		return ctx, nil, fmt.Errorf("%w: a %T message can't be handled while state is %s",
			contract.ErrIllegalTransition, t, cn.GetState())
	}
}

func (cn *ContractNegotiationPending) Send(ctx context.Context) (applyFunc, error) {
	return noop, fmt.Errorf("%w: a message is still in flight for state %s",
		contract.ErrIllegalTransition, cn.GetState())
}

type ContractNegotiationFinalized struct {
	*contract.Negotiation
	stateMachineDeps
}

func (cn *ContractNegotiationFinalized) Recv(
	ctx context.Context, message any,
) (context.Context, applyFunc, error) {
	return ctx, nil, fmt.Errorf("%w: this is a final state", contract.ErrIllegalTransition)
}

func (cn *ContractNegotiationFinalized) Send(ctx context.Context) (applyFunc, error) {
	return noop, nil
}

type ContractNegotiationTerminated struct {
	*contract.Negotiation
	stateMachineDeps
}

func (cn *ContractNegotiationTerminated) Recv(
	ctx context.Context, message any,
) (context.Context, applyFunc, error) {
	return ctx, nil, fmt.Errorf("%w: this is a final state", contract.ErrIllegalTransition)
}

func (cn *ContractNegotiationTerminated) Send(ctx context.Context) (applyFunc, error) {
	// Nothing to do here.
	return noop, nil
}

func GetContractNegotiation(
	ctx context.Context,
	c *contract.Negotiation,
	r Reconciler,
) (context.Context, ContractNegotiationState) {
	var cns ContractNegotiationState
	deps := stateMachineDeps{r: r}
	switch c.GetState() {
	case contract.StateInitial:
		cns = &ContractNegotiationInitial{Negotiation: c, stateMachineDeps: deps}
	case contract.StateRequested:
		cns = &ContractNegotiationRequested{Negotiation: c, stateMachineDeps: deps}
	case contract.StateOffered:
		cns = &ContractNegotiationOffered{Negotiation: c, stateMachineDeps: deps}
	case contract.StateAgreed:
		cns = &ContractNegotiationAgreed{Negotiation: c, stateMachineDeps: deps}
	case contract.StateAccepted:
		cns = &ContractNegotiationAccepted{Negotiation: c, stateMachineDeps: deps}
	case contract.StateVerified:
		cns = &ContractNegotiationVerified{Negotiation: c, stateMachineDeps: deps}
	case contract.StateFinalized:
		cns = &ContractNegotiationFinalized{Negotiation: c, stateMachineDeps: deps}
	case contract.StateTerminated:
		cns = &ContractNegotiationTerminated{Negotiation: c, stateMachineDeps: deps}
	case contract.StateRequesting, contract.StateOffering, contract.StateAccepting,
		contract.StateAgreeing, contract.StateVerifying, contract.StateFinalizing,
		contract.StateTerminating:
		cns = &ContractNegotiationPending{Negotiation: c, stateMachineDeps: deps}
	default:
		panic("Invalid contract state.")
	}
	ctx, logger := logging.InjectLabels(ctx,
		"contract_consumerPID", cns.GetConsumerPID().String(),
		"contract_providerPID", cns.GetProviderPID().String(),
		"contract_state", cns.GetState().String(),
		"contract_role", cns.GetContract().GetRole(),
		"auto_accept", cns.AutoAccept(),
	)
	logger.Debug("Found contract")
	return ctx, cns
}

// parseEventState resolves an eventType field, which can use any of the
// JSON-LD forms of the state IRI.
func parseEventState(eventType string) (contract.State, error) {
	switch {
	case jsonld.Equivalent(eventType, "dspace:ACCEPTED"):
		return contract.StateAccepted, nil
	case jsonld.Equivalent(eventType, "dspace:FINALIZED"):
		return contract.StateFinalized, nil
	default:
		return contract.StateInitial, fmt.Errorf("invalid event type: %s", eventType)
	}
}

func verifyAndTransform(
	ctx context.Context,
	cn ContractNegotiationState,
	providerPID, consumerPID, callbackAddress string,
	targetState contract.State,
	cause string,
	af applyFunc,
) (context.Context, applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "target_state", targetState)
	if cn.GetProviderPID().URN() != strings.ToLower(providerPID) {
		logger.Error(
			"given provider PID didn't match contract provider PID",
			"given", providerPID,
			"existing", cn.GetProviderPID().URN(),
		)
		return ctx, nil, fmt.Errorf(
			"given provider PID %s didn't match contract provider PID %s",
			providerPID,
			cn.GetProviderPID().URN(),
		)
	}
	if cn.GetConsumerPID().URN() != strings.ToLower(consumerPID) {
		logger.Error(
			"given consumer PID didn't match contract consumer PID",
			"given", consumerPID,
			"existing", cn.GetConsumerPID().URN(),
		)
		return ctx, nil, fmt.Errorf(
			"given consumer PID %s didn't match contract consumer PID %s",
			consumerPID,
			cn.GetConsumerPID().URN(),
		)
	}
	err := cn.SetCallback(callbackAddress)
	if err != nil {
		logger.Error("Invalid callback address", "err", err)
		return ctx, nil, fmt.Errorf("invalid callback address: %s", callbackAddress)
	}
	if err := cn.SetState(targetState, cause); err != nil {
		logger.Error("Could not set state", "err", err)
		return ctx, nil, fmt.Errorf("could not set state: %w", err)
	}

	return ctx, af, nil
}

func processTermination(
	ctx context.Context, t shared.ContractNegotiationTerminationMessage, cn ContractNegotiationState,
) (context.Context, applyFunc, error) {
	logger := logging.Extract(ctx)
	logger = logger.With("termination_code", t.Code)
	for _, reason := range t.Reason {
		logger = logger.With(fmt.Sprintf("reason_%s", reason.Language), reason.Value)
	}
	ctx = logging.Inject(ctx, logger)

	detail := t.Code
	if len(t.Reason) > 0 {
		detail = t.Reason[0].Value
	}
	if detail != "" {
		cn.GetContract().SetErrorDetail(detail)
	}
	return verifyAndTransform(
		ctx,
		cn,
		t.ProviderPID,
		t.ConsumerPID,
		cn.GetCallback().String(),
		contract.StateTerminated,
		"received termination",
		noop,
	)
}
