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
	"github.com/openterms/converge/dsp/contract"
	"github.com/openterms/converge/dsp/shared"
	"github.com/openterms/converge/logging"
	"github.com/openterms/converge/odrl"
)

func cloneURL(u *url.URL) *url.URL {
	nu, err := url.Parse(u.String())
	if err != nil {
		panic(fmt.Sprintf("Couldn't clone url %s: %s", u.String(), err.Error()))
	}
	return nu
}

func makeContractRequestFunction(
	ctx context.Context,
	c *contract.Negotiation,
	cu *url.URL,
	reqBody []byte,
	destinationState contract.State,
	reconciler Reconciler,
) applyFunc {
	var id uuid.UUID
	if c.GetRole() == constants.DataspaceConsumer {
		id = c.GetConsumerPID()
	} else {
		id = c.GetProviderPID()
	}
	return makeRequestFunction(
		ctx,
		cu,
		reqBody,
		id,
		c.GetRole(),
		destinationState.String(),
		ReconciliationContract,
		reconciler,
	)
}

func makeRequestFunction(
	ctx context.Context,
	cu *url.URL,
	reqBody []byte,
	id uuid.UUID,
	role constants.DataspaceRole,
	destinationState string,
	recType ReconciliationType,
	reconciler Reconciler,
) applyFunc {
	return func() error {
		reconciler.Add(ReconciliationEntry{
			EntityID:    id,
			Type:        recType,
			Role:        role,
			TargetState: destinationState,
			Method:      "POST",
			URL:         cu,
			Body:        reqBody,
			Context:     ctx,
		})
		return nil
	}
}

//nolint:dupl
func sendContractRequest(ctx context.Context, r Reconciler, c *contract.Negotiation) (applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "operation", "sendContractRequest")
	if err := c.SetState(contract.StateRequesting, "sending contract request"); err != nil {
		return noop, err
	}
	contractRequest := shared.ContractRequestMessage{
		Context:         shared.GetDSPContext(),
		Type:            "dspace:ContractRequestMessage",
		ConsumerPID:     c.GetConsumerPID().URN(),
		Offer:           c.GetOffer().MessageOffer,
		CallbackAddress: c.GetSelf().String(),
	}

	// If we have a providerPID we set it.
	if c.GetProviderPID() != emptyUUID {
		contractRequest.ProviderPID = c.GetProviderPID().URN()
	}
	reqBody, err := shared.ValidateAndMarshal(ctx, contractRequest)
	if err != nil {
		logger.Error("Could not validate contract request", "err", err)
		return noop, fmt.Errorf("could not validate contract request: %w", err)
	}

	cu := cloneURL(c.GetCallback())
	// Set the desired URL depending on if the provider PID is known.
	if c.GetProviderPID() != emptyUUID {
		cu.Path = path.Join(cu.Path, "negotiations", c.GetProviderPID().String(), "request")
	} else {
		cu.Path = path.Join(cu.Path, "negotiations", "request")
	}

	return makeContractRequestFunction(
		ctx,
		c,
		cu,
		reqBody,
		contract.StateRequested,
		r,
	), nil
}

//nolint:dupl
func sendContractOffer(ctx context.Context, r Reconciler, c *contract.Negotiation) (applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "operation", "sendContractOffer")
	if err := c.SetState(contract.StateOffering, "sending contract offer"); err != nil {
		return noop, err
	}
	contractOffer := shared.ContractOfferMessage{
		Context:         shared.GetDSPContext(),
		Type:            "dspace:ContractOfferMessage",
		ProviderPID:     c.GetProviderPID().URN(),
		Offer:           c.GetOffer().MessageOffer,
		CallbackAddress: c.GetSelf().String(),
	}

	if c.GetConsumerPID() != emptyUUID {
		contractOffer.ConsumerPID = c.GetConsumerPID().URN()
	}

	reqBody, err := shared.ValidateAndMarshal(ctx, contractOffer)
	if err != nil {
		logger.Error("Could not validate contract offer", "err", err)
		return noop, fmt.Errorf("could not validate contract offer: %w", err)
	}

	cu := cloneURL(c.GetCallback())
	// An initial offer goes to the root of the counterparty's API, once the
	// consumer PID exists offers go to the negotiation's own endpoint.
	if c.GetConsumerPID() != emptyUUID {
		cu.Path = path.Join(cu.Path, "negotiations", c.GetConsumerPID().String(), "offers")
	} else {
		cu.Path = path.Join(cu.Path, "negotiations", "offers")
	}

	return makeContractRequestFunction(
		ctx,
		c,
		cu,
		reqBody,
		contract.StateOffered,
		r,
	), nil
}

func sendContractAgreement(ctx context.Context, r Reconciler, c *contract.Negotiation) (applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "operation", "sendContractAgreement")
	if err := c.SetState(contract.StateAgreeing, "sending contract agreement"); err != nil {
		return noop, err
	}

	offer := c.GetOffer()
	assignee := offer.Assignee
	if assignee == "" {
		assignee = c.GetConsumerPID().URN()
	}
	agreement, err := odrl.NewAgreement(
		uuid.New().URN(),
		offer.Assigner,
		assignee,
		offer.Target,
		odrl.TimestampNow().String(),
		odrl.Rules{
			Permissions:  offer.Permission,
			Prohibitions: offer.Prohibition,
			Obligations:  offer.Obligation,
		},
	)
	if err != nil {
		logger.Error("Couldn't build agreement from negotiated offer", "err", err)
		return noop, fmt.Errorf("couldn't build agreement: %w", err)
	}
	c.SetAgreement(agreement)

	contractAgreement := shared.ContractAgreementMessage{
		Context:         shared.GetDSPContext(),
		Type:            "dspace:ContractAgreementMessage",
		ProviderPID:     c.GetProviderPID().URN(),
		ConsumerPID:     c.GetConsumerPID().URN(),
		Agreement:       *c.GetAgreement(),
		CallbackAddress: c.GetSelf().String(),
	}

	reqBody, err := shared.ValidateAndMarshal(ctx, contractAgreement)
	if err != nil {
		logger.Error("Couldn't validate contract agreement", "err", err)
		return noop, fmt.Errorf("couldn't validate contract agreement: %w", err)
	}
	cu := cloneURL(c.GetCallback())
	cu.Path = path.Join(cu.Path, "negotiations", c.GetConsumerPID().String(), "agreement")

	return makeContractRequestFunction(
		ctx,
		c,
		cu,
		reqBody,
		contract.StateAgreed,
		r,
	), nil
}

func sendContractEvent(
	ctx context.Context, r Reconciler, c *contract.Negotiation, pid uuid.UUID, state contract.State,
) (applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "operation", "sendContractEvent")
	var intermediate contract.State
	switch state {
	case contract.StateAccepted:
		intermediate = contract.StateAccepting
	case contract.StateFinalized:
		intermediate = contract.StateFinalizing
	default:
		return noop, fmt.Errorf("%w: no event exists for state %s", contract.ErrIllegalTransition, state)
	}
	if err := c.SetState(intermediate, "sending "+state.String()+" event"); err != nil {
		return noop, err
	}
	contractEvent := shared.ContractNegotiationEventMessage{
		Context:     shared.GetDSPContext(),
		Type:        "dspace:ContractNegotiationEventMessage",
		ProviderPID: c.GetProviderPID().URN(),
		ConsumerPID: c.GetConsumerPID().URN(),
		EventType:   state.Wire(),
	}
	reqBody, err := shared.ValidateAndMarshal(ctx, contractEvent)
	if err != nil {
		logger.Error("Couldn't validate contract event", "err", err)
		return noop, fmt.Errorf("couldn't validate contract event: %w", err)
	}
	cu := cloneURL(c.GetCallback())
	cu.Path = path.Join(cu.Path, "negotiations", pid.String(), "events")

	return makeContractRequestFunction(
		ctx,
		c,
		cu,
		reqBody,
		state,
		r,
	), nil
}

func sendContractVerification(ctx context.Context, r Reconciler, c *contract.Negotiation) (applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "operation", "sendContractVerification")
	if err := c.SetState(contract.StateVerifying, "sending agreement verification"); err != nil {
		return noop, err
	}
	contractVerification := shared.ContractAgreementVerificationMessage{
		Context:     shared.GetDSPContext(),
		Type:        "dspace:ContractAgreementVerificationMessage",
		ProviderPID: c.GetProviderPID().URN(),
		ConsumerPID: c.GetConsumerPID().URN(),
	}

	reqBody, err := shared.ValidateAndMarshal(ctx, contractVerification)
	if err != nil {
		logger.Error("Couldn't validate contract verification", "err", err)
		return noop, fmt.Errorf("couldn't validate contract verification: %w", err)
	}

	cu := cloneURL(c.GetCallback())
	cu.Path = path.Join(cu.Path, "negotiations", c.GetProviderPID().String(), "agreement", "verification")

	return makeContractRequestFunction(
		ctx,
		c,
		cu,
		reqBody,
		contract.StateVerified,
		r,
	), nil
}

func sendContractTermination(
	ctx context.Context, r Reconciler, c *contract.Negotiation, code string, reasons []shared.Multilanguage,
) (applyFunc, error) {
	ctx, logger := logging.InjectLabels(ctx, "operation", "sendContractTermination")
	cause := "terminating negotiation"
	if code != "" {
		cause = "terminating negotiation: " + code
	}
	if err := c.SetState(contract.StateTerminating, cause); err != nil {
		return noop, err
	}
	if code != "" {
		c.SetErrorDetail(code)
	}
	termination := shared.ContractNegotiationTerminationMessage{
		Context:     shared.GetDSPContext(),
		Type:        "dspace:ContractNegotiationTerminationMessage",
		ProviderPID: c.GetProviderPID().URN(),
		ConsumerPID: c.GetConsumerPID().URN(),
		Code:        code,
		Reason:      reasons,
	}

	reqBody, err := shared.ValidateAndMarshal(ctx, termination)
	if err != nil {
		logger.Error("Couldn't validate contract termination", "err", err)
		return noop, fmt.Errorf("couldn't validate contract termination: %w", err)
	}

	cu := cloneURL(c.GetCallback())
	cu.Path = path.Join(cu.Path, "negotiations", c.GetRemotePID().String(), "termination")

	return makeContractRequestFunction(
		ctx,
		c,
		cu,
		reqBody,
		contract.StateTerminated,
		r,
	), nil
}

// The functions below are the negotiation operations that the management API
// exposes. They put the negotiation in the matching intermediate state and
// hand the message off to the reconciler via the returned apply function.

func RequestNegotiation(ctx context.Context, r Reconciler, c *contract.Negotiation) (applyFunc, error) {
	return sendContractRequest(ctx, r, c)
}

func OfferNegotiation(ctx context.Context, r Reconciler, c *contract.Negotiation) (applyFunc, error) {
	return sendContractOffer(ctx, r, c)
}

func AcceptNegotiation(ctx context.Context, r Reconciler, c *contract.Negotiation) (applyFunc, error) {
	return sendContractEvent(ctx, r, c, c.GetProviderPID(), contract.StateAccepted)
}

func AgreeNegotiation(ctx context.Context, r Reconciler, c *contract.Negotiation) (applyFunc, error) {
	return sendContractAgreement(ctx, r, c)
}

func VerifyNegotiation(ctx context.Context, r Reconciler, c *contract.Negotiation) (applyFunc, error) {
	return sendContractVerification(ctx, r, c)
}

func FinalizeNegotiation(ctx context.Context, r Reconciler, c *contract.Negotiation) (applyFunc, error) {
	return sendContractEvent(ctx, r, c, c.GetConsumerPID(), contract.StateFinalized)
}

func TerminateNegotiation(
	ctx context.Context, r Reconciler, c *contract.Negotiation, code string, reasons []shared.Multilanguage,
) (applyFunc, error) {
	return sendContractTermination(ctx, r, c, code, reasons)
}
