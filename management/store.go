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
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/openterms/converge/dsp/persistence"
	"github.com/openterms/converge/dsp/shared"
	"github.com/openterms/converge/dsp/transfer"
)

// ErrConflict is returned when a create hits an existing ID, or a delete
// hits a record that is still referenced.
var ErrConflict = errors.New("conflict")

var (
	assetPrefix       = []byte("asset-")
	policyPrefix      = []byte("policydef-")
	contractDefPrefix = []byte("contractdef-")
	edrPrefix         = []byte("edr-")
)

// Store keeps the management entities in the shared key/value backend.
// It also mints and revokes endpoint data references for the transfer
// state machine.
type Store struct {
	kv          persistence.KV
	dataURL     *url.URL
	participant string
}

// New creates a management store. dataURL is the base the minted data
// endpoints live under, participant is the provider ID recorded on EDRs.
func New(kv persistence.KV, dataURL *url.URL, participant string) *Store {
	return &Store{
		kv:          kv,
		dataURL:     dataURL,
		participant: participant,
	}
}

func createKeyed(ctx context.Context, kv persistence.KV, key []byte, v any) error {
	if _, err := kv.GetKV(ctx, key); err == nil {
		return fmt.Errorf("%w: %s exists", ErrConflict, key)
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return err
	}
	return putKeyed(ctx, kv, key, v)
}

func putKeyed(ctx context.Context, kv persistence.KV, key []byte, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("could not marshal %s: %w", key, err)
	}
	return kv.PutKV(ctx, key, body)
}

func updateKeyed(ctx context.Context, kv persistence.KV, key []byte, v any) error {
	if _, err := kv.GetKV(ctx, key); err != nil {
		return err
	}
	return putKeyed(ctx, kv, key, v)
}

func getKeyed[T any](ctx context.Context, kv persistence.KV, key []byte) (*T, error) {
	body, err := kv.GetKV(ctx, key)
	if err != nil {
		return nil, err
	}
	v := new(T)
	if err := json.Unmarshal(body, v); err != nil {
		return nil, fmt.Errorf("could not unmarshal %s: %w", key, err)
	}
	return v, nil
}

func listKeyed[T any](ctx context.Context, kv persistence.KV, prefix []byte) ([]*T, error) {
	bodies, err := kv.GetKVPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(bodies))
	for _, body := range bodies {
		v := new(T)
		if err := json.Unmarshal(body, v); err != nil {
			return nil, fmt.Errorf("could not unmarshal under %s: %w", prefix, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func assetKey(id string) []byte       { return []byte("asset-" + id) }
func policyKey(id string) []byte      { return []byte("policydef-" + id) }
func contractDefKey(id string) []byte { return []byte("contractdef-" + id) }
func edrKey(id string) []byte         { return []byte("edr-" + id) }

// CreateAsset stores a new asset, ErrConflict if the ID is taken.
func (s *Store) CreateAsset(ctx context.Context, a *Asset) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return createKeyed(ctx, s.kv, assetKey(a.ID), a)
}

func (s *Store) GetAsset(ctx context.Context, id string) (*Asset, error) {
	return getKeyed[Asset](ctx, s.kv, assetKey(id))
}

// UpdateAsset replaces an existing asset, persistence.ErrNotFound if absent.
func (s *Store) UpdateAsset(ctx context.Context, a *Asset) error {
	return updateKeyed(ctx, s.kv, assetKey(a.ID), a)
}

// DeleteAsset removes an asset. It refuses with ErrConflict while any
// contract definition's selector still matches the asset.
func (s *Store) DeleteAsset(ctx context.Context, id string) error {
	asset, err := s.GetAsset(ctx, id)
	if err != nil {
		return err
	}
	definitions, err := listKeyed[ContractDefinition](ctx, s.kv, contractDefPrefix)
	if err != nil {
		return err
	}
	for _, cd := range definitions {
		if cd.Matches(asset) {
			return fmt.Errorf("%w: asset %s in use by contract definition %s", ErrConflict, id, cd.ID)
		}
	}
	return s.kv.DelKV(ctx, assetKey(id))
}

func (s *Store) QueryAssets(ctx context.Context, q QuerySpec) ([]*Asset, error) {
	assets, err := listKeyed[Asset](ctx, s.kv, assetPrefix)
	if err != nil {
		return nil, err
	}
	return Apply(assets, q), nil
}

// CreatePolicyDefinition stores a new policy definition, ErrConflict if the
// ID is taken.
func (s *Store) CreatePolicyDefinition(ctx context.Context, p *PolicyDefinition) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return createKeyed(ctx, s.kv, policyKey(p.ID), p)
}

func (s *Store) GetPolicyDefinition(ctx context.Context, id string) (*PolicyDefinition, error) {
	return getKeyed[PolicyDefinition](ctx, s.kv, policyKey(id))
}

func (s *Store) UpdatePolicyDefinition(ctx context.Context, p *PolicyDefinition) error {
	return updateKeyed(ctx, s.kv, policyKey(p.ID), p)
}

// DeletePolicyDefinition removes a policy definition. It refuses with
// ErrConflict while a contract definition references it.
func (s *Store) DeletePolicyDefinition(ctx context.Context, id string) error {
	if _, err := s.GetPolicyDefinition(ctx, id); err != nil {
		return err
	}
	definitions, err := listKeyed[ContractDefinition](ctx, s.kv, contractDefPrefix)
	if err != nil {
		return err
	}
	for _, cd := range definitions {
		if cd.AccessPolicyID == id || cd.ContractPolicyID == id {
			return fmt.Errorf("%w: policy %s in use by contract definition %s", ErrConflict, id, cd.ID)
		}
	}
	return s.kv.DelKV(ctx, policyKey(id))
}

func (s *Store) QueryPolicyDefinitions(ctx context.Context, q QuerySpec) ([]*PolicyDefinition, error) {
	policies, err := listKeyed[PolicyDefinition](ctx, s.kv, policyPrefix)
	if err != nil {
		return nil, err
	}
	return Apply(policies, q), nil
}

// CreateContractDefinition stores a new contract definition. The referenced
// policies must exist.
func (s *Store) CreateContractDefinition(ctx context.Context, cd *ContractDefinition) error {
	if cd.CreatedAt.IsZero() {
		cd.CreatedAt = time.Now().UTC()
	}
	if err := s.checkPolicyRefs(ctx, cd); err != nil {
		return err
	}
	return createKeyed(ctx, s.kv, contractDefKey(cd.ID), cd)
}

func (s *Store) GetContractDefinition(ctx context.Context, id string) (*ContractDefinition, error) {
	return getKeyed[ContractDefinition](ctx, s.kv, contractDefKey(id))
}

func (s *Store) UpdateContractDefinition(ctx context.Context, cd *ContractDefinition) error {
	if err := s.checkPolicyRefs(ctx, cd); err != nil {
		return err
	}
	return updateKeyed(ctx, s.kv, contractDefKey(cd.ID), cd)
}

func (s *Store) DeleteContractDefinition(ctx context.Context, id string) error {
	return s.kv.DelKV(ctx, contractDefKey(id))
}

func (s *Store) QueryContractDefinitions(ctx context.Context, q QuerySpec) ([]*ContractDefinition, error) {
	definitions, err := listKeyed[ContractDefinition](ctx, s.kv, contractDefPrefix)
	if err != nil {
		return nil, err
	}
	return Apply(definitions, q), nil
}

func (s *Store) checkPolicyRefs(ctx context.Context, cd *ContractDefinition) error {
	for _, id := range []string{cd.AccessPolicyID, cd.ContractPolicyID} {
		if _, err := s.GetPolicyDefinition(ctx, id); err != nil {
			return fmt.Errorf("policy definition %s: %w", id, err)
		}
	}
	return nil
}

// RegisterEDR mints an endpoint data reference for a transfer, stores the
// entry, and returns the data address the consumer will dereference.
func (s *Store) RegisterEDR(ctx context.Context, req *transfer.Request) (*shared.DataAddress, error) {
	token := uuid.New().String()
	entry := &EDREntry{
		TransferProcessID: req.GetProviderPID().URN(),
		AgreementID:       req.GetAgreementID().URN(),
		AssetID:           req.GetTarget(),
		ProviderID:        s.participant,
		Token:             token,
		CreatedAt:         time.Now().UTC(),
	}
	// Overwrite on purpose, re-starting a suspended transfer rotates the token.
	if err := putKeyed(ctx, s.kv, edrKey(entry.TransferProcessID), entry); err != nil {
		return nil, err
	}

	endpoint := *s.dataURL
	endpoint.Path, _ = url.JoinPath(endpoint.Path, "data", req.GetProviderPID().String())
	return &shared.DataAddress{
		Type:         "dspace:DataAddress",
		EndpointType: "https://w3id.org/idsa/v4.1/HTTPS",
		Endpoint:     endpoint.String(),
		EndpointProperties: []shared.EndpointProperty{
			{
				Type:  "dspace:EndpointProperty",
				Name:  "authorization",
				Value: token,
			},
			{
				Type:  "dspace:EndpointProperty",
				Name:  "authType",
				Value: "bearer",
			},
		},
	}, nil
}

// RevokeEDR invalidates the endpoint data reference for a transfer. A
// transfer that never had one, or lost it already, is not an error.
func (s *Store) RevokeEDR(ctx context.Context, req *transfer.Request) error {
	err := s.kv.DelKV(ctx, edrKey(req.GetProviderPID().URN()))
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	return err
}

// GetEDR returns the entry for a transfer process ID.
func (s *Store) GetEDR(ctx context.Context, transferProcessID string) (*EDREntry, error) {
	return getKeyed[EDREntry](ctx, s.kv, edrKey(transferProcessID))
}

func (s *Store) QueryEDRs(ctx context.Context, q QuerySpec) ([]*EDREntry, error) {
	entries, err := listKeyed[EDREntry](ctx, s.kv, edrPrefix)
	if err != nil {
		return nil, err
	}
	return Apply(entries, q), nil
}
