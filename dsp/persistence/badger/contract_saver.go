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

package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/openterms/converge/dsp/constants"
	"github.com/openterms/converge/dsp/contract"
	"github.com/openterms/converge/dsp/persistence"
	"github.com/openterms/converge/logging"
)

var negotiationPrefix = []byte("negotiation-")

// GetContractR gets a contract and sets the read-only property.
// It does not check any locks, as the database transaction already freezes the view.
func (sp *StorageProvider) GetContractR(
	ctx context.Context,
	pid uuid.UUID,
	role constants.DataspaceRole,
) (*contract.Negotiation, error) {
	key := contract.GenerateStorageKey(pid, role)
	logger := logging.Extract(ctx).With("pid", pid, "role", role, "key", string(key))
	b, err := get(sp.db, key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, persistence.ErrNotFound
		}
		logger.Error("Failed to get contract", "err", err)
		return nil, fmt.Errorf("could not get contract: %w", err)
	}
	negotiation, err := contract.FromBytes(b)
	if err != nil {
		return nil, err
	}

	negotiation.SetReadOnly()
	return negotiation, nil
}

// GetContractRW gets a contract but does NOT set the read-only property, allowing changes to be saved.
// It will try to acquire a lock, and if it can't it will panic. Right now we want contract
// problems to be extremely visible.
func (sp *StorageProvider) GetContractRW(
	ctx context.Context,
	pid uuid.UUID,
	role constants.DataspaceRole,
) (*contract.Negotiation, error) {
	key := contract.GenerateStorageKey(pid, role)
	ctx, _ = logging.InjectLabels(ctx, "type", "contract", "pid", pid, "role", role, "key", string(key))
	b, err := getLocked(ctx, sp, key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, persistence.ErrNotFound
		}
		return nil, err
	}

	negotiation, err := contract.FromBytes(b)
	if err != nil {
		_ = sp.ReleaseLock(ctx, newLockKey(key))
		return nil, err
	}

	return negotiation, nil
}

// PutContract saves a contract to the database.
// If the contract is set to read-only, it will panic as this is a bug in the code.
// It will release the lock after it has saved.
func (sp *StorageProvider) PutContract(ctx context.Context, negotiation *contract.Negotiation) error {
	return putUnlock(ctx, sp, negotiation)
}

func (sp *StorageProvider) ReleaseContract(
	ctx context.Context,
	negotiation *contract.Negotiation,
) error {
	key := contract.GenerateStorageKey(negotiation.GetLocalPID(), negotiation.GetRole())

	negotiation.SetReadOnly()
	return sp.ReleaseLock(ctx, newLockKey(key))
}

// GetNegotiations returns all negotiations, read-only.
func (sp *StorageProvider) GetNegotiations(ctx context.Context) ([]*contract.Negotiation, error) {
	values, err := getAll(sp.db, negotiationPrefix)
	if err != nil {
		logging.Extract(ctx).Error("Failed to list negotiations", "err", err)
		return nil, fmt.Errorf("could not list negotiations: %w", err)
	}
	negotiations := make([]*contract.Negotiation, 0, len(values))
	for _, b := range values {
		negotiation, err := contract.FromBytes(b)
		if err != nil {
			return nil, err
		}
		negotiation.SetReadOnly()
		negotiations = append(negotiations, negotiation)
	}
	return negotiations, nil
}

// GetNegotiationByAgreement scans the negotiations for the one that holds
// the given agreement, read-only.
func (sp *StorageProvider) GetNegotiationByAgreement(
	ctx context.Context,
	agreementID uuid.UUID,
) (*contract.Negotiation, error) {
	negotiations, err := sp.GetNegotiations(ctx)
	if err != nil {
		return nil, err
	}
	urn := agreementID.URN()
	for _, negotiation := range negotiations {
		if a := negotiation.GetAgreement(); a != nil && a.ID == urn {
			return negotiation, nil
		}
	}
	return nil, persistence.ErrNotFound
}
