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

// Package persistence contains the storage interfaces for the dataspace code. It also contains
// constants and other shared code for the implementation packages.
package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/openterms/converge/dsp/constants"
	"github.com/openterms/converge/dsp/contract"
	"github.com/openterms/converge/dsp/transfer"
	"github.com/openterms/converge/odrl"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConcurrentUpdate is returned when a record changed underneath a
// writer, for example when a lock timed out.
var ErrConcurrentUpdate = errors.New("concurrent update")

// StorageProvider is an interface that combines the *Saver interfaces.
type StorageProvider interface {
	ContractSaver
	AgreementSaver
	TransferSaver
	KV
}

// ContractSaver is an interface for storing/retrieving dataspace contracts.
// It supports both read-only and read/write versions.
// Do note that in this implementation that read-only is enforced at save time, as all contract
// fields are public (for encoding purposes).
// It is up to the implementer to handle locking of contracts for the read/write instances,
// and to error if a read-only contract is being saved.
type ContractSaver interface {
	// GetContractR gets a read-only version of a contract.
	GetContractR(
		ctx context.Context,
		pid uuid.UUID,
		role constants.DataspaceRole,
	) (*contract.Negotiation, error)
	// GetContractRW gets a read/write version of a contract. This should set a contract specific
	// lock for the requested contract.
	GetContractRW(
		ctx context.Context,
		pid uuid.UUID,
		role constants.DataspaceRole,
	) (*contract.Negotiation, error)
	// PutContract saves a contract, and releases the contract specific lock. If the contract
	// is read-only, it will return an error.
	PutContract(ctx context.Context, contract *contract.Negotiation) error
	// ReleaseContract will release any lock the negotiation has.
	ReleaseContract(ctx context.Context, negotiation *contract.Negotiation) error
	// GetNegotiations returns a read-only list of all negotiations.
	GetNegotiations(ctx context.Context) ([]*contract.Negotiation, error)
	// GetNegotiationByAgreement returns the read-only negotiation that
	// produced the given agreement.
	GetNegotiationByAgreement(ctx context.Context, agreementID uuid.UUID) (*contract.Negotiation, error)
}

// AgreementSaver is an interface for storing/retrieving dataspace agreements.
// This does not have any locking involved as agreements are immutable.
type AgreementSaver interface {
	// GetAgreement gets an agreement by ID.
	GetAgreement(ctx context.Context, id uuid.UUID) (*odrl.Agreement, error)
	// PutAgreement stores an agreement, but returns an error if the agreement ID already
	// exists.
	PutAgreement(ctx context.Context, agreement *odrl.Agreement) error
}

// TransferSaver is an interface for storing dataspace transfer requests.
// The read/write semantics are the same as those for contracts.
type TransferSaver interface {
	// GetTransfers returns a read-only list of all transfers.
	GetTransfers(ctx context.Context) ([]*transfer.Request, error)
	// GetTransferR gets a read-only version of a transfer request.
	GetTransferR(
		ctx context.Context,
		pid uuid.UUID,
		role constants.DataspaceRole,
	) (*transfer.Request, error)
	// GetTransferRW gets a read/write version of a transfer request.
	GetTransferRW(
		ctx context.Context,
		pid uuid.UUID,
		role constants.DataspaceRole,
	) (*transfer.Request, error)
	// PutTransfer saves a transfer.
	PutTransfer(ctx context.Context, transfer *transfer.Request) error
	// ReleaseTransfer will release any lock the transfer has.
	ReleaseTransfer(ctx context.Context, transfer *transfer.Request) error
}

// KV is a raw keyed-bytes interface for stores that manage their own record
// encoding, like the management store.
type KV interface {
	// GetKV retrieves the value for a key, ErrNotFound if absent.
	GetKV(ctx context.Context, key []byte) ([]byte, error)
	// PutKV stores a key/value pair.
	PutKV(ctx context.Context, key, value []byte) error
	// DelKV deletes a key, ErrNotFound if absent.
	DelKV(ctx context.Context, key []byte) error
	// GetKVPrefix returns all values under a key prefix in key order.
	GetKVPrefix(ctx context.Context, prefix []byte) ([][]byte, error)
}
