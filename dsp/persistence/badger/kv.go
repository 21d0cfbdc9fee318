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

	"github.com/dgraph-io/badger/v4"

	"github.com/openterms/converge/dsp/persistence"
)

// The raw KV interface shares the database with the record savers. The
// prefix keeps management entries out of the savers' key spaces.
var kvPrefix = []byte("mgmt-")

func kvKey(key []byte) []byte {
	return append(append([]byte{}, kvPrefix...), key...)
}

// GetKV retrieves the value stored under a key.
func (sp *StorageProvider) GetKV(ctx context.Context, key []byte) ([]byte, error) {
	b, err := get(sp.db, kvKey(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, persistence.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// PutKV stores a key/value pair.
func (sp *StorageProvider) PutKV(ctx context.Context, key, value []byte) error {
	return put(sp.db, kvKey(key), value)
}

// DelKV deletes a key.
func (sp *StorageProvider) DelKV(ctx context.Context, key []byte) error {
	return sp.db.Update(func(txn *badger.Txn) error {
		fullKey := kvKey(key)
		if _, err := txn.Get(fullKey); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return persistence.ErrNotFound
			}
			return err
		}
		return txn.Delete(fullKey)
	})
}

// GetKVPrefix returns all values under a prefix in key order.
func (sp *StorageProvider) GetKVPrefix(ctx context.Context, prefix []byte) ([][]byte, error) {
	return getAll(sp.db, kvKey(prefix))
}
