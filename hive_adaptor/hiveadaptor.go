// Package hive_adaptor adapts the key/value stores implemented in the
// `hive.go` repository to the cache's Storage contract. The in-memory map
// store backs `memory://`, badger backs `badger://` as the embedded disk KV.
package hive_adaptor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iotaledger/hive.go/core/kvstore"
	"github.com/iotaledger/hive.go/core/kvstore/badger"
	"github.com/iotaledger/hive.go/core/kvstore/mapdb"

	"github.com/zoocache/zoocache.go/common"
)

// KVStoreAdaptor maps a prefixed partition of a hive KVStore to common.Storage
type KVStoreAdaptor struct {
	kvs    kvstore.KVStore
	prefix []byte
}

var _ common.Storage = &KVStoreAdaptor{}

// NewKVStoreAdaptor creates a new Storage as a partition of a hive KVStore
func NewKVStoreAdaptor(kvs kvstore.KVStore, prefix []byte) *KVStoreAdaptor {
	return &KVStoreAdaptor{kvs: kvs, prefix: prefix}
}

// NewMapDB is the in-memory backend, the default and the test substrate
func NewMapDB(prefix []byte) *KVStoreAdaptor {
	return NewKVStoreAdaptor(mapdb.NewMapDB(), prefix)
}

// OpenBadger opens (creating as needed) the badger-backed disk KV at dir
func OpenBadger(dir string, prefix []byte) (*KVStoreAdaptor, error) {
	db, err := badger.CreateDB(dir)
	if err != nil {
		return nil, fmt.Errorf("hive_adaptor: open badger at %s: %w", dir, err)
	}
	return NewKVStoreAdaptor(badger.New(db), prefix), nil
}

func (s *KVStoreAdaptor) makeKey(k []byte) []byte {
	if len(s.prefix) == 0 {
		return k
	}
	return common.Concat(s.prefix, k)
}

func (s *KVStoreAdaptor) Get(key []byte) ([]byte, error) {
	v, err := s.kvs.Get(s.makeKey(key))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *KVStoreAdaptor) Has(key []byte) (bool, error) {
	return s.kvs.Has(s.makeKey(key))
}

func (s *KVStoreAdaptor) Set(key, value []byte) error {
	if err := s.kvs.Set(s.makeKey(key), value); err != nil {
		return mapFullError(err)
	}
	return nil
}

func (s *KVStoreAdaptor) Delete(key []byte) error {
	return s.kvs.Delete(s.makeKey(key))
}

func (s *KVStoreAdaptor) IterateKeys(fun func(key []byte) bool) error {
	return s.kvs.IterateKeys(s.prefix, func(key kvstore.Key) bool {
		return fun(key[len(s.prefix):])
	})
}

func (s *KVStoreAdaptor) Len() (int, error) {
	ret := 0
	err := s.kvs.IterateKeys(s.prefix, func(_ kvstore.Key) bool {
		ret++
		return true
	})
	return ret, err
}

func (s *KVStoreAdaptor) Clear() error {
	return s.kvs.DeletePrefix(s.prefix)
}

func (s *KVStoreAdaptor) Close() error {
	if err := s.kvs.Flush(); err != nil {
		return err
	}
	return s.kvs.Close()
}

// mapFullError translates backend capacity exhaustion into the typed resource
// error. Badger surfaces it as transaction/value-log size violations; the
// wording match is deliberately loose since the kvstore layer wraps them.
func mapFullError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "txn too big") ||
		strings.Contains(msg, "exceeding size") ||
		strings.Contains(msg, "exceeds size") ||
		strings.Contains(msg, "no space") {
		return fmt.Errorf("%w: %v", common.ErrStorageIsFull, err)
	}
	return err
}
