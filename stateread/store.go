package stateread

import (
	"github.com/ethereum/go-ethereum/common"
)

// Store is the snapshot-style key/value view the engine reads contract storage from.
type Store interface {
	Get(contractID int32, key []byte) ([]byte, bool)
}

// HashResolver maps a contract id to its script hash. Resolvers usually read
// contract metadata from storage themselves.
type HashResolver func(contractID int32) (common.Address, bool)

// TrackedStore records every successful Get on the wrapped store.
type TrackedStore struct {
	inner   Store
	scope   *Scope
	resolve HashResolver
	source  Source
}

func NewTrackedStore(inner Store, scope *Scope, resolve HashResolver, source Source) *TrackedStore {
	return &TrackedStore{
		inner:   inner,
		scope:   scope,
		resolve: resolve,
		source:  source,
	}
}

func (s *TrackedStore) Get(contractID int32, key []byte) ([]byte, bool) {
	value, ok := s.inner.Get(contractID, key)
	if !ok || !s.scope.IsRecording() {
		return value, ok
	}

	var hash common.Address
	if s.resolve != nil {
		g := s.scope.Suppress()
		hash, _ = s.resolve(contractID)
		g.Release()
	}
	s.scope.Record(contractID, hash, key, value, s.source)
	return value, ok
}
