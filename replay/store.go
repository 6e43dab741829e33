package replay

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holisticode/exec-tracer/snapshot"
)

type storeKey struct {
	contract common.Address
	key      string
}

// MemoryStore applies verified snapshots into memory. Later blocks overwrite
// the values of earlier ones.
type MemoryStore struct {
	mu      sync.RWMutex
	values  map[storeKey][]byte
	applied map[uint32]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[storeKey][]byte),
		applied: make(map[uint32]int),
	}
}

func (s *MemoryStore) Apply(ctx context.Context, blockIndex uint32, entries []snapshot.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.values[storeKey{contract: e.ContractHash, key: string(e.Key)}] = e.Value
	}
	s.applied[blockIndex] = len(entries)
	return nil
}

func (s *MemoryStore) Get(contract common.Address, key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[storeKey{contract: contract, key: string(key)}]
	return v, ok
}

// Applied reports how many entries were applied for blockIndex.
func (s *MemoryStore) Applied(blockIndex uint32) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.applied[blockIndex]
	return n, ok
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
