package blocktrace

import (
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultMethodCacheSize = 1024

type methodTable struct {
	updateCounter uint16
	byOffset      map[int]string
}

// MethodCache maps instruction offsets to method names per contract. An entry
// is rebuilt when the contract's update counter moves.
type MethodCache struct {
	tables *lru.Cache[common.Address, *methodTable]
}

func NewMethodCache(size int) (*MethodCache, error) {
	if size <= 0 {
		size = DefaultMethodCacheSize
	}
	tables, err := lru.New[common.Address, *methodTable](size)
	if err != nil {
		return nil, err
	}
	return &MethodCache{tables: tables}, nil
}

// Resolve returns the method of info whose entry point is offset.
func (c *MethodCache) Resolve(info *ContractInfo, offset int) (string, bool) {
	if info == nil {
		return "", false
	}
	t, ok := c.tables.Get(info.Hash)
	if !ok || t.updateCounter != info.UpdateCounter {
		t = &methodTable{
			updateCounter: info.UpdateCounter,
			byOffset:      make(map[int]string, len(info.Methods)),
		}
		for _, m := range info.Methods {
			// overloads share an offset only if they are the same method
			if _, dup := t.byOffset[m.Offset]; !dup {
				t.byOffset[m.Offset] = m.Name
			}
		}
		c.tables.Add(info.Hash, t)
	}
	name, ok := t.byOffset[offset]
	return name, ok
}

func (c *MethodCache) Len() int {
	return c.tables.Len()
}
