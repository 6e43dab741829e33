// Package stateread captures every raw storage read performed while a block is
// processed, independently of the per-transaction execution traces.
package stateread

import (
	"github.com/ethereum/go-ethereum/common"
)

// Header identifies the block a recorder belongs to.
type Header struct {
	Index     uint32
	Hash      common.Hash
	Timestamp uint64
}

// Source names the engine path that performed a read.
type Source string

const (
	SourceStorageGet  Source = "Storage.Get"
	SourceStorageFind Source = "Storage.Find"
	SourceNative      Source = "Native"
	SourceOnPersist   Source = "OnPersist"
	SourcePostPersist Source = "PostPersist"
)

// ReadEntry is one observed storage read.
type ReadEntry struct {
	ContractID   int32          `json:"contractId"`
	ContractHash common.Address `json:"contractHash"`
	Key          []byte         `json:"key"`
	Value        []byte         `json:"value"`
	TxHash       *common.Hash   `json:"txHash,omitempty"`
	Source       Source         `json:"source"`
	ReadOrder    int32          `json:"readOrder"`
}
