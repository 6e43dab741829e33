// Package snapshot encodes and decodes the storage reads captured for a block,
// either in the versioned binary layout or in the textual JSON form.
package snapshot

import (
	"github.com/ethereum/go-ethereum/common"
)

const (
	// Magic opens every binary snapshot file.
	Magic = "NSBR"
	// Version is the only binary layout version currently defined.
	Version uint16 = 1

	headerSize = 4 + 2 + 4 + 4
	// MaxKeyLength is the largest key the u16 length prefix can carry.
	MaxKeyLength = 1<<16 - 1
)

// Entry is one captured storage read as persisted.
type Entry struct {
	ContractHash common.Address
	Key          []byte
	Value        []byte
	ReadOrder    int32
}

// File is the persisted form of one block's read recorder.
type File struct {
	Version    uint16
	BlockIndex uint32
	Entries    []Entry
}

// Format names the on-disk representation of a snapshot.
type Format string

const (
	FormatBinary Format = "binary"
	FormatText   Format = "json"
)
