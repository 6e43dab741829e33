package snapshot

import (
	"fmt"

	"github.com/golang/snappy"
)

// Compress snappy-encodes a payload for storage. Snapshot payloads and stored
// transaction traces both go through it.
func Compress(data []byte) []byte {
	return snappy.Encode(nil, data)
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snapshot decompress: %w", err)
	}
	return out, nil
}
