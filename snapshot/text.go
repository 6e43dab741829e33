package snapshot

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TextSnapshot is the JSON form of a snapshot. Keys and values are base64.
type TextSnapshot struct {
	Block    uint32    `json:"block"`
	Hash     string    `json:"hash"`
	KeyCount int32     `json:"keyCount"` //nolint:tagliatelle
	Keys     []TextKey `json:"keys"`
}

type TextKey struct {
	Contract  string `json:"contract,omitempty"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	ReadOrder int32  `json:"readOrder"` //nolint:tagliatelle
}

// NewText builds the JSON form of f, declaring blockHash as the block's hash.
func NewText(f *File, blockHash common.Hash) *TextSnapshot {
	ts := &TextSnapshot{
		Block:    f.BlockIndex,
		Hash:     blockHash.Hex(),
		KeyCount: int32(len(f.Entries)),
		Keys:     make([]TextKey, 0, len(f.Entries)),
	}
	for _, e := range f.Entries {
		ts.Keys = append(ts.Keys, TextKey{
			Contract:  e.ContractHash.Hex(),
			Key:       base64.StdEncoding.EncodeToString(e.Key),
			Value:     base64.StdEncoding.EncodeToString(e.Value),
			ReadOrder: e.ReadOrder,
		})
	}
	return ts
}

// ReadText parses the JSON form. Only the JSON structure is checked here, the
// key/value encodings are checked by Entries.
func ReadText(r io.Reader) (*TextSnapshot, error) {
	var ts TextSnapshot
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ts); err != nil {
		return nil, headerError("json", err)
	}
	if ts.KeyCount < 0 {
		return nil, headerError("key count", fmt.Errorf("%w %d", ErrNegativeCount, ts.KeyCount))
	}
	return &ts, nil
}

// WriteText writes ts as indented JSON.
func WriteText(w io.Writer, ts *TextSnapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ts)
}

// BlockHash parses the declared block hash.
func (ts *TextSnapshot) BlockHash() (common.Hash, error) {
	b, err := decodeHex(ts.Hash)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, headerError("hash", fmt.Errorf("invalid block hash %q", ts.Hash))
	}
	return common.BytesToHash(b), nil
}

// Entries decodes every key and value, failing on the first bad encoding.
func (ts *TextSnapshot) Entries() ([]Entry, error) {
	entries := make([]Entry, 0, len(ts.Keys))
	for i, k := range ts.Keys {
		key, err := base64.StdEncoding.DecodeString(k.Key)
		if err != nil {
			return nil, entryError(i, "key", err)
		}
		value, err := base64.StdEncoding.DecodeString(k.Value)
		if err != nil {
			return nil, entryError(i, "value", err)
		}
		e := Entry{Key: nilIfEmpty(key), Value: nilIfEmpty(value), ReadOrder: k.ReadOrder}
		if k.Contract != "" {
			b, err := decodeHex(k.Contract)
			if err != nil || len(b) != common.AddressLength {
				return nil, entryError(i, "contract hash", fmt.Errorf("invalid contract hash %q", k.Contract))
			}
			e.ContractHash = common.BytesToAddress(b)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// nilIfEmpty keeps empty fields equal to what the binary decoder returns.
func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}
