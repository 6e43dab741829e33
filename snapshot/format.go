package snapshot

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

// IsBinaryFormat reports whether the file at path starts with the binary magic.
// Only the first four bytes are read. Short, unreadable and JSON files report false.
func IsBinaryFormat(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return false
	}
	return IsBinary(magic[:])
}

// IsBinary is IsBinaryFormat for data already in memory.
func IsBinary(data []byte) bool {
	return len(data) >= len(Magic) && bytes.Equal(data[:len(Magic)], []byte(Magic))
}

// Loaded is a snapshot read from disk in whichever format it was stored.
// Exactly one of Binary and Text is set.
type Loaded struct {
	Path   string
	Format Format
	Binary *File
	Text   *TextSnapshot
}

// BlockIndex returns the declared block index.
func (l *Loaded) BlockIndex() uint32 {
	if l.Binary != nil {
		return l.Binary.BlockIndex
	}
	return l.Text.Block
}

// Load reads the snapshot at path, dispatching on the format probe.
func Load(path string) (*Loaded, error) {
	binary := IsBinaryFormat(path)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if binary {
		file, err := Decode(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return &Loaded{Path: path, Format: FormatBinary, Binary: file}, nil
	}
	ts, err := ReadText(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Loaded{Path: path, Format: FormatText, Text: ts}, nil
}

// WriteFile stores f at path in the requested format. The block hash is only
// used by the text format, the binary layout has no room for it.
func WriteFile(path string, f *File, format Format, blockHash common.Hash) error {
	var buf bytes.Buffer
	switch format {
	case FormatBinary:
		if err := Encode(&buf, f); err != nil {
			return err
		}
	case FormatText:
		if err := WriteText(&buf, NewText(f, blockHash)); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown snapshot format %q", format)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}
