package snapshot

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var byteOrder = binary.LittleEndian

// Encode writes f in the binary layout:
//
//	magic "NSBR" | version u16 | blockIndex u32 | entryCount i32 | entry*
//	entry: contractHash [20] | keyLen u16 | key | valueLen i32 | value | readOrder i32
func Encode(w io.Writer, f *File) error {
	version := f.Version
	if version == 0 {
		version = Version
	}
	if version != Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	bw := bufio.NewWriter(w)
	var hdr [headerSize]byte
	copy(hdr[:4], Magic)
	byteOrder.PutUint16(hdr[4:6], version)
	byteOrder.PutUint32(hdr[6:10], f.BlockIndex)
	byteOrder.PutUint32(hdr[10:14], uint32(int32(len(f.Entries))))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}

	var buf [4]byte
	for i, e := range f.Entries {
		if len(e.Key) > MaxKeyLength {
			return fmt.Errorf("entry %d: %w (%d bytes)", i, ErrKeyTooLong, len(e.Key))
		}
		if _, err := bw.Write(e.ContractHash[:]); err != nil {
			return err
		}
		byteOrder.PutUint16(buf[:2], uint16(len(e.Key)))
		if _, err := bw.Write(buf[:2]); err != nil {
			return err
		}
		if _, err := bw.Write(e.Key); err != nil {
			return err
		}
		byteOrder.PutUint32(buf[:], uint32(int32(len(e.Value))))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
		if _, err := bw.Write(e.Value); err != nil {
			return err
		}
		byteOrder.PutUint32(buf[:], uint32(e.ReadOrder))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Marshal returns the binary encoding of f.
func Marshal(f *File) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(encodedSize(f))
	if err := Encode(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodedSize(f *File) int {
	n := headerSize
	for _, e := range f.Entries {
		n += 20 + 2 + len(e.Key) + 4 + len(e.Value) + 4
	}
	return n
}

// Decode reads one binary snapshot from r. Any structural problem returns a
// *DecodeError and no partially decoded file.
func Decode(r io.Reader) (*File, error) {
	d := decoder{r: bufio.NewReader(r)}

	var hdr [headerSize]byte
	if err := d.read(hdr[:4]); err != nil {
		return nil, headerError("magic", err)
	}
	if string(hdr[:4]) != Magic {
		return nil, headerError("magic", fmt.Errorf("%w %q", ErrBadMagic, hdr[:4]))
	}
	if err := d.read(hdr[4:]); err != nil {
		return nil, headerError("header", err)
	}
	version := byteOrder.Uint16(hdr[4:6])
	if version != Version {
		return nil, headerError("version", fmt.Errorf("%w %d", ErrUnsupportedVersion, version))
	}
	blockIndex := byteOrder.Uint32(hdr[6:10])
	count := int32(byteOrder.Uint32(hdr[10:14]))
	if count < 0 {
		return nil, headerError("entry count", fmt.Errorf("%w %d", ErrNegativeCount, count))
	}

	f := &File{
		Version:    version,
		BlockIndex: blockIndex,
	}
	// the declared count is untrusted, don't let it size the allocation
	f.Entries = make([]Entry, 0, min(int(count), 1024))
	for i := 0; i < int(count); i++ {
		e, err := d.entry(i)
		if err != nil {
			return nil, err
		}
		f.Entries = append(f.Entries, e)
	}
	if _, err := d.r.ReadByte(); err == nil {
		return nil, headerError("trailer", ErrTrailingData)
	} else if !errors.Is(err, io.EOF) {
		return nil, headerError("trailer", err)
	}
	return f, nil
}

// Unmarshal decodes a binary snapshot held in memory.
func Unmarshal(data []byte) (*File, error) {
	return Decode(bytes.NewReader(data))
}

type decoder struct {
	r   *bufio.Reader
	buf [4]byte
}

func (d *decoder) read(p []byte) error {
	if _, err := io.ReadFull(d.r, p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: wanted %d bytes", ErrTruncated, len(p))
		}
		return err
	}
	return nil
}

// bytes reads exactly n bytes into a fresh slice, nil for n == 0. The slice
// grows in chunks so a corrupt length can't force a huge allocation before the
// stream runs out.
func (d *decoder) bytes(n int) ([]byte, error) {
	const chunk = 64 << 10
	if n == 0 {
		return nil, nil
	}
	if n <= chunk {
		out := make([]byte, n)
		return out, d.read(out)
	}
	out := make([]byte, 0, chunk)
	for len(out) < n {
		step := min(chunk, n-len(out))
		start := len(out)
		out = append(out, make([]byte, step)...)
		if err := d.read(out[start:]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *decoder) entry(i int) (Entry, error) {
	var e Entry
	if err := d.read(e.ContractHash[:]); err != nil {
		return Entry{}, entryError(i, "contract hash", err)
	}

	if err := d.read(d.buf[:2]); err != nil {
		return Entry{}, entryError(i, "key length", err)
	}
	key, err := d.bytes(int(byteOrder.Uint16(d.buf[:2])))
	if err != nil {
		return Entry{}, entryError(i, "key", err)
	}
	e.Key = key

	if err := d.read(d.buf[:]); err != nil {
		return Entry{}, entryError(i, "value length", err)
	}
	valueLen := int32(byteOrder.Uint32(d.buf[:]))
	if valueLen < 0 {
		return Entry{}, entryError(i, "value length", fmt.Errorf("%w %d", ErrNegativeCount, valueLen))
	}
	value, err := d.bytes(int(valueLen))
	if err != nil {
		return Entry{}, entryError(i, "value", err)
	}
	e.Value = value

	if err := d.read(d.buf[:]); err != nil {
		return Entry{}, entryError(i, "read order", err)
	}
	e.ReadOrder = int32(byteOrder.Uint32(d.buf[:]))
	return e, nil
}
