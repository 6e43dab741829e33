package database

import (
	"bytes"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holisticode/exec-tracer/blocktrace"
	"github.com/holisticode/exec-tracer/snapshot"
)

type SnapshotEntry struct {
	ID           int64          `db:"id"`
	InsertedAt   time.Time      `db:"inserted_at"`
	BlockIndex   int64          `db:"block_index"`
	BlockHash    sql.NullString `db:"block_hash"`
	BlockTime    int64          `db:"block_time"`
	Format       string         `db:"format"`
	EntryCount   int            `db:"entry_count"`
	DroppedReads int64          `db:"dropped_reads"`
	Payload      []byte         `db:"payload"`
}

type BlockStatsEntry struct {
	ID                int64          `db:"id"`
	InsertedAt        time.Time      `db:"inserted_at"`
	BlockIndex        int64          `db:"block_index"`
	BlockHash         sql.NullString `db:"block_hash"`
	BlockTime         int64          `db:"block_time"`
	TxCount           int            `db:"tx_count"`
	TotalGas          int64          `db:"total_gas"`
	OpCodeCount       int            `db:"opcode_count"`
	SyscallCount      int            `db:"syscall_count"`
	CallCount         int            `db:"call_count"`
	WriteCount        int            `db:"write_count"`
	NotificationCount int            `db:"notification_count"`
	FailedCallCount   int            `db:"failed_call_count"`
	DroppedReads      int64          `db:"dropped_reads"`
}

type TxTraceEntry struct {
	ID                int64     `db:"id"`
	InsertedAt        time.Time `db:"inserted_at"`
	BlockIndex        int64     `db:"block_index"`
	TxHash            string    `db:"tx_hash"`
	TotalGas          int64     `db:"total_gas"`
	OpCodeCount       int       `db:"opcode_count"`
	CallCount         int       `db:"call_count"`
	WriteCount        int       `db:"write_count"`
	NotificationCount int       `db:"notification_count"`
	Trace             []byte    `db:"trace"`
}

// StoredSnapshot is a persisted state snapshot with its payload decompressed.
type StoredSnapshot struct {
	blocktrace.SnapshotRecord
	InsertedAt time.Time `json:"insertedAt"` //nolint:tagliatelle
	Payload    []byte    `json:"-"`
}

// Load parses the payload in its stored format.
func (s *StoredSnapshot) Load() (*snapshot.Loaded, error) {
	switch s.Format {
	case snapshot.FormatBinary:
		f, err := snapshot.Unmarshal(s.Payload)
		if err != nil {
			return nil, err
		}
		return &snapshot.Loaded{Format: snapshot.FormatBinary, Binary: f}, nil
	case snapshot.FormatText:
		ts, err := snapshot.ReadText(bytes.NewReader(s.Payload))
		if err != nil {
			return nil, err
		}
		return &snapshot.Loaded{Format: snapshot.FormatText, Text: ts}, nil
	default:
		return nil, fmt.Errorf("unknown snapshot format %q", s.Format)
	}
}

// NewNullHash returns an invalid NullString for the zero hash.
func NewNullHash(h common.Hash) sql.NullString {
	return sql.NullString{
		String: h.Hex(),
		Valid:  h != common.Hash{},
	}
}

func hashFromNull(s sql.NullString) common.Hash {
	if !s.Valid {
		return common.Hash{}
	}
	return common.HexToHash(s.String)
}
