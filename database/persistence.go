package database

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holisticode/exec-tracer/blocktrace"
)

// TraceStorage groups what the sink writes and the query API reads
type TraceStorage interface {
	SaveSnapshot(ctx context.Context, rec *blocktrace.SnapshotRecord, payload []byte) error
	SaveBlockStats(ctx context.Context, stats *blocktrace.BlockStats) error
	SaveTransactionTrace(ctx context.Context, trace *blocktrace.TransactionTrace) error

	LatestBlock(ctx context.Context) (uint32, error)
	GetBlockStats(ctx context.Context, index uint32) (*blocktrace.BlockStats, error)
	GetBlockTransactions(ctx context.Context, index uint32) ([]common.Hash, error)
	GetTransactionTrace(ctx context.Context, txHash common.Hash) (*blocktrace.TransactionTrace, error)
	GetSnapshot(ctx context.Context, index uint32) (*StoredSnapshot, error)
}

var _ TraceStorage = (*DatabaseService)(nil)

// NewStorage returns the service to store the data
func NewStorage(conn string, log *slog.Logger) (*DatabaseService, error) {
	return NewDatabaseService(conn, log)
}
