// Package database exposes the postgres database
package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holisticode/exec-tracer/blocktrace"
	"github.com/holisticode/exec-tracer/database/migrations"
	"github.com/holisticode/exec-tracer/database/vars"
	"github.com/holisticode/exec-tracer/snapshot"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
)

type DatabaseService struct {
	DB  *sqlx.DB
	log *slog.Logger

	nstmtInsertSnapshot   *sqlx.NamedStmt
	nstmtInsertBlockStats *sqlx.NamedStmt
	nstmtInsertTxTrace    *sqlx.NamedStmt
}

func NewDatabaseService(dsn string, log *slog.Logger) (*DatabaseService, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(0)

	if os.Getenv("DB_DONT_APPLY_SCHEMA") == "" {
		migrate.SetTable(vars.TableMigrations)
		_, err := migrate.Exec(db.DB, "postgres", migrations.Migrations, migrate.Up)
		if err != nil {
			return nil, err
		}
	}

	dbService := &DatabaseService{DB: db, log: log} //nolint:exhaustruct
	err = dbService.prepareNamedQueries()
	return dbService, err
}

func (s *DatabaseService) prepareNamedQueries() (err error) {
	// redelivered items overwrite what an earlier attempt stored
	query := `INSERT INTO ` + vars.TableStateSnapshots + `
		(block_index, block_hash, block_time, format, entry_count, dropped_reads, payload) VALUES
		(:block_index, :block_hash, :block_time, :format, :entry_count, :dropped_reads, :payload)
		ON CONFLICT (block_index) DO UPDATE SET
			block_hash = EXCLUDED.block_hash,
			block_time = EXCLUDED.block_time,
			format = EXCLUDED.format,
			entry_count = EXCLUDED.entry_count,
			dropped_reads = EXCLUDED.dropped_reads,
			payload = EXCLUDED.payload`
	s.nstmtInsertSnapshot, err = s.DB.PrepareNamed(query)
	if err != nil {
		return err
	}

	query = `INSERT INTO ` + vars.TableBlockStats + `
		(block_index, block_hash, block_time, tx_count, total_gas, opcode_count, syscall_count, call_count, write_count, notification_count, failed_call_count, dropped_reads) VALUES
		(:block_index, :block_hash, :block_time, :tx_count, :total_gas, :opcode_count, :syscall_count, :call_count, :write_count, :notification_count, :failed_call_count, :dropped_reads)
		ON CONFLICT (block_index) DO UPDATE SET
			block_hash = EXCLUDED.block_hash,
			block_time = EXCLUDED.block_time,
			tx_count = EXCLUDED.tx_count,
			total_gas = EXCLUDED.total_gas,
			opcode_count = EXCLUDED.opcode_count,
			syscall_count = EXCLUDED.syscall_count,
			call_count = EXCLUDED.call_count,
			write_count = EXCLUDED.write_count,
			notification_count = EXCLUDED.notification_count,
			failed_call_count = EXCLUDED.failed_call_count,
			dropped_reads = EXCLUDED.dropped_reads`
	s.nstmtInsertBlockStats, err = s.DB.PrepareNamed(query)
	if err != nil {
		return err
	}

	query = `INSERT INTO ` + vars.TableTxTraces + `
		(block_index, tx_hash, total_gas, opcode_count, call_count, write_count, notification_count, trace) VALUES
		(:block_index, :tx_hash, :total_gas, :opcode_count, :call_count, :write_count, :notification_count, :trace)
		ON CONFLICT (tx_hash) DO UPDATE SET
			block_index = EXCLUDED.block_index,
			total_gas = EXCLUDED.total_gas,
			opcode_count = EXCLUDED.opcode_count,
			call_count = EXCLUDED.call_count,
			write_count = EXCLUDED.write_count,
			notification_count = EXCLUDED.notification_count,
			trace = EXCLUDED.trace`
	s.nstmtInsertTxTrace, err = s.DB.PrepareNamed(query)
	return err
}

func (s *DatabaseService) Close() error {
	return s.DB.Close()
}

// SaveSnapshot stores an encoded snapshot. The payload is compressed on the way in.
func (s *DatabaseService) SaveSnapshot(ctx context.Context, rec *blocktrace.SnapshotRecord, payload []byte) error {
	entry := SnapshotEntry{
		BlockIndex:   int64(rec.BlockIndex),
		BlockHash:    NewNullHash(rec.BlockHash),
		BlockTime:    int64(rec.Timestamp),
		Format:       string(rec.Format),
		EntryCount:   rec.EntryCount,
		DroppedReads: int64(rec.DroppedReads),
		Payload:      snapshot.Compress(payload),
	}
	if _, err := s.nstmtInsertSnapshot.ExecContext(ctx, entry); err != nil {
		return fmt.Errorf("failed to save snapshot of block %d: %w", rec.BlockIndex, err)
	}
	return nil
}

func (s *DatabaseService) SaveBlockStats(ctx context.Context, stats *blocktrace.BlockStats) error {
	entry := BlockStatsEntry{
		BlockIndex:        int64(stats.BlockIndex),
		BlockHash:         NewNullHash(stats.BlockHash),
		BlockTime:         int64(stats.Timestamp),
		TxCount:           stats.TransactionCount,
		TotalGas:          stats.TotalGasConsumed,
		OpCodeCount:       stats.OpCodeCount,
		SyscallCount:      stats.SyscallCount,
		CallCount:         stats.ContractCallCount,
		WriteCount:        stats.StorageWriteCount,
		NotificationCount: stats.NotificationCount,
		FailedCallCount:   stats.FailedCallCount,
		DroppedReads:      int64(stats.DroppedReads),
	}
	if _, err := s.nstmtInsertBlockStats.ExecContext(ctx, entry); err != nil {
		return fmt.Errorf("failed to save stats of block %d: %w", stats.BlockIndex, err)
	}
	return nil
}

// SaveTransactionTrace stores the full trace as compressed JSON next to its summary columns.
func (s *DatabaseService) SaveTransactionTrace(ctx context.Context, trace *blocktrace.TransactionTrace) error {
	data, err := encodeTrace(trace)
	if err != nil {
		return fmt.Errorf("failed to encode trace %s: %w", trace.TxHash, err)
	}
	entry := TxTraceEntry{
		BlockIndex:        int64(trace.BlockIndex),
		TxHash:            trace.TxHash.Hex(),
		TotalGas:          trace.Stats.TotalGasConsumed,
		OpCodeCount:       trace.Stats.OpCodeCount,
		CallCount:         trace.Stats.ContractCallCount,
		WriteCount:        trace.Stats.StorageWriteCount,
		NotificationCount: trace.Stats.NotificationCount,
		Trace:             data,
	}
	if _, err := s.nstmtInsertTxTrace.ExecContext(ctx, entry); err != nil {
		return fmt.Errorf("failed to save trace %s: %w", trace.TxHash, err)
	}
	return nil
}

// LatestBlock returns the highest block with stored stats, or sql.ErrNoRows.
func (s *DatabaseService) LatestBlock(ctx context.Context) (uint32, error) {
	var latest int64
	query := `SELECT block_index FROM ` + vars.TableBlockStats + ` ORDER BY block_index DESC LIMIT 1`
	if err := s.DB.GetContext(ctx, &latest, query); err != nil {
		return 0, err
	}
	return uint32(latest), nil
}

func (s *DatabaseService) GetBlockStats(ctx context.Context, index uint32) (*blocktrace.BlockStats, error) {
	var entry BlockStatsEntry
	query := `SELECT * FROM ` + vars.TableBlockStats + ` WHERE block_index = $1`
	if err := s.DB.GetContext(ctx, &entry, query, int64(index)); err != nil {
		return nil, err
	}
	return &blocktrace.BlockStats{
		BlockIndex:        uint32(entry.BlockIndex),
		BlockHash:         hashFromNull(entry.BlockHash),
		Timestamp:         uint64(entry.BlockTime),
		TransactionCount:  entry.TxCount,
		TotalGasConsumed:  entry.TotalGas,
		OpCodeCount:       entry.OpCodeCount,
		SyscallCount:      entry.SyscallCount,
		ContractCallCount: entry.CallCount,
		StorageWriteCount: entry.WriteCount,
		NotificationCount: entry.NotificationCount,
		FailedCallCount:   entry.FailedCallCount,
		DroppedReads:      uint64(entry.DroppedReads),
	}, nil
}

func (s *DatabaseService) GetTransactionTrace(ctx context.Context, txHash common.Hash) (*blocktrace.TransactionTrace, error) {
	var entry TxTraceEntry
	query := `SELECT * FROM ` + vars.TableTxTraces + ` WHERE tx_hash = $1`
	if err := s.DB.GetContext(ctx, &entry, query, txHash.Hex()); err != nil {
		return nil, err
	}
	trace, err := decodeTrace(entry.Trace)
	if err != nil {
		return nil, fmt.Errorf("corrupt trace %s: %w", entry.TxHash, err)
	}
	return trace, nil
}

// GetBlockTransactions lists the hashes of the traced transactions of a block.
func (s *DatabaseService) GetBlockTransactions(ctx context.Context, index uint32) ([]common.Hash, error) {
	var hashes []string
	query := `SELECT tx_hash FROM ` + vars.TableTxTraces + ` WHERE block_index = $1 ORDER BY id`
	if err := s.DB.SelectContext(ctx, &hashes, query, int64(index)); err != nil {
		return nil, err
	}
	out := make([]common.Hash, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, common.HexToHash(h))
	}
	return out, nil
}

func (s *DatabaseService) GetSnapshot(ctx context.Context, index uint32) (*StoredSnapshot, error) {
	var entry SnapshotEntry
	query := `SELECT * FROM ` + vars.TableStateSnapshots + ` WHERE block_index = $1`
	if err := s.DB.GetContext(ctx, &entry, query, int64(index)); err != nil {
		return nil, err
	}
	payload, err := snapshot.Decompress(entry.Payload)
	if err != nil {
		return nil, fmt.Errorf("corrupt snapshot of block %d: %w", index, err)
	}
	return &StoredSnapshot{
		SnapshotRecord: blocktrace.SnapshotRecord{
			BlockIndex:   uint32(entry.BlockIndex),
			BlockHash:    hashFromNull(entry.BlockHash),
			Timestamp:    uint64(entry.BlockTime),
			Format:       snapshot.Format(entry.Format),
			EntryCount:   entry.EntryCount,
			DroppedReads: uint64(entry.DroppedReads),
		},
		InsertedAt: entry.InsertedAt,
		Payload:    payload,
	}, nil
}
