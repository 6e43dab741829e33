package httpserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/go-utils/rpcserver"
	"github.com/holisticode/exec-tracer/blocktrace"
	"github.com/holisticode/exec-tracer/database"
	"github.com/holisticode/exec-tracer/snapshot"
)

const (
	RPCModuleByBlock    = "trace_getBlock"
	RPCModuleByTX       = "trace_getTransaction"
	RPCModuleBySnapshot = "trace_getSnapshot"
	RPCModuleStatus     = "trace_status"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrNoStorage = errors.New("no trace storage configured")
	ErrNoTracer  = errors.New("tracer not running in this process")
)

// BlockResult is the answer to trace_getBlock.
type BlockResult struct {
	Stats        *blocktrace.BlockStats `json:"stats"`
	Transactions []common.Hash          `json:"transactions"`
}

type TraceJSONRPCServer struct {
	*http.Server
	dbService database.TraceStorage
	tracer    StatusProvider
}

func NewJSONRPCServer(cfg *HTTPServerConfig) (*http.Server, error) {
	traceServer := &TraceJSONRPCServer{
		dbService: cfg.DBService,
		tracer:    cfg.Tracer,
	}
	methods := map[string]any{
		RPCModuleByBlock:    traceServer.handleByBlock,
		RPCModuleByTX:       traceServer.handleByTx,
		RPCModuleBySnapshot: traceServer.handleSnapshot,
		RPCModuleStatus:     traceServer.handleStatus,
	}
	opts := rpcserver.JSONRPCHandlerOpts{
		Log: cfg.Log,
	}
	handler, err := rpcserver.NewJSONRPCHandler(methods, opts)
	if err != nil {
		return nil, fmt.Errorf("failed creating JSONRPCHandler: %w", err)
	}
	s := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	traceServer.Server = s
	return s, nil
}

func (s *TraceJSONRPCServer) handleByTx(ctx context.Context, txHash common.Hash) (*blocktrace.TransactionTrace, error) {
	if s.dbService == nil {
		return nil, ErrNoStorage
	}
	trace, err := s.dbService.GetTransactionTrace(ctx, txHash)
	if err != nil {
		return nil, notFound(err, "transaction %s", txHash.Hex())
	}
	return trace, nil
}

func (s *TraceJSONRPCServer) handleByBlock(ctx context.Context, index uint32) (*BlockResult, error) {
	if s.dbService == nil {
		return nil, ErrNoStorage
	}
	stats, err := s.dbService.GetBlockStats(ctx, index)
	if err != nil {
		return nil, notFound(err, "block %d", index)
	}
	txs, err := s.dbService.GetBlockTransactions(ctx, index)
	if err != nil {
		return nil, err
	}
	return &BlockResult{Stats: stats, Transactions: txs}, nil
}

// handleSnapshot answers in the JSON snapshot form whatever the stored format.
func (s *TraceJSONRPCServer) handleSnapshot(ctx context.Context, index uint32) (*snapshot.TextSnapshot, error) {
	if s.dbService == nil {
		return nil, ErrNoStorage
	}
	stored, err := s.dbService.GetSnapshot(ctx, index)
	if err != nil {
		return nil, notFound(err, "snapshot of block %d", index)
	}
	loaded, err := stored.Load()
	if err != nil {
		return nil, err
	}
	if loaded.Text != nil {
		return loaded.Text, nil
	}
	return snapshot.NewText(loaded.Binary, stored.BlockHash), nil
}

func (s *TraceJSONRPCServer) handleStatus(ctx context.Context) (*blocktrace.Status, error) {
	if s.tracer == nil {
		return nil, ErrNoTracer
	}
	status := s.tracer.Status()
	return &status, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return err
}
