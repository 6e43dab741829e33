package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/go-utils/rpcclient"
)

const (
	GetBlockCountRPC = "getblockcount"
	GetBlockHashRPC  = "getblockhash"

	DefaultCallTimeout = 10 * time.Second

	// rpcUnknownBlock is the node error code for a block it does not have.
	rpcUnknownBlock = -100
)

// Ledger is the chain a snapshot is replayed against.
type Ledger interface {
	// Height returns the index of the latest block.
	Height(ctx context.Context) (uint32, error)
	// BlockHash returns the hash of the block at index, or ErrBlockNotFound.
	BlockHash(ctx context.Context, index uint32) (common.Hash, error)
}

// RPCCaller is the part of the JSON-RPC client the ledger uses.
type RPCCaller interface {
	Call(ctx context.Context, method string, params ...any) (*rpcclient.RPCResponse, error)
}

// RPCLedger reads the ledger from a node over JSON-RPC.
type RPCLedger struct {
	client     RPCCaller
	timeout    time.Duration
	maxRetries uint64
}

func NewRPCLedger(endpoint string) *RPCLedger {
	return NewRPCLedgerWithClient(rpcclient.NewClient(endpoint))
}

func NewRPCLedgerWithClient(client RPCCaller) *RPCLedger {
	return &RPCLedger{
		client:     client,
		timeout:    DefaultCallTimeout,
		maxRetries: 2,
	}
}

// call retries transport failures. Errors answered by the node are final.
func (l *RPCLedger) call(ctx context.Context, method string, params ...any) (*rpcclient.RPCResponse, error) {
	var resp *rpcclient.RPCResponse
	op := func() error {
		cctx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()
		r, err := l.client.Call(cctx, method, params...)
		if err != nil {
			return err
		}
		if r == nil {
			return backoff.Permanent(fmt.Errorf("%s: empty response", method))
		}
		if r.Error != nil {
			return backoff.Permanent(r.Error)
		}
		resp = r
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, l.maxRetries), ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (l *RPCLedger) Height(ctx context.Context) (uint32, error) {
	resp, err := l.call(ctx, GetBlockCountRPC)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", GetBlockCountRPC, err)
	}
	count, err := resp.GetInt()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", GetBlockCountRPC, err)
	}
	if count <= 0 {
		return 0, fmt.Errorf("%s: ledger is empty", GetBlockCountRPC)
	}
	return uint32(count - 1), nil
}

func (l *RPCLedger) BlockHash(ctx context.Context, index uint32) (common.Hash, error) {
	resp, err := l.call(ctx, GetBlockHashRPC, index)
	if err != nil {
		var rpcErr *rpcclient.RPCError
		if errors.As(err, &rpcErr) && (rpcErr.Code == rpcUnknownBlock || strings.Contains(strings.ToLower(rpcErr.Message), "unknown block")) {
			return common.Hash{}, ErrBlockNotFound
		}
		return common.Hash{}, fmt.Errorf("%s: %w", GetBlockHashRPC, err)
	}
	s, err := resp.GetString()
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: %w", GetBlockHashRPC, err)
	}
	h, err := parseHash(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: %w", GetBlockHashRPC, err)
	}
	return h, nil
}
