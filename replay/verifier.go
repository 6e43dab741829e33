// Package replay checks a persisted state snapshot against a live ledger and,
// only when every check passes, applies it.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holisticode/exec-tracer/snapshot"
)

// State is a step of a replay run.
type State int

const (
	StateLoaded State = iota
	StateHeightChecked
	StateHashChecked
	StateKeyCountChecked
	StateApplied
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateHeightChecked:
		return "height-checked"
	case StateHashChecked:
		return "hash-checked"
	case StateKeyCountChecked:
		return "key-count-checked"
	case StateApplied:
		return "applied"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Applier consumes a snapshot that passed every check.
type Applier interface {
	Apply(ctx context.Context, blockIndex uint32, entries []snapshot.Entry) error
}

// Result describes a replay run. Path is empty when the snapshot was not read from a file.
type Result struct {
	Path        string
	Format      snapshot.Format
	BlockIndex  uint32
	BlockHash   common.Hash
	Entries     int
	State       State
	Transitions []State
}

type Verifier struct {
	ledger  Ledger
	applier Applier
	log     *slog.Logger
}

func NewVerifier(ledger Ledger, applier Applier, log *slog.Logger) *Verifier {
	return &Verifier{
		ledger:  ledger,
		applier: applier,
		log:     log,
	}
}

// VerifyFile loads the snapshot at path, binary or text, and verifies it.
// Structural decode failures are returned as they are, as *snapshot.DecodeError
// for binary input.
func (v *Verifier) VerifyFile(ctx context.Context, path string, height *uint32) (*Result, error) {
	loaded, err := snapshot.Load(path)
	if err != nil {
		return nil, err
	}
	return v.Verify(ctx, loaded, height)
}

type run struct {
	res *Result
	log *slog.Logger
}

func (r *run) advance(to State) {
	r.log.Debug("replay state", "block", r.res.BlockIndex, "from", r.res.State, "to", to)
	r.res.State = to
	r.res.Transitions = append(r.res.Transitions, to)
}

func (r *run) reject(err *ValidationError) (*Result, error) {
	r.advance(StateRejected)
	r.log.Warn("snapshot rejected", "block", err.Block, "check", err.Check, "err", err)
	return r.res, err
}

// Verify runs the checks in order: explicit height, block presence and hash,
// declared key count, entry encoding. The applier is called only after all
// of them pass. A nil height skips the first check.
func (v *Verifier) Verify(ctx context.Context, snap *snapshot.Loaded, height *uint32) (*Result, error) {
	if snap == nil || (snap.Binary == nil && snap.Text == nil) {
		return nil, errors.New("empty snapshot")
	}
	index := snap.BlockIndex()
	r := &run{
		res: &Result{
			Path:        snap.Path,
			Format:      snap.Format,
			BlockIndex:  index,
			State:       StateLoaded,
			Transitions: []State{StateLoaded},
		},
		log: v.log,
	}

	if height != nil && *height != index {
		return r.reject(&ValidationError{
			Check:    CheckHeight,
			Block:    index,
			Expected: strconv.FormatUint(uint64(*height), 10),
			Actual:   strconv.FormatUint(uint64(index), 10),
		})
	}
	r.advance(StateHeightChecked)

	tip, err := v.ledger.Height(ctx)
	if err != nil {
		return r.res, fmt.Errorf("ledger height: %w", err)
	}
	if index > tip {
		return r.reject(&ValidationError{
			Check:    CheckMissingBlock,
			Block:    index,
			Expected: fmt.Sprintf("height >= %d", index),
			Actual:   strconv.FormatUint(uint64(tip), 10),
		})
	}
	ledgerHash, err := v.ledger.BlockHash(ctx, index)
	if errors.Is(err, ErrBlockNotFound) {
		return r.reject(&ValidationError{Check: CheckMissingBlock, Block: index, Err: err})
	}
	if err != nil {
		return r.res, fmt.Errorf("ledger block hash: %w", err)
	}
	r.res.BlockHash = ledgerHash

	// binary snapshots carry no hash, the presence check above is all there is
	if snap.Text != nil {
		declared, err := snap.Text.BlockHash()
		if err != nil {
			return r.reject(&ValidationError{Check: CheckHash, Block: index, Actual: snap.Text.Hash, Err: err})
		}
		if declared != ledgerHash {
			return r.reject(&ValidationError{
				Check:    CheckHash,
				Block:    index,
				Expected: ledgerHash.Hex(),
				Actual:   declared.Hex(),
			})
		}
	}
	r.advance(StateHashChecked)

	var entries []snapshot.Entry
	if snap.Text != nil {
		if int(snap.Text.KeyCount) != len(snap.Text.Keys) {
			return r.reject(&ValidationError{
				Check:    CheckKeyCount,
				Block:    index,
				Expected: strconv.Itoa(int(snap.Text.KeyCount)),
				Actual:   strconv.Itoa(len(snap.Text.Keys)),
				Err:      snapshot.ErrCountMismatch,
			})
		}
		entries, err = snap.Text.Entries()
		if err != nil {
			r.advance(StateKeyCountChecked)
			return r.reject(&ValidationError{Check: CheckEncoding, Block: index, Err: err})
		}
	} else {
		entries = snap.Binary.Entries
	}
	r.advance(StateKeyCountChecked)
	r.res.Entries = len(entries)

	if v.applier != nil {
		if err := v.applier.Apply(ctx, index, entries); err != nil {
			return r.res, fmt.Errorf("apply block %d: %w", index, err)
		}
	}
	r.advance(StateApplied)
	v.log.Info("snapshot verified", "block", index, "hash", ledgerHash, "entries", len(entries), "format", snap.Format)
	return r.res, nil
}

// parseHash accepts a 32-byte hash with or without the 0x prefix.
func parseHash(s string) (common.Hash, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("hash has %d bytes, want %d", len(b), common.HashLength)
	}
	return common.BytesToHash(b), nil
}
