package stateread

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/atomic"
)

// Recorder holds the reads of one block, ordered by ReadOrder. It is shared by
// all transactions of the block, so appends are serialized.
type Recorder struct {
	header     Header
	maxEntries int

	mu      sync.Mutex
	entries []ReadEntry
	sealed  bool

	dropped *atomic.Uint64
	// enabled is the provider's switch, nil for an always-on recorder
	enabled *atomic.Bool
}

func newRecorder(header Header, maxEntries int, enabled *atomic.Bool) *Recorder {
	return &Recorder{
		header:     header,
		maxEntries: maxEntries,
		enabled:    enabled,
		entries:    make([]ReadEntry, 0, min(maxEntries, 4096)),
		dropped:    atomic.NewUint64(0),
	}
}

func (r *Recorder) isEnabled() bool {
	return r.enabled == nil || r.enabled.Load()
}

func (r *Recorder) Header() Header {
	return r.header
}

// NewScope returns the handle one call chain uses to record reads. txHash may
// be nil for reads outside of a transaction.
func (r *Recorder) NewScope(txHash *common.Hash) *Scope {
	return &Scope{recorder: r, txHash: txHash}
}

// append stores e and assigns its ReadOrder. It reports false when the entry was
// not stored because the recorder is full or already drained.
func (r *Recorder) append(e ReadEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return false
	}
	if r.maxEntries > 0 && len(r.entries) >= r.maxEntries {
		r.dropped.Inc()
		return false
	}
	e.ReadOrder = int32(len(r.entries))
	r.entries = append(r.entries, e)
	return true
}

// Len returns the number of stored reads.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Dropped returns the number of reads discarded because the cap was reached.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Entries returns a copy of the stored reads in ReadOrder.
func (r *Recorder) Entries() []ReadEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ReadEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Recorder) seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether the recorder was drained.
func (r *Recorder) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}
