package blocktrace

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holisticode/exec-tracer/stateread"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/atomic"
)

// BlockRecorderSet holds the transaction recorders of one block.
type BlockRecorderSet struct {
	Header stateread.Header

	enabled *atomic.Bool
	seq     *atomic.Uint64
	txs     *xsync.MapOf[common.Hash, *TransactionRecorder]
}

func newBlockRecorderSet(header stateread.Header, enabled *atomic.Bool) *BlockRecorderSet {
	return &BlockRecorderSet{
		Header:  header,
		enabled: enabled,
		seq:     atomic.NewUint64(0),
		txs:     xsync.NewMapOf[common.Hash, *TransactionRecorder](),
	}
}

// GetOrCreate returns the recorder of txHash, creating it on first touch.
func (s *BlockRecorderSet) GetOrCreate(txHash common.Hash) *TransactionRecorder {
	if rec, ok := s.txs.Load(txHash); ok {
		return rec
	}
	rec := newSharedTransactionRecorder(s.Header.Index, txHash, s.enabled)
	rec.position = s.seq.Inc()
	actual, _ := s.txs.LoadOrStore(txHash, rec)
	return actual
}

func (s *BlockRecorderSet) Get(txHash common.Hash) (*TransactionRecorder, bool) {
	return s.txs.Load(txHash)
}

func (s *BlockRecorderSet) Len() int {
	return s.txs.Size()
}

// Recorders returns the transaction recorders in the order they were first touched.
func (s *BlockRecorderSet) Recorders() []*TransactionRecorder {
	out := make([]*TransactionRecorder, 0, s.txs.Size())
	s.txs.Range(func(_ common.Hash, rec *TransactionRecorder) bool {
		out = append(out, rec)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].position < out[j].position })
	return out
}

func (s *BlockRecorderSet) Stats() BlockStats {
	st := BlockStats{
		BlockIndex: s.Header.Index,
		BlockHash:  s.Header.Hash,
		Timestamp:  s.Header.Timestamp,
	}
	for _, rec := range s.Recorders() {
		ts := rec.Stats()
		st.TransactionCount++
		st.TotalGasConsumed += ts.TotalGasConsumed
		st.OpCodeCount += ts.OpCodeCount
		st.SyscallCount += ts.SyscallCount
		st.ContractCallCount += ts.ContractCallCount
		st.StorageWriteCount += ts.StorageWriteCount
		st.NotificationCount += ts.NotificationCount
		st.FailedCallCount += ts.FailedCallCount
	}
	return st
}

// Registry maps block indexes to their recorder sets.
type Registry struct {
	blocks *xsync.MapOf[uint32, *BlockRecorderSet]
}

func NewRegistry() *Registry {
	return &Registry{blocks: xsync.NewMapOf[uint32, *BlockRecorderSet]()}
}

// Begin creates the set for header.Index. Its recorders stop recording while
// enabled is false. started is false when a set for that index already
// existed, in which case the existing one is returned.
func (r *Registry) Begin(header stateread.Header, enabled *atomic.Bool) (set *BlockRecorderSet, started bool) {
	if set, ok := r.blocks.Load(header.Index); ok {
		return set, false
	}
	set, loaded := r.blocks.LoadOrStore(header.Index, newBlockRecorderSet(header, enabled))
	return set, !loaded
}

func (r *Registry) Get(index uint32) (*BlockRecorderSet, bool) {
	return r.blocks.Load(index)
}

// Drain removes and returns the set of index. Only one caller ever gets it.
func (r *Registry) Drain(index uint32) (*BlockRecorderSet, bool) {
	return r.blocks.LoadAndDelete(index)
}

func (r *Registry) Len() int {
	return r.blocks.Size()
}
