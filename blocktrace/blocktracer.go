package blocktrace

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holisticode/exec-tracer/metrics"
	"github.com/holisticode/exec-tracer/snapshot"
	"github.com/holisticode/exec-tracer/stateread"
	"github.com/holisticode/exec-tracer/uploader"
	"go.uber.org/atomic"
)

type Config struct {
	Enabled bool
	// MaxReadEntries caps the state reads kept per block, 0 means unbounded.
	MaxReadEntries  int
	SnapshotFormat  snapshot.Format
	MethodCacheSize int
}

// Status is the operational view of the tracer.
type Status struct {
	Enabled        bool           `json:"enabled"`
	SnapshotFormat string         `json:"snapshotFormat"` //nolint:tagliatelle
	MaxReadEntries int            `json:"maxReadEntries"` //nolint:tagliatelle
	ActiveBlocks   int            `json:"activeBlocks"`   //nolint:tagliatelle
	ActiveReads    int            `json:"activeReads"`    //nolint:tagliatelle
	Queue          uploader.Stats `json:"queue"`
}

// CommitSummary reports what OnCommit handed to the queue.
type CommitSummary struct {
	BlockIndex     uint32
	Transactions   int
	ReadEntries    int
	DroppedReads   uint64
	Enqueued       int
	DroppedOnQueue int
}

// Tracer owns the per block registries and hands finished blocks to the queue.
type Tracer struct {
	cfg     Config
	enabled *atomic.Bool
	blocks  *Registry
	reads   *stateread.Provider
	methods *MethodCache
	queue   *uploader.Queue
	log     *slog.Logger
}

func NewBlockTracer(cfg Config, queue *uploader.Queue, log *slog.Logger) (*Tracer, error) {
	if cfg.SnapshotFormat == "" {
		cfg.SnapshotFormat = snapshot.FormatBinary
	}
	if cfg.SnapshotFormat != snapshot.FormatBinary && cfg.SnapshotFormat != snapshot.FormatText {
		return nil, fmt.Errorf("unknown snapshot format %q", cfg.SnapshotFormat)
	}
	methods, err := NewMethodCache(cfg.MethodCacheSize)
	if err != nil {
		return nil, err
	}
	return &Tracer{
		cfg:     cfg,
		enabled: atomic.NewBool(cfg.Enabled),
		blocks:  NewRegistry(),
		reads:   stateread.NewProvider(stateread.Config{Enabled: cfg.Enabled, MaxEntries: cfg.MaxReadEntries}, log),
		methods: methods,
		queue:   queue,
		log:     log,
	}, nil
}

func (t *Tracer) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
	t.reads.SetEnabled(enabled)
	t.log.Info("tracing toggled", "enabled", enabled)
}

func (t *Tracer) Enabled() bool {
	return t.enabled.Load()
}

// OnPersist opens the registries for a block about to be persisted.
func (t *Tracer) OnPersist(header stateread.Header) {
	if !t.Enabled() {
		return
	}
	if _, started := t.blocks.Begin(header, t.enabled); !started {
		t.log.Debug("block already open", "block", header.Index)
	}
	t.reads.TryBegin(header)
}

// BlockScope returns a read scope for block level work outside any transaction,
// such as native contract persistence. It is nil when the block is not traced.
func (t *Tracer) BlockScope(index uint32) *stateread.Scope {
	rec, ok := t.reads.Get(index)
	if !ok {
		return nil
	}
	return rec.NewScope(nil)
}

// BeginTransaction returns the adapter to install on the engine executing
// txHash, and the scope its storage reads must be recorded on. The adapter of
// an untraced block records nothing.
func (t *Tracer) BeginTransaction(index uint32, txHash common.Hash) (*Adapter, *stateread.Scope) {
	set, ok := t.blocks.Get(index)
	if !ok {
		if !t.Enabled() {
			return NewAdapter(NewTransactionRecorder(index, txHash, false), nil, nil, t.log), nil
		}
		set, _ = t.blocks.Begin(stateread.Header{Index: index}, t.enabled)
	}
	rec := set.GetOrCreate(txHash)
	var scope *stateread.Scope
	if rr, ok := t.reads.Get(index); ok {
		h := txHash
		scope = rr.NewScope(&h)
	}
	return NewAdapter(rec, scope, t.methods, t.log), scope
}

// OnCommit drains everything captured for index and enqueues it: the state
// snapshot and block stats on the high tier, one trace per transaction on the
// low tier. Draining twice is harmless, the second call finds nothing.
func (t *Tracer) OnCommit(ctx context.Context, index uint32) CommitSummary {
	summary := CommitSummary{BlockIndex: index}
	set, hasSet := t.blocks.Drain(index)
	reads, hasReads := t.reads.Drain(index)
	if !hasSet && !hasReads {
		return summary
	}

	enqueue := func(item uploader.Item) {
		if t.queue.Enqueue(item) {
			summary.Enqueued++
		} else {
			summary.DroppedOnQueue++
		}
	}

	if hasReads {
		summary.ReadEntries = reads.Len()
		summary.DroppedReads = reads.Dropped()
		metrics.ReadsDropped(ctx, summary.DroppedReads)
		metrics.EntriesCaptured(ctx, "read", summary.ReadEntries)

		item, err := t.snapshotItem(reads)
		if err != nil {
			t.log.Error("failed to encode state snapshot", "block", index, "err", err)
		} else {
			enqueue(item)
		}
	}

	if hasSet {
		stats := set.Stats()
		stats.DroppedReads = summary.DroppedReads
		item := uploader.NewItem(uploader.PriorityHigh, uploader.KindBlockStats, index)
		item.Record = &stats
		enqueue(item)

		for _, rec := range set.Recorders() {
			trace := rec.Trace()
			item := uploader.NewItem(uploader.PriorityLow, uploader.KindTransactionTrace, index)
			item.Record = trace
			enqueue(item)
			summary.Transactions++

			metrics.EntriesCaptured(ctx, KindOpCode.String(), trace.Stats.OpCodeCount)
			metrics.EntriesCaptured(ctx, KindSyscall.String(), trace.Stats.SyscallCount)
			metrics.EntriesCaptured(ctx, KindContractCall.String(), trace.Stats.ContractCallCount)
			metrics.EntriesCaptured(ctx, KindStorageWrite.String(), trace.Stats.StorageWriteCount)
			metrics.EntriesCaptured(ctx, KindNotification.String(), trace.Stats.NotificationCount)
		}
	}

	metrics.BlockCommitted(ctx)
	t.log.Debug("block committed",
		"block", index,
		"transactions", summary.Transactions,
		"reads", summary.ReadEntries,
		"droppedReads", summary.DroppedReads,
		"enqueued", summary.Enqueued,
		"droppedOnQueue", summary.DroppedOnQueue)
	return summary
}

func (t *Tracer) snapshotItem(reads *stateread.Recorder) (uploader.Item, error) {
	header := reads.Header()
	file := snapshot.FromReads(reads)

	var payload []byte
	switch t.cfg.SnapshotFormat {
	case snapshot.FormatText:
		var buf bytes.Buffer
		if err := snapshot.WriteText(&buf, snapshot.NewText(file, header.Hash)); err != nil {
			return uploader.Item{}, err
		}
		payload = buf.Bytes()
	default:
		data, err := snapshot.Marshal(file)
		if err != nil {
			return uploader.Item{}, err
		}
		payload = data
	}

	item := uploader.NewItem(uploader.PriorityHigh, uploader.KindSnapshot, header.Index)
	item.Payload = payload
	item.Record = &SnapshotRecord{
		BlockIndex:   header.Index,
		BlockHash:    header.Hash,
		Timestamp:    header.Timestamp,
		Format:       t.cfg.SnapshotFormat,
		EntryCount:   len(file.Entries),
		DroppedReads: reads.Dropped(),
	}
	return item, nil
}

func (t *Tracer) Status() Status {
	return Status{
		Enabled:        t.Enabled(),
		SnapshotFormat: string(t.cfg.SnapshotFormat),
		MaxReadEntries: t.reads.MaxEntries(),
		ActiveBlocks:   t.blocks.Len(),
		ActiveReads:    t.reads.Active(),
		Queue:          t.queue.Stats(),
	}
}
