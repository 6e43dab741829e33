package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/holisticode/exec-tracer/blocktrace"
	"github.com/holisticode/exec-tracer/uploader"
)

// Sink delivers queue items into a TraceStorage.
type Sink struct {
	storage TraceStorage
	log     *slog.Logger
}

var _ uploader.Sink = (*Sink)(nil)

func NewSink(storage TraceStorage, log *slog.Logger) *Sink {
	return &Sink{storage: storage, log: log}
}

func (s *Sink) Deliver(ctx context.Context, item uploader.Item) error {
	s.log.Debug("storing item", "id", item.ID, "kind", item.Kind, "block", item.BlockIndex)
	switch item.Kind {
	case uploader.KindSnapshot:
		rec, ok := item.Record.(*blocktrace.SnapshotRecord)
		if !ok || len(item.Payload) == 0 {
			return fmt.Errorf("%w: snapshot item %s has no record or payload", uploader.ErrUnsupportedItem, item.ID)
		}
		return s.storage.SaveSnapshot(ctx, rec, item.Payload)
	case uploader.KindBlockStats:
		stats, ok := item.Record.(*blocktrace.BlockStats)
		if !ok {
			return fmt.Errorf("%w: block stats item %s has record %T", uploader.ErrUnsupportedItem, item.ID, item.Record)
		}
		return s.storage.SaveBlockStats(ctx, stats)
	case uploader.KindTransactionTrace:
		trace, ok := item.Record.(*blocktrace.TransactionTrace)
		if !ok {
			return fmt.Errorf("%w: trace item %s has record %T", uploader.ErrUnsupportedItem, item.ID, item.Record)
		}
		return s.storage.SaveTransactionTrace(ctx, trace)
	default:
		return fmt.Errorf("%w: kind %q", uploader.ErrUnsupportedItem, item.Kind)
	}
}
