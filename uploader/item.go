// Package uploader delivers captured artifacts to an external sink through a
// bounded, priority tiered queue that never blocks the producer.
package uploader

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type Priority int

const (
	// PriorityHigh carries block level artifacts needed for search indexing.
	PriorityHigh Priority = iota
	// PriorityLow carries detailed execution traces.
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Kind tells the sink how to interpret an item.
type Kind string

const (
	KindSnapshot         Kind = "snapshot"
	KindTransactionTrace Kind = "tx_trace"
	KindBlockStats       Kind = "block_stats"
)

// Item is one artifact waiting for delivery. Payload carries encoded bytes
// (snapshots), Record carries a structured value (traces, stats).
type Item struct {
	ID         uuid.UUID
	Priority   Priority
	Kind       Kind
	BlockIndex uint32
	Payload    []byte
	Record     any
}

// NewItem returns an item with a fresh ID.
func NewItem(priority Priority, kind Kind, blockIndex uint32) Item {
	return Item{
		ID:         uuid.New(),
		Priority:   priority,
		Kind:       kind,
		BlockIndex: blockIndex,
	}
}

// ErrUnsupportedItem is returned by sinks for items they can never accept.
// Deliveries failing with it are not retried.
var ErrUnsupportedItem = errors.New("unsupported item")

// Sink receives delivered items. Implementations may block, they run on the
// dispatcher goroutine only.
type Sink interface {
	Deliver(ctx context.Context, item Item) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, item Item) error

func (f SinkFunc) Deliver(ctx context.Context, item Item) error {
	return f(ctx, item)
}
