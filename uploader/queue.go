package uploader

import (
	"context"

	"github.com/holisticode/exec-tracer/metrics"
	"go.uber.org/atomic"
)

type tier struct {
	name      string
	ch        chan Item
	enqueued  *atomic.Uint64
	dropped   *atomic.Uint64
	delivered *atomic.Uint64
	failed    *atomic.Uint64
}

func newTier(name string, capacity int) *tier {
	return &tier{
		name:      name,
		ch:        make(chan Item, capacity),
		enqueued:  atomic.NewUint64(0),
		dropped:   atomic.NewUint64(0),
		delivered: atomic.NewUint64(0),
		failed:    atomic.NewUint64(0),
	}
}

func (t *tier) stats() TierStats {
	return TierStats{
		Pending:   len(t.ch),
		Capacity:  cap(t.ch),
		Enqueued:  t.enqueued.Load(),
		Dropped:   t.dropped.Load(),
		Delivered: t.delivered.Load(),
		Failed:    t.failed.Load(),
	}
}

func (t *tier) drop(ctx context.Context) {
	t.dropped.Inc()
	metrics.QueueDropped(ctx, t.name)
}

// Queue holds two independent bounded tiers.
type Queue struct {
	high *tier
	low  *tier
}

// NewQueue returns a queue with the given per tier capacities. A capacity
// below one is raised to one.
func NewQueue(highCapacity, lowCapacity int) *Queue {
	return &Queue{
		high: newTier(PriorityHigh.String(), max(highCapacity, 1)),
		low:  newTier(PriorityLow.String(), max(lowCapacity, 1)),
	}
}

func (q *Queue) tier(p Priority) *tier {
	if p == PriorityHigh {
		return q.high
	}
	return q.low
}

// Enqueue adds item to its tier without blocking. When the tier is full the
// item is dropped, counted and false is returned.
func (q *Queue) Enqueue(item Item) bool {
	t := q.tier(item.Priority)
	select {
	case t.ch <- item:
		t.enqueued.Inc()
		return true
	default:
		t.drop(context.Background())
		return false
	}
}

// Pending returns the number of queued items per tier.
func (q *Queue) Pending() (high, low int) {
	return len(q.high.ch), len(q.low.ch)
}

type TierStats struct {
	Pending   int    `json:"pending"`
	Capacity  int    `json:"capacity"`
	Enqueued  uint64 `json:"enqueued"`
	Dropped   uint64 `json:"dropped"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

type Stats struct {
	High TierStats `json:"high"`
	Low  TierStats `json:"low"`
}

func (q *Queue) Stats() Stats {
	return Stats{
		High: q.high.stats(),
		Low:  q.low.stats(),
	}
}
